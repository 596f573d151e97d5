package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/relquery/relquery"
)

// formatTuples renders a result stream as a markdown table, grounded on
// datalog/executor/table_formatter.go's TableFormatter: same renderer
// (tablewriter's markdown mode, no per-column alignment), same trailing
// "_N rows_" footer, adapted from a fixed Relation/Symbol-column shape to
// this engine's per-tuple Record under relquery.AnonymousSource.
func formatTuples(tuples []relquery.Tuple) string {
	if len(tuples) == 0 {
		return "_no rows_"
	}

	columns := collectColumns(tuples)
	tableString := &strings.Builder{}
	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)

	for _, t := range tuples {
		rec := t[relquery.AnonymousSource]
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = formatValue(rec[col])
		}
		table.Append(row)
	}
	table.Render()

	fmt.Fprintf(tableString, "\n_%d rows_\n", len(tuples))
	return tableString.String()
}

// collectColumns takes the union of every tuple's projected field names,
// sorted for a stable column order across runs (a Select's Record fields
// have no inherent order once they've passed through a map).
func collectColumns(tuples []relquery.Tuple) []string {
	seen := map[string]bool{}
	for _, t := range tuples {
		for k := range t[relquery.AnonymousSource] {
			seen[k] = true
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

func formatValue(val relquery.Value) string {
	if val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func heading(s string) string {
	return color.New(color.FgCyan, color.Bold).Sprint(s)
}
