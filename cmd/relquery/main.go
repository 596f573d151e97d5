// Command relquery is a small interactive demo of package builder over an
// in-memory (or optionally badger-backed) store, grounded on
// cmd/datalog/main.go: the same flag surface (-db, -i, -query, -verbose)
// and the same demo/interactive/single-query modes, adapted from Datalog's
// [:find ?x :where ...] query strings to this engine's Fragment predicate
// syntax filtering a single seeded "people" source.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/builder"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rqlog"
	"github.com/relquery/relquery/store"
	"github.com/relquery/relquery/store/kvbadger"
	"github.com/relquery/relquery/store/kvmem"
	"github.com/relquery/relquery/trace"
)

func main() {
	var dbPath string
	var interactive bool
	var help bool
	var verbose bool
	var queryStr string

	flag.StringVar(&dbPath, "db", "", "badger database path (default: in-memory)")
	flag.BoolVar(&interactive, "i", false, "interactive mode")
	flag.BoolVar(&help, "h", false, "show help")
	flag.BoolVar(&verbose, "verbose", false, "verbose mode (show finalize/transaction tracing)")
	flag.StringVar(&queryStr, "query", "", "run a single predicate against the people source and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "A relational query engine demo over a seeded \"people\" source.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                          # run the demo query set\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i                       # interactive predicate prompt\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -query 'p.age > 25'      # run a single predicate\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -db ./people.db -verbose # badger-backed, traced\n", os.Args[0])
	}
	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(0)
	}

	backend, closeFn, err := openStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	if err := seedDemo(backend); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed demo data: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	tc := trace.NewContext(nil)
	if verbose {
		formatter := trace.NewOutputFormatter(os.Stderr)
		tc = trace.NewContext(formatter.Handle)
	}

	switch {
	case queryStr != "":
		runOne(backend, tc, log, queryStr)
	case interactive:
		runInteractive(backend, tc, log)
	default:
		runDemo(backend, tc, log)
	}
}

// openStore returns an in-memory kvmem.Store when path is empty, otherwise
// a badger-backed kvbadger.Store rooted at path (spec.md §6.3's two
// reference backends).
func openStore(path string) (store.Store, func() error, error) {
	if path == "" {
		s := kvmem.New()
		return s, s.Close, nil
	}
	s, err := kvbadger.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// seedDemo declares the "people" source and loads three rows directly
// through the store's native Tx/Source surface (spec.md §6.3), mirroring
// how cmd/datalog's runDemo adds datoms before ever issuing a query.
func seedDemo(backend store.Store) error {
	type declarer interface {
		Declare(spec store.SourceSpec)
	}
	backend.(declarer).Declare(store.SourceSpec{Name: "people", AutoIncrement: true})

	ctx := context.Background()
	tx, err := backend.OpenTx(ctx, []string{"people"}, plan.ReadWrite)
	if err != nil {
		return err
	}
	src, err := tx.(store.Tx).Source("people")
	if err != nil {
		return err
	}

	rows := []relquery.Record{
		{"name": "Alice", "age": 30.0, "city": "New York"},
		{"name": "Bob", "age": 25.0, "city": "Boston"},
		{"name": "Charlie", "age": 35.0, "city": "New York"},
	}
	for _, r := range rows {
		if _, err := src.Add(ctx, r, nil); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func peopleSource(backend store.Store) map[string]plan.SourceData {
	return map[string]plan.SourceData{"p": store.Bind(backend, "people")}
}

var demoQueries = []string{
	"p.age > 20",
	`p.city === "New York"`,
	"p.age > 28",
}

func runDemo(backend store.Store, tc trace.Context, log *logrus.Logger) {
	fmt.Println(heading("=== relquery demo ==="))
	for _, q := range demoQueries {
		runOne(backend, tc, log, q)
	}
}

func runOne(backend store.Store, tc trace.Context, log *logrus.Logger, predicate string) {
	fmt.Printf("\n%s %s\n", heading("query:"), predicate)
	b := builder.New().
		WithTrace(tc).
		WithLog(rqlog.New(log, "relquery")).
		From(peopleSource(backend)).
		Where(compile.Plain(predicate)).
		Select(compile.Plain("{name: p.name, age: p.age, city: p.city}"))

	var rows []relquery.Tuple
	err := b.ForEach(context.Background(), nil, func(t relquery.Tuple) error {
		rows = append(rows, t)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Print(formatTuples(rows))
}

func runInteractive(backend store.Store, tc trace.Context, log *logrus.Logger) {
	fmt.Println(heading("=== relquery interactive ==="))
	fmt.Println("Enter a predicate over p.name/p.age/p.city, or .exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == ".exit" {
			return
		}
		runOne(backend, tc, log, line)
	}
}
