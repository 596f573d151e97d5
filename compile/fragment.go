// Package compile implements the expression compiler and term decomposition
// of spec.md §4.1/§4.2: stitching a template fragment plus its substitution
// array into parseable source, running the four rewrite passes over the
// parsed tree, and splitting/merging the result into dependency-keyed Terms.
//
// Grounded on function_parser.go (a dedicated pass over an
// already-parsed tree rather than a textual macro expansion) and on
// query/predicate.go's Term/RequiredSymbols composition, generalized from
// single comparisons to arbitrary conjunctive terms.
package compile

import (
	"fmt"
	"strings"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/host/expr"
)

// Fragment is the Go encoding of "template plus substitution array" (spec.md
// Design Note 1): Parts has one more element than Subs, and rendering
// interleaves them, inserting a $$subs[i] hole between Parts[i] and
// Parts[i+1]. A plain string with no interpolation is Fragment{Parts:
// []string{source}}.
type Fragment struct {
	Parts []string
	Subs  []relquery.Value
}

// Plain builds a Fragment from a source string with no substitutions.
func Plain(source string) Fragment {
	return Fragment{Parts: []string{source}}
}

// Render stitches the fragment into a single source string, replacing each
// substitution slot with a literal "$$subs[i]" reference (spec.md §4.1 step
// 1). i indexes into Subs directly — callers merging fragments from
// multiple TermGroups must re-index Subs first (see TermGroups.Merge).
func (f Fragment) Render() (string, error) {
	if len(f.Parts) == 0 {
		return "", fmt.Errorf("compile: fragment has no parts")
	}
	if len(f.Parts) != len(f.Subs)+1 {
		return "", fmt.Errorf("compile: fragment has %d parts but %d substitutions (want parts = subs+1)", len(f.Parts), len(f.Subs))
	}
	var sb strings.Builder
	for i, part := range f.Parts {
		sb.WriteString(part)
		if i < len(f.Subs) {
			fmt.Fprintf(&sb, "$$subs[%d]", i)
		}
	}
	return sb.String(), nil
}

// Parse renders and parses the fragment into a raw (unrewritten) AST.
func (f Fragment) Parse() (expr.Node, error) {
	source, err := f.Render()
	if err != nil {
		return nil, err
	}
	return expr.Parse(source)
}
