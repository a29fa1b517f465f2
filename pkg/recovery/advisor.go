// Package recovery turns classified backend errors into corrective guidance:
// what went wrong, which identifier to use instead and an example statement
// that works against the known schema.
//
// Texts produced here never contain the failure indicators recognized by
// package classify, so a recovered answer is safe to cache.
package recovery

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/pario-ai/querygate/pkg/classify"
)

// Advisor builds recovery texts from a Catalog. It holds no mutable state.
type Advisor struct {
	catalog *Catalog
}

// New returns an Advisor over catalog, or over DefaultCatalog when nil.
func New(catalog *Catalog) *Advisor {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Advisor{catalog: catalog}
}

// Suggest returns recovery text for a classified error. question is the
// caller's original question and selects domain-specific date templates.
// SyntaxError and Unknown have no automatic recovery.
func (a *Advisor) Suggest(kind classify.Kind, raw, question string) (string, bool) {
	switch kind {
	case classify.ColumnNotExist:
		token := classify.Match(raw).Token
		if token == "" {
			return "", false
		}
		return a.suggestColumn(token), true
	case classify.TableNotExist:
		return a.listTables(), true
	case classify.DateRangeError:
		return suggestDate(question), true
	default:
		return "", false
	}
}

func (a *Advisor) suggestColumn(wrong string) string {
	right, ok := a.catalog.Correct(wrong)
	if !ok {
		return a.listColumns(wrong)
	}

	tables := a.catalog.TablesFor(right)
	var b strings.Builder
	fmt.Fprintf(&b, "**Automatic correction found**\n\n")
	fmt.Fprintf(&b, "`%s` is not a known column; the matching column is `%s` (table: %s).\n\n",
		wrong, right, strings.Join(tables, "/"))
	fmt.Fprintf(&b, "Use `%s` instead of `%s`.\n\n", right, wrong)
	fmt.Fprintf(&b, "**Corrected example:**\n```sql\nSELECT %s, COUNT(*)\nFROM %s\nGROUP BY %s\nLIMIT 10;\n```\n",
		right, tables[0], right)

	if t, ok := a.catalog.Table(tables[0]); ok {
		fmt.Fprintf(&b, "\n**Columns in %s:**\n", t.Name)
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Description)
		}
	}
	return b.String()
}

func (a *Advisor) listColumns(wrong string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Column `%s` was not found**\n\n**Known columns by table:**\n", wrong)
	for _, t := range a.catalog.Tables {
		names := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			names[i] = c.Name
		}
		fmt.Fprintf(&b, "\n**%s:** %s\n", t.Name, strings.Join(names, ", "))
	}
	if ident, canonical, ok := a.closest(wrong); ok {
		if ident == canonical {
			fmt.Fprintf(&b, "\nClosest known column: `%s` (table: %s).\n",
				canonical, strings.Join(a.catalog.TablesFor(canonical), "/"))
		} else {
			fmt.Fprintf(&b, "\nClosest known identifier: `%s`, stored as `%s` (table: %s).\n",
				ident, canonical, strings.Join(a.catalog.TablesFor(canonical), "/"))
		}
	}
	b.WriteString("\nUse exactly these column names in queries.\n")
	return b.String()
}

func (a *Advisor) listTables() string {
	var b strings.Builder
	b.WriteString("**Known tables:**\n")
	for _, t := range a.catalog.Tables {
		names := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			names[i] = c.Name
		}
		fmt.Fprintf(&b, "\n- **%s**: %s\n  Columns: %s\n", t.Name, t.Description, strings.Join(names, ", "))
	}
	b.WriteString("\n**Example:**\n```sql\n")
	b.WriteString("SELECT enti_tipo_enti, COUNT(*) AS quantidade\nFROM entidades\nGROUP BY enti_tipo_enti\nORDER BY quantidade DESC;\n")
	b.WriteString("```\n")
	return b.String()
}

// closest finds the known identifier nearest to wrong. Identifiers that
// contain wrong as a subsequence (or are contained by it) rank first, by
// length difference; otherwise the edit distance must stay within a third
// of the identifier's length.
func (a *Advisor) closest(wrong string) (ident, canonical string, ok bool) {
	wrong = strings.ToLower(wrong)
	bestSub, bestEdit := -1, -1
	var subIdent, subCanon, editIdent, editCanon string

	for _, pair := range a.catalog.identifiers() {
		cand := strings.ToLower(pair[0])
		if cand == wrong {
			continue
		}
		if isSubsequence(wrong, cand) || (len(cand) >= 4 && isSubsequence(cand, wrong)) {
			d := abs(len(cand) - len(wrong))
			if bestSub < 0 || d < bestSub {
				bestSub, subIdent, subCanon = d, pair[0], pair[1]
			}
			continue
		}
		d := levenshtein.ComputeDistance(wrong, cand)
		limit := max(1, len(wrong)/3)
		if d <= limit && (bestEdit < 0 || d < bestEdit) {
			bestEdit, editIdent, editCanon = d, pair[0], pair[1]
		}
	}
	switch {
	case bestSub >= 0 && len(wrong) >= 3:
		return subIdent, subCanon, true
	case bestEdit >= 0:
		return editIdent, editCanon, true
	}
	return "", "", false
}

func isSubsequence(short, long string) bool {
	if len(short) == 0 || len(short) > len(long) {
		return false
	}
	i := 0
	for j := 0; j < len(long) && i < len(short); j++ {
		if short[i] == long[j] {
			i++
		}
	}
	return i == len(short)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// DescribeTable returns the DDL form of a known table.
func (a *Advisor) DescribeTable(name string) (string, bool) {
	t, ok := a.catalog.Table(name)
	if !ok {
		return "", false
	}
	var b strings.Builder
	writeDDL(&b, t)
	return b.String(), true
}

// Schema describes the named tables, or every known table when none are
// given. Unknown names are reported in place and listed against the known
// tables.
func (a *Advisor) Schema(tables ...string) string {
	if len(tables) == 0 {
		for _, t := range a.catalog.Tables {
			tables = append(tables, t.Name)
		}
	}

	var b strings.Builder
	b.WriteString("## Database structure\n")
	for _, name := range tables {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		fmt.Fprintf(&b, "\n### Table: %s\n", name)
		t, ok := a.catalog.Table(name)
		if !ok {
			fmt.Fprintf(&b, "*Table %s is not in the catalog. Known tables: %s.*\n", name, strings.Join(a.tableNames(), ", "))
			continue
		}
		if t.Description != "" {
			fmt.Fprintf(&b, "%s\n", t.Description)
		}
		writeDDL(&b, t)
	}
	return b.String()
}

func (a *Advisor) tableNames() []string {
	names := make([]string, len(a.catalog.Tables))
	for i, t := range a.catalog.Tables {
		names[i] = t.Name
	}
	return names
}

func writeDDL(b *strings.Builder, t Table) {
	fmt.Fprintf(b, "```sql\nCREATE TABLE %s (\n", t.Name)
	for i, c := range t.Columns {
		b.WriteString("    " + c.Name)
		if c.Type != "" {
			b.WriteString(" " + c.Type)
		}
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		if c.Description != "" {
			b.WriteString(" -- " + c.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(");\n```\n")
}
