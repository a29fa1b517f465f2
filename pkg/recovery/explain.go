package recovery

import (
	"fmt"
	"strings"

	"github.com/pario-ai/querygate/pkg/classify"
)

var solutions = map[classify.Kind][]string{
	classify.ColumnNotExist: {
		"Check the table's columns first",
		"Verify the column name is spelled exactly as in the schema",
		"Run `SELECT * FROM tabela LIMIT 10` to see the available columns",
	},
	classify.TableNotExist: {
		"Verify the table name",
		"List the available tables",
		"Confirm you have permission to read the table",
	},
	classify.DateRangeError: {
		"Use the standard date format YYYY-MM-DD",
		"Keep dates within a valid range",
		"Use conversion functions such as TO_DATE() or CAST()",
	},
	classify.SyntaxError: {
		"Check the SQL syntax",
		"Make sure every quote is closed",
		"Verify table and column names",
	},
}

var fallbackSolutions = []string{
	"Try a simpler question",
	"Check the SQL documentation",
}

// Explain renders a generic failure text for raw error output: the kind,
// the raw details and per-kind fixes. It is used when Suggest has nothing.
func (a *Advisor) Explain(kind classify.Kind, raw string) string {
	fixes, ok := solutions[kind]
	if !ok {
		fixes = fallbackSolutions
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Query failed:** %s\n\n", kind.Title())
	fmt.Fprintf(&b, "**Details:** %s\n\n", strings.TrimSpace(raw))
	b.WriteString("**Suggested fixes:**\n")
	for _, f := range fixes {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\n**Tips:**\n")
	b.WriteString("- Ask simpler, more specific questions\n")
	b.WriteString("- Check the table schema first\n")
	b.WriteString("- Use LIMIT to bound results\n")
	return b.String()
}
