package classify

import (
	"regexp"
	"testing"
)

func TestClassifyKnownErrors(t *testing.T) {
	tests := []struct {
		raw   string
		kind  Kind
		token string
	}{
		{`column "enti_tpo" does not exist`, ColumnNotExist, "enti_tpo"},
		{`ERROR: COLUMN "Nome" DOES NOT EXIST at character 8`, ColumnNotExist, "Nome"},
		{`relation "cliente" does not exist`, TableNotExist, "cliente"},
		{`year -1 is out of range`, DateRangeError, "-1"},
		{`psycopg2: year 10000 is out of range`, DateRangeError, "10000"},
		{`syntax error at or near "FORM"`, SyntaxError, "FORM"},
		{`connection reset by peer`, Unknown, ""},
	}
	for _, tt := range tests {
		r := Match(tt.raw)
		if r.Kind != tt.kind {
			t.Errorf("Match(%q).Kind = %v, want %v", tt.raw, r.Kind, tt.kind)
		}
		if r.Token != tt.token {
			t.Errorf("Match(%q).Token = %q, want %q", tt.raw, r.Token, tt.token)
		}
		if Classify(tt.raw) != tt.kind {
			t.Errorf("Classify(%q) disagrees with Match", tt.raw)
		}
	}
}

func TestFirstMatchWins(t *testing.T) {
	// Both the column and relation patterns match; column comes first.
	raw := `column "x" does not exist; relation "y" does not exist`
	if k := Classify(raw); k != ColumnNotExist {
		t.Errorf("expected ColumnNotExist, got %v", k)
	}

	c := New(
		Pattern{Kind: TableNotExist, Regexp: regexp.MustCompile(`relation "([^"]+)"`), Group: 1},
		Pattern{Kind: ColumnNotExist, Regexp: regexp.MustCompile(`column "([^"]+)"`), Group: 1},
	)
	if r := c.Match(raw); r.Kind != TableNotExist || r.Token != "y" {
		t.Errorf("custom table order not honored: %+v", r)
	}
}

func TestIsCritical(t *testing.T) {
	critical := []string{
		`Error: column "foo" does not exist`,
		"the table does not exist",
		"psycopg2.errors.UndefinedTable: ...",
		"year -5 is out of range",
		"syntax error near SELECT",
	}
	for _, s := range critical {
		if !IsCritical(s) {
			t.Errorf("expected %q to be critical", s)
		}
	}

	clean := []string{
		"There are 42 clients registered.",
		"",
		"Column enti_nome holds the entity name.",
	}
	for _, s := range clean {
		if IsCritical(s) {
			t.Errorf("expected %q not to be critical", s)
		}
	}
}

func TestKindNames(t *testing.T) {
	if ColumnNotExist.String() != "column_not_exist" {
		t.Errorf("unexpected name %q", ColumnNotExist.String())
	}
	if DateRangeError.Title() != "Date Range Error" {
		t.Errorf("unexpected title %q", DateRangeError.Title())
	}
	if Kind(42).String() != "unknown" {
		t.Error("out of range kinds should report unknown")
	}
	for k := range kindNames {
		if ParseKind(k.String()) != k {
			t.Errorf("ParseKind(%q) did not round trip", k.String())
		}
	}
}
