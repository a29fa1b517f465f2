// Package classify maps raw backend error text onto a closed set of error
// kinds and decides whether a backend output is a failed result.
package classify

import (
	"regexp"
	"strings"
)

// Kind is a classified backend error.
type Kind int

const (
	Unknown Kind = iota
	ColumnNotExist
	TableNotExist
	DateRangeError
	SyntaxError
)

var kindNames = map[Kind]string{
	Unknown:        "unknown",
	ColumnNotExist: "column_not_exist",
	TableNotExist:  "table_not_exist",
	DateRangeError: "date_range_error",
	SyntaxError:    "syntax_error",
}

var kindTitles = map[Kind]string{
	Unknown:        "Unknown Error",
	ColumnNotExist: "Column Not Exist",
	TableNotExist:  "Table Not Exist",
	DateRangeError: "Date Range Error",
	SyntaxError:    "Syntax Error",
}

// String returns the snake_case name used in logs and API responses.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[Unknown]
}

// Title returns a human-readable name.
func (k Kind) Title() string {
	if s, ok := kindTitles[k]; ok {
		return s
	}
	return kindTitles[Unknown]
}

// ParseKind is the inverse of String. Unrecognized names map to Unknown.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return Unknown
}

// Pattern tags a regular expression with the kind it identifies. Group is the
// capture group holding the offending token, or 0 for none.
type Pattern struct {
	Kind   Kind
	Regexp *regexp.Regexp
	Group  int
}

// DefaultPatterns is the built-in table, evaluated in order.
var DefaultPatterns = []Pattern{
	{Kind: ColumnNotExist, Regexp: regexp.MustCompile(`(?i)column "([^"]+)" does not exist`), Group: 1},
	{Kind: TableNotExist, Regexp: regexp.MustCompile(`(?i)relation "([^"]+)" does not exist`), Group: 1},
	{Kind: DateRangeError, Regexp: regexp.MustCompile(`(?i)year (-?\d+) is out of range`), Group: 1},
	{Kind: SyntaxError, Regexp: regexp.MustCompile(`(?i)syntax error at or near "([^"]+)"`), Group: 1},
}

// criticalIndicators mark a backend output as a failed query result.
var criticalIndicators = []string{
	`column "`,
	"does not exist",
	`relation "`,
	"year -",
	"is out of range",
	"syntax error",
	"UndefinedColumn",
	"UndefinedTable",
}

// Result is the outcome of Match.
type Result struct {
	Kind Kind
	// Token is the identifier or value the error complains about, if any.
	Token string
}

// Classifier evaluates an ordered pattern table, first match wins.
type Classifier struct {
	patterns []Pattern
}

// New returns a Classifier over patterns. With no patterns, DefaultPatterns
// is used.
func New(patterns ...Pattern) *Classifier {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Classifier{patterns: patterns}
}

// Match returns the kind of the first matching pattern and its token.
func (c *Classifier) Match(raw string) Result {
	for _, p := range c.patterns {
		m := p.Regexp.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		r := Result{Kind: p.Kind}
		if p.Group > 0 && p.Group < len(m) {
			r.Token = m[p.Group]
		}
		return r
	}
	return Result{Kind: Unknown}
}

// Classify returns the kind of raw error text.
func (c *Classifier) Classify(raw string) Kind {
	return c.Match(raw).Kind
}

// IsCritical reports whether output describes a failed query.
func (c *Classifier) IsCritical(output string) bool {
	return IsCritical(output)
}

var std = New()

// Classify classifies raw with the default pattern table.
func Classify(raw string) Kind { return std.Classify(raw) }

// Match matches raw against the default pattern table.
func Match(raw string) Result { return std.Match(raw) }

// IsCritical reports whether output contains any failure indicator.
func IsCritical(output string) bool {
	for _, ind := range criticalIndicators {
		if strings.Contains(output, ind) {
			return true
		}
	}
	return false
}
