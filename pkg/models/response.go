package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResponseKind tags the shape of a Response.
type ResponseKind string

const (
	ResponseText       ResponseKind = "text"
	ResponseStructured ResponseKind = "structured"
)

// Response is the payload produced by the query backend. It is either plain
// text or a structured document; callers switch on Kind rather than probing.
type Response struct {
	kind ResponseKind
	text string
	data map[string]any
}

// TextResponse wraps a textual backend answer.
func TextResponse(s string) Response {
	return Response{kind: ResponseText, text: s}
}

// StructuredResponse wraps a structured backend answer.
func StructuredResponse(data map[string]any) Response {
	return Response{kind: ResponseStructured, data: data}
}

// Kind reports which variant the response holds. The zero Response is an
// empty text response.
func (r Response) Kind() ResponseKind {
	if r.kind == "" {
		return ResponseText
	}
	return r.kind
}

// Text returns the text variant.
func (r Response) Text() (string, bool) {
	if r.Kind() != ResponseText {
		return "", false
	}
	return r.text, true
}

// Structured returns the structured variant.
func (r Response) Structured() (map[string]any, bool) {
	if r.Kind() != ResponseStructured {
		return nil, false
	}
	return r.data, true
}

// Empty reports whether the response carries no content: no fields, or text
// that is blank after trimming.
func (r Response) Empty() bool {
	switch r.Kind() {
	case ResponseStructured:
		return len(r.data) == 0
	default:
		return strings.TrimSpace(r.text) == ""
	}
}

// Render returns a human-readable form: the text itself, or indented JSON
// for structured responses.
func (r Response) Render() string {
	switch r.Kind() {
	case ResponseStructured:
		b, err := json.MarshalIndent(r.data, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", r.data)
		}
		return string(b)
	default:
		return r.text
	}
}

type responseJSON struct {
	Kind ResponseKind   `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// MarshalJSON encodes the response with an explicit kind tag.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(responseJSON{Kind: r.Kind(), Text: r.text, Data: r.data})
}

// UnmarshalJSON decodes a tagged response.
func (r *Response) UnmarshalJSON(b []byte) error {
	var raw responseJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case ResponseText, "":
		*r = TextResponse(raw.Text)
	case ResponseStructured:
		*r = StructuredResponse(raw.Data)
	default:
		return fmt.Errorf("unknown response kind %q", raw.Kind)
	}
	return nil
}
