package common

import (
	"bytes"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// Request holds the execution parameters of a single executor or subscriber call.
// A Request must not be modified once it has been handed to an executor.
type Request struct {
	// Document is the parsed operation. It may be nil when only Query is known.
	Document *ast.QueryDocument `json:"-"`

	// Query is the source text of the document.
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`

	// Context is an ambient, caller-defined value. It is never sent over the wire
	// but is visible to dynamic header specifications.
	Context any `json:"-"`
}

// NewRequest parses query and returns a Request carrying both the document and its source.
func NewRequest(query string, variables map[string]any) (*Request, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "request", Input: query})
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return &Request{
		Document:  doc,
		Query:     query,
		Variables: variables,
	}, nil
}

// Print renders the document as query text. Requests without a parsed document
// return Query unchanged.
func (r *Request) Print() string {
	if r.Document == nil {
		return r.Query
	}
	buf := &bytes.Buffer{}
	formatter.NewFormatter(buf).FormatQueryDocument(r.Document)
	return buf.String()
}

// OperationTypes lists the operation type of every top-level operation definition
// in document order. The document is parsed on demand if only Query is set.
func (r *Request) OperationTypes() ([]ast.Operation, error) {
	doc := r.Document
	if doc == nil {
		var err error
		doc, err = parser.ParseQuery(&ast.Source{Name: "request", Input: r.Query})
		if err != nil {
			return nil, fmt.Errorf("parse query: %w", err)
		}
	}
	types := make([]ast.Operation, 0, len(doc.Operations))
	for _, op := range doc.Operations {
		types = append(types, op.Operation)
	}
	return types, nil
}
