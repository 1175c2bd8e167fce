package common

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// GraphQLError is a single entry of a response's "errors" list.
type GraphQLError = gqlerror.Error

type Location = gqlerror.Location

// ExecutionResult is one response, or one accumulated snapshot of an incremental response.
type ExecutionResult struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Errors     []GraphQLError  `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
	HasNext    bool            `json:"hasNext,omitempty"`
}

// Message is an element of a result sequence. A Message with Err set is always the last one.
type Message struct {
	Payload *ExecutionResult
	Err     error
	Done    bool
}

// SubscriptionError carries the errors a server sent in place of results.
type SubscriptionError struct {
	Errors []GraphQLError
}

func (e *SubscriptionError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "subscription error"
	case 1:
		return e.Errors[0].Message
	}

	var b strings.Builder
	b.WriteString(e.Errors[0].Message)
	b.WriteString(" (and ")
	b.WriteString(strconv.Itoa(len(e.Errors) - 1))
	b.WriteString(" more errors)")
	return b.String()
}
