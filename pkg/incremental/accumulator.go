// Package incremental folds incremental GraphQL responses (@defer, @stream) into one result.
//
// A server answering with multipart/mixed sends an initial payload followed by subsequent
// payloads. Subsequent payloads either carry a path that locates where their data belongs or,
// in the newer format, an "incremental" list of such entries. Every payload is applied to one
// Accumulator and a snapshot of the accumulated result is emitted after each of them.
package incremental

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

var ErrMalformedChunk = errors.New("malformed incremental chunk")

// Chunk is one payload of an incremental response.
type Chunk struct {
	Path        []any                 `json:"path,omitempty"`
	Data        json.RawMessage       `json:"data,omitempty"`
	Items       []json.RawMessage     `json:"items,omitempty"`
	Errors      []common.GraphQLError `json:"errors,omitempty"`
	Extensions  map[string]any        `json:"extensions,omitempty"`
	HasNext     *bool                 `json:"hasNext,omitempty"`
	Label       string                `json:"label,omitempty"`
	Incremental []Chunk               `json:"incremental,omitempty"`
}

// ParseChunk decodes a single payload. Numbers are kept as json.Number.
func ParseChunk(data []byte) (*Chunk, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var chunk Chunk
	if err := dec.Decode(&chunk); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedChunk, err)
	}
	return &chunk, nil
}

// Accumulator holds the result of one streaming call. It is not safe for concurrent use.
type Accumulator struct {
	data       any
	errors     []common.GraphQLError
	extensions map[string]any
	hasNext    bool
}

// Apply folds chunk into the accumulated result.
//
// A chunk with a path deep-merges its data at that path and appends its errors. A chunk
// without a path replaces data and errors, but only those it actually carries. Data merged
// earlier is never removed by a later chunk that does not mention it.
func (a *Accumulator) Apply(chunk *Chunk) error {
	if chunk.HasNext != nil {
		a.hasNext = *chunk.HasNext
	}
	if len(chunk.Extensions) > 0 {
		if a.extensions == nil {
			a.extensions = make(map[string]any, len(chunk.Extensions))
		}
		maps.Copy(a.extensions, chunk.Extensions)
	}

	if chunk.Path == nil {
		if chunk.Data != nil {
			value, err := decode(chunk.Data)
			if err != nil {
				return err
			}
			a.data = value
		}
		if chunk.Errors != nil {
			a.errors = append([]common.GraphQLError(nil), chunk.Errors...)
		}
	} else {
		if err := a.applyAtPath(chunk); err != nil {
			return err
		}
	}

	for i := range chunk.Incremental {
		entry := chunk.Incremental[i]
		if entry.Path == nil {
			// entries of the incremental list always have a path, the root included
			entry.Path = []any{}
		}
		entry.HasNext = nil
		if err := a.Apply(&entry); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accumulator) applyAtPath(chunk *Chunk) error {
	if chunk.Data != nil {
		value, err := decode(chunk.Data)
		if err != nil {
			return err
		}
		if value != nil {
			a.data, err = setPath(a.data, chunk.Path, value)
			if err != nil {
				return err
			}
		}
	}

	if len(chunk.Items) > 0 {
		if len(chunk.Path) == 0 {
			return fmt.Errorf("%w: items without list index", ErrMalformedChunk)
		}
		base := chunk.Path[:len(chunk.Path)-1]
		start, ok := index(chunk.Path[len(chunk.Path)-1])
		if !ok {
			return fmt.Errorf("%w: items path must end with an index", ErrMalformedChunk)
		}
		for i, raw := range chunk.Items {
			value, err := decode(raw)
			if err != nil {
				return err
			}
			itemPath := append(append([]any(nil), base...), start+i)
			if a.data, err = setPath(a.data, itemPath, value); err != nil {
				return err
			}
		}
	}

	a.errors = append(a.errors, chunk.Errors...)
	return nil
}

// Snapshot returns an immutable copy of the accumulated result.
func (a *Accumulator) Snapshot() (*common.ExecutionResult, error) {
	out := &common.ExecutionResult{HasNext: a.hasNext}
	if a.data != nil {
		data, err := json.Marshal(a.data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		out.Data = data
	}
	if len(a.errors) > 0 {
		out.Errors = append([]common.GraphQLError(nil), a.errors...)
	}
	if len(a.extensions) > 0 {
		out.Extensions = maps.Clone(a.extensions)
	}
	return out, nil
}

func decode(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedChunk, err)
	}
	return value, nil
}

// setPath merges value into node at path. Missing or scalar intermediates are replaced by
// containers matching the path segment.
func setPath(node any, path []any, value any) (any, error) {
	if len(path) == 0 {
		return mergeDeep(node, value), nil
	}

	if key, ok := path[0].(string); ok {
		obj, isObject := node.(map[string]any)
		if !isObject {
			obj = make(map[string]any)
		}
		child, err := setPath(obj[key], path[1:], value)
		if err != nil {
			return nil, err
		}
		obj[key] = child
		return obj, nil
	}

	i, ok := index(path[0])
	if !ok || i < 0 {
		return nil, fmt.Errorf("%w: invalid path segment %v", ErrMalformedChunk, path[0])
	}
	list, _ := node.([]any)
	for len(list) <= i {
		list = append(list, nil)
	}
	child, err := setPath(list[i], path[1:], value)
	if err != nil {
		return nil, err
	}
	list[i] = child
	return list, nil
}

func mergeDeep(dst, src any) any {
	dstObject, ok := dst.(map[string]any)
	if !ok {
		return src
	}
	srcObject, ok := src.(map[string]any)
	if !ok {
		return src
	}
	for k, v := range srcObject {
		dstObject[k] = mergeDeep(dstObject[k], v)
	}
	return dstObject
}

func index(segment any) (int, bool) {
	switch v := segment.(type) {
	case int:
		return v, true
	case float64:
		return int(v), v == float64(int(v))
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
