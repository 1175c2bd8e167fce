// Package uploads extracts file-like values from GraphQL variables and encodes them as a
// multipart request following the GraphQL multipart request convention.
//
// The body consists of an "operations" field holding the JSON request with every upload
// replaced by null, a "map" field that maps each file field to the variable paths it belongs
// to, and one field per file named by its index.
package uploads

import (
	"context"
	"io"
)

// File is a stream-like upload.
type File struct {
	Reader      io.Reader
	Name        string
	ContentType string
}

// Blob is an in-memory upload. Filename and MimeType are optional.
type Blob struct {
	Data     []byte
	Filename string
	MimeType string
}

// Promise is a value that becomes available later. The resolved value is encoded like any
// other upload, so it may be a *File, a *Blob, an io.Reader or a plain value.
type Promise func(ctx context.Context) (any, error)

// Upload wraps a promise that resolves to the upload payload, the shape produced by
// upload scalars on the server side.
type Upload struct {
	Promise Promise
}

// Classifier reports whether a variable value has to be sent as a multipart file.
type Classifier func(v any) bool

// DefaultClassifier extracts *File, *Blob, *Upload, Promise and io.Reader values.
func DefaultClassifier(v any) bool {
	switch v.(type) {
	case *File, *Blob, *Upload, Promise, io.Reader:
		return true
	default:
		return false
	}
}

// Placeholder takes the place of an extracted value in the cloned variables.
// It refers to the index of the value in Manifest.Files and encodes as JSON null.
type Placeholder int

func (Placeholder) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}
