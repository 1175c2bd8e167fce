package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"
)

const defaultContentType = "application/octet-stream"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Operations renders the "operations" field: the request with uploads nulled out.
func (m *Manifest) Operations(query, operationName string) ([]byte, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	out, err := sjson.SetRawBytes([]byte(`{}`), "query", queryJSON)
	if err != nil {
		return nil, err
	}
	if len(m.Variables) > 0 {
		variablesJSON, err := json.Marshal(m.Variables)
		if err != nil {
			return nil, fmt.Errorf("marshal variables: %w", err)
		}
		if out, err = sjson.SetRawBytes(out, "variables", variablesJSON); err != nil {
			return nil, err
		}
	}
	if operationName != "" {
		if out, err = sjson.SetBytes(out, "operationName", operationName); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Body streams the multipart body through a pipe. The returned content type carries the
// boundary. Write errors are delivered to the reader of the body.
func (m *Manifest) Body(ctx context.Context, operations []byte) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)

	go func() {
		err := m.Write(ctx, w, operations)
		if err == nil {
			err = w.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, w.FormDataContentType()
}

// Write resolves pending uploads and writes operations, map and one part per file to w.
// It does not close w.
func (m *Manifest) Write(ctx context.Context, w *multipart.Writer, operations []byte) error {
	resolved, err := m.resolveAll(ctx)
	if err != nil {
		return err
	}

	if err := w.WriteField("operations", string(operations)); err != nil {
		return fmt.Errorf("write operations: %w", err)
	}

	mapJSON, err := json.Marshal(m.Map)
	if err != nil {
		return fmt.Errorf("marshal map: %w", err)
	}
	if err := w.WriteField("map", string(mapJSON)); err != nil {
		return fmt.Errorf("write map: %w", err)
	}

	for i, value := range resolved {
		if err := writeFile(w, strconv.Itoa(i), value); err != nil {
			return fmt.Errorf("write file %d: %w", i, err)
		}
	}
	return nil
}

// resolveAll awaits promises concurrently. Results keep the index order.
func (m *Manifest) resolveAll(ctx context.Context) ([]any, error) {
	resolved := make([]any, len(m.Files))
	g, gctx := errgroup.WithContext(ctx)
	for i, file := range m.Files {
		g.Go(func() error {
			value, err := resolve(gctx, file)
			if err != nil {
				return fmt.Errorf("resolve upload %d: %w", i, err)
			}
			resolved[i] = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func resolve(ctx context.Context, v any) (any, error) {
	switch value := v.(type) {
	case Promise:
		if value == nil {
			return nil, nil
		}
		out, err := value(ctx)
		if err != nil {
			return nil, err
		}
		return resolve(ctx, out)
	case *Upload:
		if value == nil || value.Promise == nil {
			return nil, fmt.Errorf("upload without promise")
		}
		return resolve(ctx, value.Promise)
	default:
		return v, nil
	}
}

func writeFile(w *multipart.Writer, field string, value any) error {
	switch file := value.(type) {
	case *File:
		if closer, ok := file.Reader.(io.Closer); ok {
			defer closer.Close()
		}
		part, err := createPart(w, field, firstNonEmpty(file.Name, field), file.ContentType)
		if err != nil {
			return err
		}
		if file.Reader == nil {
			return nil
		}
		_, err = io.Copy(part, file.Reader)
		return err
	case io.Reader:
		if closer, ok := file.(io.Closer); ok {
			defer closer.Close()
		}
		part, err := createPart(w, field, field, "")
		if err != nil {
			return err
		}
		_, err = io.Copy(part, file)
		return err
	case *Blob:
		part, err := createPart(w, field, firstNonEmpty(file.Filename, field), file.MimeType)
		if err != nil {
			return err
		}
		_, err = part.Write(file.Data)
		return err
	case []byte:
		part, err := createPart(w, field, field, "")
		if err != nil {
			return err
		}
		_, err = part.Write(file)
		return err
	case string:
		part, err := createPart(w, field, field, "")
		if err != nil {
			return err
		}
		_, err = io.WriteString(part, file)
		return err
	default:
		data, err := json.Marshal(file)
		if err != nil {
			return err
		}
		part, err := createPart(w, field, field, "application/json")
		if err != nil {
			return err
		}
		_, err = part.Write(data)
		return err
	}
}

func createPart(w *multipart.Writer, field, filename, contentType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", firstNonEmpty(contentType, defaultContentType))
	return w.CreatePart(h)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
