package uploads

import (
	"slices"
	"strconv"
)

// Manifest is the result of extracting uploads from a variables tree. It is built once per
// request and discarded after the body has been written.
type Manifest struct {
	// Variables is a clone of the input with every upload replaced by a Placeholder.
	Variables map[string]any
	// Files holds the extracted values, indexed by placeholder.
	Files []any
	// Map maps the multipart field name of each file to the variable paths it was found at.
	Map map[string][]string
}

// Len returns the number of extracted values.
func (m *Manifest) Len() int {
	return len(m.Files)
}

// Extract walks variables depth first and moves every value classify accepts into the
// manifest. Object keys are visited in sorted order so indices are stable for a given input.
// The same pointer found at several positions is extracted once.
func Extract(variables map[string]any, classify Classifier) *Manifest {
	if classify == nil {
		classify = DefaultClassifier
	}
	e := &extractor{
		classify: classify,
		seen:     make(map[any]int),
		manifest: &Manifest{Map: make(map[string][]string)},
	}
	e.path.pushObjectPath(variablesPropertyName)
	e.manifest.Variables = e.object(variables)
	return e.manifest
}

// HasUploads reports whether variables contain at least one extractable value.
func HasUploads(variables map[string]any, classify Classifier) bool {
	if classify == nil {
		classify = DefaultClassifier
	}
	return containsUpload(variables, classify)
}

func containsUpload(v any, classify Classifier) bool {
	if classify(v) {
		return true
	}
	switch value := v.(type) {
	case map[string]any:
		for _, item := range value {
			if containsUpload(item, classify) {
				return true
			}
		}
	case []any:
		for _, item := range value {
			if containsUpload(item, classify) {
				return true
			}
		}
	}
	return false
}

type extractor struct {
	classify Classifier
	seen     map[any]int
	path     path
	manifest *Manifest
}

func (e *extractor) object(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make(map[string]any, len(in))
	for _, k := range keys {
		e.path.pushObjectPath([]byte(k))
		out[k] = e.value(in[k])
		e.path.popPath()
	}
	return out
}

func (e *extractor) value(v any) any {
	if e.classify(v) {
		return e.extract(v)
	}
	switch value := v.(type) {
	case map[string]any:
		return e.object(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			e.path.pushArrayPath(i)
			out[i] = e.value(item)
			e.path.popPath()
		}
		return out
	default:
		return v
	}
}

func (e *extractor) extract(v any) Placeholder {
	key, comparable := identity(v)
	if comparable {
		if index, ok := e.seen[key]; ok {
			e.addPath(index)
			return Placeholder(index)
		}
	}

	index := len(e.manifest.Files)
	e.manifest.Files = append(e.manifest.Files, v)
	if comparable {
		e.seen[key] = index
	}
	e.addPath(index)
	return Placeholder(index)
}

func (e *extractor) addPath(index int) {
	field := strconv.Itoa(index)
	e.manifest.Map[field] = append(e.manifest.Map[field], e.path.render())
}

// identity returns a map key for values that can be deduplicated by pointer.
func identity(v any) (any, bool) {
	switch v.(type) {
	case *File, *Blob, *Upload:
		return v, true
	default:
		return nil, false
	}
}
