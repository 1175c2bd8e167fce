package introspection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

var ErrMissingSchema = errors.New("introspection result has no __schema")

var builtinScalars = map[string]struct{}{
	"String":  {},
	"Int":     {},
	"Float":   {},
	"Boolean": {},
	"ID":      {},
}

var builtinDirectives = map[string]struct{}{
	"skip":        {},
	"include":     {},
	"deprecated":  {},
	"specifiedBy": {},
	"defer":       {},
	"oneOf":       {},
}

// Converter rebuilds a schema from an introspection result.
type Converter struct{}

// Schema accepts either a full response ({"data":{"__schema":...}}) or its data member and
// returns the loaded schema together with its SDL.
func (c *Converter) Schema(data []byte) (*ast.Schema, string, error) {
	raw := gjson.GetBytes(data, "data.__schema")
	if !raw.Exists() {
		raw = gjson.GetBytes(data, "__schema")
	}
	if !raw.Exists() || raw.Type == gjson.Null {
		return nil, "", ErrMissingSchema
	}

	var schema Schema
	if err := json.Unmarshal([]byte(raw.Raw), &schema); err != nil {
		return nil, "", fmt.Errorf("failed to parse introspection json: %w", err)
	}

	w := &sdlWriter{}
	w.writeSchema(&schema)

	loaded, err := gqlparser.LoadSchema(&ast.Source{Name: "introspection", Input: w.String()})
	if err != nil {
		return nil, "", fmt.Errorf("failed to convert graphql schema: %w", err)
	}

	out := &bytes.Buffer{}
	formatter.NewFormatter(out, formatter.WithIndent("  ")).FormatSchema(loaded)
	return loaded, out.String(), nil
}

type sdlWriter struct {
	strings.Builder
}

func (w *sdlWriter) writeSchema(s *Schema) {
	query, mutation, subscription := s.TypeNames()
	w.WriteString("schema {\n")
	if query != "" {
		fmt.Fprintf(w, "  query: %s\n", query)
	}
	if mutation != "" {
		fmt.Fprintf(w, "  mutation: %s\n", mutation)
	}
	if subscription != "" {
		fmt.Fprintf(w, "  subscription: %s\n", subscription)
	}
	w.WriteString("}\n\n")

	for i := range s.Types {
		w.writeFullType(&s.Types[i])
	}
	for i := range s.Directives {
		w.writeDirective(&s.Directives[i])
	}
}

func (w *sdlWriter) writeFullType(t *FullType) {
	if strings.HasPrefix(t.Name, "__") {
		return
	}

	switch t.Kind {
	case SCALAR:
		if _, ok := builtinScalars[t.Name]; ok {
			return
		}
		w.writeDescription(t.Description, "")
		w.WriteString("scalar " + t.Name)
		if t.SpecifiedByURL != nil {
			w.WriteString(" @specifiedBy(url: " + quote(*t.SpecifiedByURL) + ")")
		}
		w.WriteString("\n\n")
	case OBJECT:
		w.writeDescription(t.Description, "")
		w.WriteString("type " + t.Name)
		w.writeImplements(t.Interfaces)
		w.writeFields(t.Fields)
	case INTERFACE:
		w.writeDescription(t.Description, "")
		w.WriteString("interface " + t.Name)
		w.writeImplements(t.Interfaces)
		w.writeFields(t.Fields)
	case UNION:
		w.writeDescription(t.Description, "")
		w.WriteString("union " + t.Name + " = ")
		for i, member := range t.PossibleTypes {
			if i > 0 {
				w.WriteString(" | ")
			}
			w.writeTypeRef(member)
		}
		w.WriteString("\n\n")
	case ENUM:
		w.writeDescription(t.Description, "")
		w.WriteString("enum " + t.Name + " {\n")
		for _, value := range t.EnumValues {
			w.writeDescription(value.Description, "  ")
			w.WriteString("  " + value.Name)
			w.writeDeprecation(value.IsDeprecated, value.DeprecationReason)
			w.WriteString("\n")
		}
		w.WriteString("}\n\n")
	case INPUTOBJECT:
		w.writeDescription(t.Description, "")
		w.WriteString("input " + t.Name + " {\n")
		for _, field := range t.InputFields {
			w.writeDescription(field.Description, "  ")
			w.WriteString("  ")
			w.writeInputValue(field)
			w.WriteString("\n")
		}
		w.WriteString("}\n\n")
	}
}

func (w *sdlWriter) writeImplements(interfaces []TypeRef) {
	for i, ref := range interfaces {
		if i == 0 {
			w.WriteString(" implements ")
		} else {
			w.WriteString(" & ")
		}
		w.writeTypeRef(ref)
	}
}

func (w *sdlWriter) writeFields(fields []Field) {
	w.WriteString(" {\n")
	for _, field := range fields {
		w.writeDescription(field.Description, "  ")
		w.WriteString("  " + field.Name)
		w.writeArguments(field.Args)
		w.WriteString(": ")
		w.writeTypeRef(field.Type)
		w.writeDeprecation(field.IsDeprecated, field.DeprecationReason)
		w.WriteString("\n")
	}
	w.WriteString("}\n\n")
}

func (w *sdlWriter) writeArguments(args []InputValue) {
	if len(args) == 0 {
		return
	}
	w.WriteString("(")
	for i, arg := range args {
		if i > 0 {
			w.WriteString(", ")
		}
		if arg.Description != "" {
			w.WriteString(quote(arg.Description) + " ")
		}
		w.writeInputValue(arg)
	}
	w.WriteString(")")
}

func (w *sdlWriter) writeInputValue(value InputValue) {
	w.WriteString(value.Name + ": ")
	w.writeTypeRef(value.Type)
	if value.DefaultValue != nil {
		w.WriteString(" = " + *value.DefaultValue)
	}
}

func (w *sdlWriter) writeTypeRef(ref TypeRef) {
	switch ref.Kind {
	case LIST:
		w.WriteString("[")
		if ref.OfType != nil {
			w.writeTypeRef(*ref.OfType)
		}
		w.WriteString("]")
	case NONNULL:
		if ref.OfType != nil {
			w.writeTypeRef(*ref.OfType)
		}
		w.WriteString("!")
	default:
		if ref.Name != nil {
			w.WriteString(*ref.Name)
		}
	}
}

func (w *sdlWriter) writeDirective(d *Directive) {
	if _, ok := builtinDirectives[d.Name]; ok {
		return
	}
	w.writeDescription(d.Description, "")
	w.WriteString("directive @" + d.Name)
	w.writeArguments(d.Args)
	if d.IsRepeatable {
		w.WriteString(" repeatable")
	}
	w.WriteString(" on " + strings.Join(d.Locations, " | ") + "\n\n")
}

func (w *sdlWriter) writeDeprecation(deprecated bool, reason *string) {
	if !deprecated {
		return
	}
	w.WriteString(" @deprecated")
	if reason != nil {
		w.WriteString("(reason: " + quote(*reason) + ")")
	}
}

func (w *sdlWriter) writeDescription(description, indent string) {
	if description == "" {
		return
	}
	w.WriteString(indent + quote(description) + "\n")
}

// quote renders s as a GraphQL string literal. JSON string escapes are a subset of the
// GraphQL ones.
func quote(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
