// Package introspection holds the introspection query sent to remote endpoints and turns
// its result back into a schema.
package introspection

// Query requests everything needed to rebuild the SDL of a remote schema. It leaves out
// specifiedByURL and isRepeatable, which older servers reject.
const Query = `query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    subscriptionType { name }
    types {
      ...FullType
    }
    directives {
      name
      description
      locations
      args {
        ...InputValue
      }
    }
  }
}

fragment FullType on __Type {
  kind
  name
  description
  fields(includeDeprecated: true) {
    name
    description
    args {
      ...InputValue
    }
    type {
      ...TypeRef
    }
    isDeprecated
    deprecationReason
  }
  inputFields {
    ...InputValue
  }
  interfaces {
    ...TypeRef
  }
  enumValues(includeDeprecated: true) {
    name
    description
    isDeprecated
    deprecationReason
  }
  possibleTypes {
    ...TypeRef
  }
}

fragment InputValue on __InputValue {
  name
  description
  type { ...TypeRef }
  defaultValue
}

fragment TypeRef on __Type {
  kind
  name
  ofType {
    kind
    name
    ofType {
      kind
      name
      ofType {
        kind
        name
        ofType {
          kind
          name
          ofType {
            kind
            name
            ofType {
              kind
              name
              ofType {
                kind
                name
              }
            }
          }
        }
      }
    }
  }
}`

type TypeKind string

const (
	SCALAR      TypeKind = "SCALAR"
	OBJECT      TypeKind = "OBJECT"
	INTERFACE   TypeKind = "INTERFACE"
	UNION       TypeKind = "UNION"
	ENUM        TypeKind = "ENUM"
	INPUTOBJECT TypeKind = "INPUT_OBJECT"
	LIST        TypeKind = "LIST"
	NONNULL     TypeKind = "NON_NULL"
)

type Data struct {
	Schema Schema `json:"__schema"`
}

type Schema struct {
	QueryType        *TypeName   `json:"queryType"`
	MutationType     *TypeName   `json:"mutationType"`
	SubscriptionType *TypeName   `json:"subscriptionType"`
	Types            []FullType  `json:"types"`
	Directives       []Directive `json:"directives"`
}

type TypeName struct {
	Name string `json:"name"`
}

// TypeNames returns the root operation type names. Missing roots are empty.
func (s *Schema) TypeNames() (query, mutation, subscription string) {
	if s.QueryType != nil {
		query = s.QueryType.Name
	}
	if s.MutationType != nil {
		mutation = s.MutationType.Name
	}
	if s.SubscriptionType != nil {
		subscription = s.SubscriptionType.Name
	}
	return
}

type FullType struct {
	Kind           TypeKind `json:"kind"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	SpecifiedByURL *string  `json:"specifiedByURL"`
	// not empty for OBJECT and INTERFACE only
	Fields []Field `json:"fields"`
	// not empty for INPUT_OBJECT only
	InputFields []InputValue `json:"inputFields"`
	// not empty for OBJECT and INTERFACE only
	Interfaces []TypeRef `json:"interfaces"`
	// not empty for ENUM only
	EnumValues []EnumValue `json:"enumValues"`
	// not empty for INTERFACE and UNION only
	PossibleTypes []TypeRef `json:"possibleTypes"`
}

type TypeRef struct {
	Kind   TypeKind `json:"kind"`
	Name   *string  `json:"name"`
	OfType *TypeRef `json:"ofType"`
}

type Field struct {
	Name              string       `json:"name"`
	Description       string       `json:"description"`
	Args              []InputValue `json:"args"`
	Type              TypeRef      `json:"type"`
	IsDeprecated      bool         `json:"isDeprecated"`
	DeprecationReason *string      `json:"deprecationReason"`
}

type EnumValue struct {
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	IsDeprecated      bool    `json:"isDeprecated"`
	DeprecationReason *string `json:"deprecationReason"`
}

type InputValue struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Type         TypeRef `json:"type"`
	DefaultValue *string `json:"defaultValue"`
}

type Directive struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Locations    []string     `json:"locations"`
	Args         []InputValue `json:"args"`
	IsRepeatable bool         `json:"isRepeatable"`
}
