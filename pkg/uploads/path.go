package uploads

import (
	"bytes"
	"strconv"
)

var variablesPropertyName = []byte("variables")

type path struct {
	items []pathItem
}

type pathItemKind int

const (
	pathItemKindObject pathItemKind = iota
	pathItemKindArray
)

type pathItem struct {
	kind       pathItemKind
	name       []byte
	arrayIndex int
}

// render produces the multipart map notation, e.g. variables.files.0
func (p *path) render() string {
	out := &bytes.Buffer{}
	for i, item := range p.items {
		if i > 0 {
			out.WriteString(".")
		}
		out.Write(item.name)
		if item.kind == pathItemKindArray {
			out.WriteString(strconv.Itoa(item.arrayIndex))
		}
	}
	return out.String()
}

func (p *path) pushObjectPath(name []byte) {
	p.items = append(p.items, pathItem{
		kind: pathItemKindObject,
		name: name,
	})
}

func (p *path) pushArrayPath(index int) {
	p.items = append(p.items, pathItem{
		kind:       pathItemKindArray,
		arrayIndex: index,
	})
}

func (p *path) popPath() {
	p.items = p.items[:len(p.items)-1]
}
