package models

import (
	"os"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrNoClassNames is returned when a names document holds no class names.
var ErrNoClassNames = errors.New("no class names found")

// ClassTable maps class indices to human-readable labels.
//
// Tables are immutable after construction and safe for concurrent use. The
// zero value is an empty table.
type ClassTable struct {
	// Family identifies where the labels came from.
	Family Family
	names  map[int]string
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewClassTable builds a table from an index->name map.
func NewClassTable(family Family, names map[int]string) *ClassTable {
	t := &ClassTable{
		Family:    family,
		names:     make(map[int]string, len(names)),
		nameToIdx: make(map[string]int, len(names)),
	}
	for idx, name := range names {
		t.names[idx] = name
		t.nameToIdx[name] = idx
	}
	return t
}

// ClassTableFromNames builds a table where names[i] is class i.
func ClassTableFromNames(family Family, names []string) *ClassTable {
	m := make(map[int]string, len(names))
	for i, name := range names {
		m[i] = name
	}
	return NewClassTable(family, m)
}

// ClassName returns the class name for an index.
func (t *ClassTable) ClassName(index int) (string, bool) {
	if t == nil {
		return "", false
	}
	name, ok := t.names[index]
	return name, ok
}

// Index returns the class index for a name.
func (t *ClassTable) Index(name string) (int, bool) {
	if t == nil {
		return -1, false
	}
	idx, ok := t.nameToIdx[name]
	return idx, ok
}

// Len returns the number of classes in the table.
func (t *ClassTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Names returns the class names ordered by index.
func (t *ClassTable) Names() []string {
	if t == nil {
		return nil
	}
	idx := make([]int, 0, len(t.names))
	for i := range t.names {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]string, len(idx))
	for i, k := range idx {
		out[i] = t.names[k]
	}
	return out
}

// LoadClassTable reads class names from a YAML or JSON file.
//
// The file may be an Ultralytics dataset description with a "names" key, or
// just the names themselves. Names can be a list (index = position) or a map
// from index to name.
//
// Arguments:
//   - path: Path to the names file.
//
// Returns:
//   - *ClassTable: The loaded table, with FamilyCustom.
//   - error: Non-nil if the file cannot be read or holds no names.
//
// Example:
//
// ```yaml
//
//	names:
//	  0: Loose Joint Faulty
//	  1: Loose Joint Potentially Faulty
//
// ```
func LoadClassTable(path string) (*ClassTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read class names %s", path)
	}
	names, err := ParseClassNames(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse class names %s", path)
	}
	return NewClassTable(FamilyCustom, names), nil
}

// ParseClassNames decodes class names from YAML, JSON, or the Python dict
// literal Ultralytics stores in ONNX metadata ("{0: 'person', 1: 'car'}").
func ParseClassNames(data []byte) (map[int]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid names document")
	}
	if len(doc.Content) == 0 {
		return nil, ErrNoClassNames
	}

	node := doc.Content[0]
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "names" {
				node = node.Content[i+1]
				break
			}
		}
	}

	names := make(map[int]string)
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return nil, errors.Wrap(err, "names list must hold strings")
		}
		for i, name := range list {
			names[i] = name
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			idx, err := strconv.Atoi(node.Content[i].Value)
			if err != nil {
				return nil, errors.Wrapf(err, "class key %q is not an index", node.Content[i].Value)
			}
			names[idx] = node.Content[i+1].Value
		}
	default:
		return nil, ErrNoClassNames
	}

	if len(names) == 0 {
		return nil, ErrNoClassNames
	}
	return names, nil
}
