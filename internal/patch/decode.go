package patch

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeyValue is one ordered assignment from a payload mapping.
type KeyValue struct {
	Key   string
	Value string
}

// issues accumulates decode problems so a manifest reports all of them at once.
type issues []string

func (is *issues) addf(format string, args ...any) {
	*is = append(*is, fmt.Sprintf(format, args...))
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// object is a yaml mapping with its key order preserved.
type object struct {
	keys   []string
	values map[string]*yaml.Node
}

func asObject(n *yaml.Node) (*object, bool) {
	n = resolveAlias(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, false
	}
	o := &object{values: make(map[string]*yaml.Node)}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		if _, seen := o.values[k]; !seen {
			o.keys = append(o.keys, k)
		}
		o.values[k] = resolveAlias(n.Content[i+1])
	}
	return o, true
}

func (o *object) get(key string) (*yaml.Node, bool) {
	n, ok := o.values[key]
	if !ok || isNull(n) {
		return nil, false
	}
	return n, true
}

// unknown reports keys outside allowed.
func (o *object) unknown(is *issues, allowed ...string) {
	known := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		known[k] = true
	}
	var extra []string
	for _, k := range o.keys {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		is.addf("unknown field %q", k)
	}
}

func (o *object) requireString(key string, is *issues) string {
	n, ok := o.get(key)
	if !ok {
		is.addf("missing %q", key)
		return ""
	}
	if n.Kind != yaml.ScalarNode {
		is.addf("%q must be a string", key)
		return ""
	}
	if strings.TrimSpace(n.Value) == "" {
		is.addf("%q must not be empty", key)
		return ""
	}
	return n.Value
}

func (o *object) optionalString(key string, is *issues) (string, bool) {
	n, ok := o.get(key)
	if !ok {
		return "", false
	}
	if n.Kind != yaml.ScalarNode {
		is.addf("%q must be a string", key)
		return "", false
	}
	return n.Value, true
}

// stringList accepts a single scalar or a sequence of scalars.
func (o *object) stringList(key string, is *issues) []string {
	n, ok := o.get(key)
	if !ok {
		return nil
	}
	return nodeStrings(n, key, is)
}

func nodeStrings(n *yaml.Node, key string, is *issues) []string {
	switch n.Kind {
	case yaml.ScalarNode:
		return []string{n.Value}
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for i, item := range n.Content {
			item = resolveAlias(item)
			if item.Kind != yaml.ScalarNode {
				is.addf("%s[%d] must be a string", key, i)
				continue
			}
			out = append(out, item.Value)
		}
		return out
	default:
		is.addf("%q must be a string or a list of strings", key)
		return nil
	}
}

// stringMap decodes a mapping of scalars in declaration order.
func (o *object) stringMap(key string, is *issues) []KeyValue {
	n, ok := o.get(key)
	if !ok {
		return nil
	}
	m, ok := asObject(n)
	if !ok {
		is.addf("%q must be a mapping", key)
		return nil
	}
	out := make([]KeyValue, 0, len(m.keys))
	for _, k := range m.keys {
		v := m.values[k]
		switch {
		case isNull(v):
			out = append(out, KeyValue{Key: k})
		case v.Kind == yaml.ScalarNode:
			out = append(out, KeyValue{Key: k, Value: v.Value})
		default:
			is.addf("%s.%s must be a scalar", key, k)
		}
	}
	return out
}

func (o *object) optionalInt(key string, def int, is *issues) int {
	n, ok := o.get(key)
	if !ok {
		return def
	}
	var v int
	if n.Kind != yaml.ScalarNode || n.Decode(&v) != nil {
		is.addf("%q must be an integer", key)
		return def
	}
	return v
}

func (o *object) optionalBool(key string, def bool, is *issues) bool {
	n, ok := o.get(key)
	if !ok {
		return def
	}
	var v bool
	if n.Kind != yaml.ScalarNode || n.Decode(&v) != nil {
		is.addf("%q must be a boolean", key)
		return def
	}
	return v
}

// list returns the items of a sequence field.
func (o *object) list(key string, is *issues) []*yaml.Node {
	n, ok := o.get(key)
	if !ok {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		is.addf("%q must be a list", key)
		return nil
	}
	out := make([]*yaml.Node, len(n.Content))
	for i, item := range n.Content {
		out[i] = resolveAlias(item)
	}
	return out
}
