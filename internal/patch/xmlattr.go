package patch

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// TypeXMLAttributes is the generic structured-config handler tag.
const TypeXMLAttributes = "xml_attributes"

// XMLAttributesPayload locates elements by an identifying field and sets
// named children or attributes on each match.
type XMLAttributesPayload struct {
	Path     string
	Element  string
	KeyField string
	Key      string
	Set      []KeyValue
	Strip    *StripSpec
}

// StripSpec removes whole tokens from one free-text field.
type StripSpec struct {
	Field  string
	Tokens []string
}

// Targets implements domain.PatchPayload.
func (p *XMLAttributesPayload) Targets() []string {
	return []string{p.Path}
}

// XMLAttributesHandler patches any XML file addressed by element path.
type XMLAttributesHandler struct{}

// NewXMLAttributesHandler creates the handler.
func NewXMLAttributesHandler() *XMLAttributesHandler {
	return &XMLAttributesHandler{}
}

// Type implements Handler.
func (h *XMLAttributesHandler) Type() string {
	return TypeXMLAttributes
}

// Decode implements Handler.
func (h *XMLAttributesHandler) Decode(node *yaml.Node, paths PathResolver) (domain.PatchPayload, []string) {
	var is issues
	o, ok := asObject(node)
	if !ok {
		return nil, []string{"patch must be a mapping"}
	}
	o.unknown(&is, "type", "path", "element", "key_field", "key", "set", "strip")

	p := &XMLAttributesPayload{
		Path:     o.requireString("path", &is),
		Element:  o.requireString("element", &is),
		KeyField: o.requireString("key_field", &is),
		Key:      o.requireString("key", &is),
		Set:      o.stringMap("set", &is),
	}
	if p.Element != "" {
		if _, err := etree.CompilePath(p.Element); err != nil {
			is.addf("element: invalid path %q: %v", p.Element, err)
		}
	}
	for _, kv := range p.Set {
		if kv.Key == "" || kv.Key == "@" {
			is.addf("set: empty field name")
		}
	}

	if sn, present := o.get("strip"); present {
		so, ok := asObject(sn)
		if !ok {
			is.addf("%q must be a mapping", "strip")
		} else {
			so.unknown(&is, "field", "tokens")
			p.Strip = &StripSpec{
				Field:  so.requireString("field", &is),
				Tokens: so.stringList("tokens", &is),
			}
			if len(p.Strip.Tokens) == 0 {
				is.addf("strip.tokens must not be empty")
			}
		}
	}
	if len(p.Set) == 0 && p.Strip == nil {
		is.addf("nothing to do: need %q or %q", "set", "strip")
	}

	if len(is) > 0 {
		return nil, is
	}
	p.Path = paths.Resolve(p.Path)
	return p, nil
}

// Apply implements Handler.
func (h *XMLAttributesHandler) Apply(payload domain.PatchPayload) error {
	p, ok := payload.(*XMLAttributesPayload)
	if !ok {
		return unexpectedPayload(TypeXMLAttributes, payload)
	}

	f, err := loadXML(p.Path)
	if err != nil {
		return err
	}

	matched := 0
	for _, el := range f.doc.Root().FindElements(p.Element) {
		if !strings.EqualFold(fieldValue(el, p.KeyField), strings.TrimSpace(p.Key)) {
			continue
		}
		matched++
		for _, kv := range p.Set {
			setField(el, kv.Key, kv.Value)
		}
		if p.Strip != nil {
			stripField(el, p.Strip.Field, p.Strip.Tokens)
		}
	}
	if matched == 0 {
		return fmt.Errorf("no %s element with %s=%q in %s", p.Element, p.KeyField, p.Key, p.Path)
	}

	return f.save()
}

var _ Handler = (*XMLAttributesHandler)(nil)
