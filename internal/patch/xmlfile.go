package patch

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/beevik/etree"

	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
)

// xmlFile is a parsed structured config plus what is needed to write it back
// the way it was found.
type xmlFile struct {
	path string
	doc  *etree.Document
	bom  bool
	mode os.FileMode
}

func loadXML(path string) (*xmlFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	f := &xmlFile{
		path: path,
		doc:  etree.NewDocument(),
		bom:  bytes.HasPrefix(data, utf8BOM),
		mode: info.Mode().Perm(),
	}
	f.doc.WriteSettings.CanonicalText = true
	f.doc.WriteSettings.CanonicalAttrVal = true

	if err := f.doc.ReadFromBytes(bytes.TrimPrefix(data, utf8BOM)); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if f.doc.Root() == nil {
		return nil, fmt.Errorf("%s has no root element", path)
	}
	return f, nil
}

func (f *xmlFile) save() error {
	out, err := f.doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", f.path, err)
	}
	if f.bom {
		out = append(append([]byte{}, utf8BOM...), out...)
	}
	if err := infra.WriteFileAtomic(f.path, out, f.mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	return nil
}

// childText returns the trimmed text of the first child named tag.
func childText(el *etree.Element, tag string) string {
	c := el.SelectElement(tag)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

// setChildText sets the text of the first child named tag, creating it if needed.
func setChildText(el *etree.Element, tag, value string) {
	c := el.SelectElement(tag)
	if c == nil {
		c = el.CreateElement(tag)
	}
	c.SetText(value)
}

// fieldValue reads a child element, or an attribute when field starts with '@'.
func fieldValue(el *etree.Element, field string) string {
	if attr, ok := strings.CutPrefix(field, "@"); ok {
		return strings.TrimSpace(el.SelectAttrValue(attr, ""))
	}
	return childText(el, field)
}

// setField writes a child element, or an attribute when field starts with '@'.
func setField(el *etree.Element, field, value string) {
	if attr, ok := strings.CutPrefix(field, "@"); ok {
		el.CreateAttr(attr, value)
		return
	}
	setChildText(el, field, value)
}

// stripField removes each arg from the field as whole tokens.
func stripField(el *etree.Element, field string, args []string) {
	current := fieldValue(el, field)
	if current == "" {
		return
	}
	stripped := current
	for _, arg := range args {
		stripped = StripTokens(stripped, arg)
	}
	if stripped != current {
		setField(el, field, stripped)
	}
}
