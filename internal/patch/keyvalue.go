package patch

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
)

// Type tags for flat key/value configs.
const (
	TypeKeyValue  = "keyvalue"
	TypeRetroArch = "retroarch_cfg"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// KeyValuePayload sets keys in one flat `key = value` file.
type KeyValuePayload struct {
	Path   string
	Values []KeyValue
}

// Targets implements domain.PatchPayload.
func (p *KeyValuePayload) Targets() []string {
	return []string{p.Path}
}

// KeyValueHandler rewrites only the lines whose key is named in the payload.
// Every other byte of the file is left as it was.
type KeyValueHandler struct {
	typ string
}

// NewKeyValueHandler creates a handler registered under typ.
func NewKeyValueHandler(typ string) *KeyValueHandler {
	return &KeyValueHandler{typ: typ}
}

// Type implements Handler.
func (h *KeyValueHandler) Type() string {
	return h.typ
}

// Decode implements Handler.
func (h *KeyValueHandler) Decode(node *yaml.Node, paths PathResolver) (domain.PatchPayload, []string) {
	var is issues
	o, ok := asObject(node)
	if !ok {
		return nil, []string{"patch must be a mapping"}
	}
	o.unknown(&is, "type", "path", "set_values")

	path := o.requireString("path", &is)
	before := len(is)
	values := o.stringMap("set_values", &is)
	if _, present := o.get("set_values"); !present {
		is.addf("missing %q", "set_values")
	} else if len(values) == 0 && len(is) == before {
		is.addf("%q must not be empty", "set_values")
	}
	for _, kv := range values {
		if kv.Key == "" || strings.ContainsAny(kv.Key, "=\r\n") || strings.TrimSpace(kv.Key) != kv.Key {
			is.addf("set_values: invalid key %q", kv.Key)
		}
		if strings.ContainsAny(kv.Value, "\r\n") {
			is.addf("set_values.%s: value must be a single line", kv.Key)
		}
	}

	if path == "" || len(is) > 0 {
		return nil, is
	}
	return &KeyValuePayload{Path: paths.Resolve(path), Values: values}, nil
}

// Apply implements Handler.
func (h *KeyValueHandler) Apply(payload domain.PatchPayload) error {
	p, ok := payload.(*KeyValuePayload)
	if !ok {
		return unexpectedPayload(h.typ, payload)
	}

	info, err := os.Stat(p.Path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", p.Path, err)
	}

	out := RewriteKeyValues(data, p.Values)
	if bytes.Equal(out, data) {
		return nil
	}
	if err := infra.WriteFileAtomic(p.Path, out, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.Path, err)
	}
	return nil
}

// RewriteKeyValues returns data with every named key set. Matching lines keep
// their own spacing and quoting; missing keys are appended as `key = "value"`
// in the order given. The BOM, line endings and trailing newline survive.
func RewriteKeyValues(data []byte, values []KeyValue) []byte {
	bom := bytes.HasPrefix(data, utf8BOM)
	text := string(bytes.TrimPrefix(data, utf8BOM))

	newline := "\n"
	if strings.Contains(text, "\r\n") {
		newline = "\r\n"
	}

	want := make(map[string]string, len(values))
	for _, kv := range values {
		want[kv.Key] = kv.Value
	}
	seen := make(map[string]bool, len(values))

	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}
	for i, line := range lines {
		content := strings.TrimSuffix(line, "\r")
		cr := len(content) != len(line)

		key, prefix, old, ok := splitAssignment(content)
		if !ok {
			continue
		}
		value, named := want[key]
		if !named {
			continue
		}
		seen[key] = true
		content = prefix + formatValue(old, value)
		if cr {
			content += "\r"
		}
		lines[i] = content
	}

	var b strings.Builder
	if bom {
		b.Write(utf8BOM)
	}
	b.WriteString(strings.Join(lines, "\n"))

	for _, kv := range values {
		if seen[kv.Key] {
			continue
		}
		seen[kv.Key] = true
		if cur := b.String(); len(cur) > len(bomPrefix(bom)) && !strings.HasSuffix(cur, "\n") {
			b.WriteString(newline)
		}
		fmt.Fprintf(&b, "%s = \"%s\"%s", kv.Key, kv.Value, newline)
	}
	return []byte(b.String())
}

func bomPrefix(bom bool) string {
	if bom {
		return string(utf8BOM)
	}
	return ""
}

// splitAssignment splits `key = value` into the key, everything up to the
// value (key, separator and its spacing), and the raw old value.
func splitAssignment(line string) (key, prefix, value string, ok bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || trimmed[0] == '#' || trimmed[0] == ';' {
		return "", "", "", false
	}
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", "", "", false
	}
	key = strings.TrimSpace(line[:eq])
	if key == "" {
		return "", "", "", false
	}
	rest := line[eq+1:]
	value = strings.TrimLeft(rest, " \t")
	prefix = line[:eq+1] + rest[:len(rest)-len(value)]
	return key, prefix, value, true
}

// formatValue writes value in the quoting style of old. Bare values stay
// bare; empty and quoted values are written quoted.
func formatValue(old, value string) string {
	old = strings.TrimRight(old, " \t")
	if old != "" && !strings.HasPrefix(old, `"`) {
		return value
	}
	return `"` + value + `"`
}

var _ Handler = (*KeyValueHandler)(nil)
