// Package manifest loads and validates session manifests.
// Validation is all-or-nothing: every problem in the manifest, its profiles
// and its patch targets is collected before anything is returned.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
	"github.com/eliteGoblin/focusd/crtsession/internal/patch"
)

type entryDoc struct {
	Profile string `yaml:"profile"`
}

type manifestDoc struct {
	SchemaVersion *int        `yaml:"schema_version"`
	Primary       *entryDoc   `yaml:"primary"`
	Watch         []entryDoc  `yaml:"watch"`
	Patches       []yaml.Node `yaml:"patches"`

	hasWatch   bool
	hasPatches bool
}

type issues []string

func (is *issues) addf(format string, args ...any) {
	*is = append(*is, fmt.Sprintf(format, args...))
}

// Loader turns a manifest file into a validated domain.Manifest.
type Loader struct {
	registry *patch.Registry
	home     string
	logger   *zap.Logger
}

// NewLoader creates a loader that decodes patches with registry.
func NewLoader(registry *patch.Registry, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	home, _ := os.UserHomeDir()
	return &Loader{registry: registry, home: home, logger: logger}
}

// NewLoaderWithHome creates a loader with a custom home (for testing ~ paths).
func NewLoaderWithHome(registry *patch.Registry, home string, logger *zap.Logger) *Loader {
	l := NewLoader(registry, logger)
	l.home = home
	return l
}

// Load reads and validates the manifest at path. Any problem yields a
// *domain.ValidationError listing all of them; the filesystem is never
// modified.
func (l *Loader) Load(path string) (*domain.Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fail := func(is issues) error {
		return &domain.ValidationError{Path: abs, Issues: is}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fail(issues{fmt.Sprintf("cannot read manifest: %v", err)})
	}

	var root yaml.Node
	if err := decodeDocument(data, &root); err != nil {
		return nil, fail(issues{fmt.Sprintf("cannot parse manifest: %v", err)})
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fail(issues{"manifest must be a mapping"})
	}

	var is issues
	doc := l.decodeTop(root.Content[0], &is)
	paths := infra.NewPathResolverWithHome(l.home, filepath.Dir(abs))

	m := &domain.Manifest{Path: abs}

	switch {
	case doc.SchemaVersion == nil:
		is.addf("missing required field: schema_version")
	case *doc.SchemaVersion != domain.SchemaVersion:
		is.addf("unsupported schema_version: %d (supported: %d)", *doc.SchemaVersion, domain.SchemaVersion)
	default:
		m.SchemaVersion = *doc.SchemaVersion
	}

	primaryOK := false
	switch {
	case doc.Primary == nil:
		is.addf("missing required field: primary")
	case strings.TrimSpace(doc.Primary.Profile) == "":
		is.addf("primary: missing required field 'profile'")
	default:
		profilePath := paths.Resolve(doc.Primary.Profile)
		pd, err := readProfile(profilePath)
		if err != nil {
			is.addf("primary.profile %v", err)
			break
		}
		m.Primary = pd.toPrimary(profilePath, &is)
		primaryOK = true
	}

	if !doc.hasWatch {
		is.addf("missing required field: watch")
	}
	var watchIndex []int // document index of each entry in m.Watch
	for i, entry := range doc.Watch {
		label := fmt.Sprintf("watch[%d]", i)
		if strings.TrimSpace(entry.Profile) == "" {
			is.addf("%s: missing required field 'profile'", label)
			continue
		}
		profilePath := paths.Resolve(entry.Profile)
		pd, err := readProfile(profilePath)
		if err != nil {
			is.addf("%s.profile %v", label, err)
			continue
		}
		w := pd.toWatch(profilePath, label, &is)
		for _, name := range w.ProcessNames {
			if prev := firstClaim(m.Watch, name); prev >= 0 {
				is.addf("%s: process name %q duplicates watch[%d]", label, name, watchIndex[prev])
				continue
			}
			if primaryOK && m.Primary.Claims(name) {
				is.addf("%s: process name %q is claimed by the primary profile", label, name)
			}
		}
		m.Watch = append(m.Watch, w)
		watchIndex = append(watchIndex, i)
	}

	if !doc.hasPatches {
		is.addf("missing required field: patches")
	}
	for i := range doc.Patches {
		if spec, ok := l.decodePatch(i, &doc.Patches[i], paths, &is); ok {
			m.Patches = append(m.Patches, spec)
		}
	}

	if len(is) > 0 {
		return nil, fail(is)
	}

	l.logger.Info("manifest loaded",
		zap.String("path", abs),
		zap.String("primary", m.Primary.Slug),
		zap.Int("watch", len(m.Watch)),
		zap.Int("patches", len(m.Patches)))
	return m, nil
}

// decodeTop decodes the top-level fields. Type mismatches are collected as
// issues and decoding continues with the remaining fields.
func (l *Loader) decodeTop(node *yaml.Node, is *issues) *manifestDoc {
	var doc manifestDoc
	if err := node.Decode(&doc); err != nil {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			for _, e := range te.Errors {
				is.addf("%s", e)
			}
		} else {
			is.addf("%v", err)
		}
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		v := node.Content[i+1]
		null := v.Kind == yaml.ScalarNode && v.Tag == "!!null"
		switch node.Content[i].Value {
		case "watch":
			doc.hasWatch = !null
		case "patches":
			doc.hasPatches = !null
		}
	}
	return &doc
}

func (l *Loader) decodePatch(i int, node *yaml.Node, paths patch.PathResolver, is *issues) (domain.PatchSpec, bool) {
	label := fmt.Sprintf("patches[%d]", i)
	if node.Kind != yaml.MappingNode {
		is.addf("%s: must be a mapping", label)
		return domain.PatchSpec{}, false
	}

	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil || strings.TrimSpace(head.Type) == "" {
		is.addf("%s: missing required field 'type'", label)
		return domain.PatchSpec{}, false
	}

	h, ok := l.registry.Get(head.Type)
	if !ok {
		is.addf("%s: unknown type %q (known: %s)", label, head.Type, strings.Join(l.registry.Types(), ", "))
		return domain.PatchSpec{}, false
	}

	label = fmt.Sprintf("%s (%s)", label, head.Type)
	payload, problems := h.Decode(node, paths)
	for _, p := range problems {
		is.addf("%s: %s", label, p)
	}
	if payload == nil {
		return domain.PatchSpec{}, false
	}

	spec := domain.PatchSpec{Index: i, Type: head.Type, Payload: payload}
	ok = len(problems) == 0
	for _, target := range spec.Targets() {
		if err := infra.CheckWritable(target); err != nil {
			is.addf("%s: target %v", label, err)
			ok = false
		}
	}
	return spec, ok
}

// firstClaim returns the index of the first profile listing name, or -1.
func firstClaim(watch []domain.WatchProfile, name string) int {
	for i, w := range watch {
		if w.Claims(name) {
			return i
		}
	}
	return -1
}

// decodeDocument decodes YAML or JSON. JSON is a YAML subset apart from tab
// indentation, so leading tabs are expanded first.
func decodeDocument(data []byte, out any) error {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		data = expandLeadingTabs(data)
	}
	return yaml.Unmarshal(data, out)
}

func expandLeadingTabs(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		n := 0
		for n < len(line) && (line[n] == '\t' || line[n] == ' ') {
			n++
		}
		if bytes.IndexByte(line[:n], '\t') < 0 {
			continue
		}
		indent := bytes.ReplaceAll(line[:n], []byte("\t"), []byte("    "))
		lines[i] = append(indent, line[n:]...)
	}
	return bytes.Join(lines, []byte("\n"))
}
