package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
)

// nameList accepts either a single string or a list of strings.
type nameList []string

func (l *nameList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			*l = nil
			return nil
		}
		*l = nameList{n.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", n.Line)
	}
}

// argList accepts a shell-quoted string or an explicit list.
type argList []string

func (l *argList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		words, err := shellquote.Split(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: args: %w", n.Line, err)
		}
		*l = words
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: args must be a string or a list", n.Line)
	}
}

// profileDoc is the on-disk profile document. Unknown fields are ignored so
// launcher-specific settings can live in the same file.
type profileDoc struct {
	ProcessName   nameList `yaml:"process_name"`
	ClassContains nameList `yaml:"class_contains"`
	TitleContains nameList `yaml:"title_contains"`
	X             *int     `yaml:"x"`
	Y             *int     `yaml:"y"`
	W             int      `yaml:"w"`
	H             int      `yaml:"h"`
	PollSlow      *float64 `yaml:"poll_slow"`

	Path string  `yaml:"path"`
	Dir  string  `yaml:"dir"`
	Args argList `yaml:"args"`
}

// readProfile decodes a profile file. Relative paths inside the profile
// resolve against the profile's own directory.
func readProfile(path string) (*profileDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var doc profileDoc
	if err := decodeDocument(data, &doc); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return &doc, nil
}

func slugOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (d *profileDoc) names() []string {
	var out []string
	for _, n := range d.ProcessName {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// toWatch converts the document into a watch profile, reporting problems
// prefixed with label.
func (d *profileDoc) toWatch(path, label string, is *issues) domain.WatchProfile {
	w := domain.WatchProfile{
		Slug:          slugOf(path),
		ProfilePath:   path,
		ProcessNames:  d.names(),
		ClassContains: d.ClassContains,
		TitleContains: d.TitleContains,
	}
	if len(w.ProcessNames) == 0 {
		is.addf("%s: profile %s has no process_name", label, path)
	}
	if d.X == nil || d.Y == nil {
		is.addf("%s: profile %s needs both x and y", label, path)
	} else {
		w.Target = domain.Rect{X: *d.X, Y: *d.Y, Width: d.W, Height: d.H}
	}
	if d.W < 0 || d.H < 0 {
		is.addf("%s: profile %s has a negative size", label, path)
	}
	if d.PollSlow != nil {
		if *d.PollSlow <= 0 {
			is.addf("%s: profile %s: poll_slow must be positive", label, path)
		} else {
			w.PollInterval = time.Duration(*d.PollSlow * float64(time.Second))
		}
	}
	return w
}

// toPrimary converts the document into the primary profile.
func (d *profileDoc) toPrimary(path string, is *issues) domain.PrimaryProfile {
	paths := infra.NewPathResolver(filepath.Dir(path))
	p := domain.PrimaryProfile{
		Slug:         slugOf(path),
		ProfilePath:  path,
		Executable:   paths.Resolve(d.Path),
		Dir:          paths.Resolve(d.Dir),
		Args:         d.Args,
		ProcessNames: d.names(),
	}

	if p.Executable == "" {
		is.addf("primary: profile %s has no path", path)
		return p
	}
	info, err := os.Stat(p.Executable)
	switch {
	case err != nil:
		is.addf("primary: executable not found: %s", p.Executable)
	case info.IsDir():
		is.addf("primary: executable is a directory: %s", p.Executable)
	}
	if p.Dir == "" {
		p.Dir = filepath.Dir(p.Executable)
	}
	if len(p.ProcessNames) == 0 {
		p.ProcessNames = []string{filepath.Base(p.Executable)}
	}
	return p
}
