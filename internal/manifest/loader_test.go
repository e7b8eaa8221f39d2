package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/patch"
)

// fixture lays out a minimal front-end install: a primary executable, its
// profile, one watch profile and one key/value target.
type fixture struct {
	dir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir()}
	f.write(t, "bin/BigBox.exe", "MZ")
	f.write(t, "profiles/bigbox.json", `{
	"path": "../bin/BigBox.exe",
	"process_name": ["BigBox.exe"],
	"args": "--session \"crt mode\""
}`)
	f.write(t, "profiles/retroarch.yaml", `
process_name: [retroarch.exe]
class_contains: [RetroArch]
x: -1211
y: 43
w: 1057
h: 835
poll_slow: 0.25
`)
	f.write(t, "retroarch.cfg", "video_fullscreen = \"true\"\n")
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.dir, rel)
}

func newTestLoader() *Loader {
	return NewLoader(patch.NewRegistry(), nil)
}

func validationIssues(t *testing.T, err error) []string {
	t.Helper()
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Issues
}

func TestLoad_ValidYAML(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "session.yaml", `
schema_version: 1
primary: {profile: profiles/bigbox.json}
watch:
  - profile: profiles/retroarch.yaml
patches:
  - type: retroarch_cfg
    path: retroarch.cfg
    set_values:
      video_fullscreen: "false"
`)

	m, err := newTestLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1, m.SchemaVersion)
	assert.Equal(t, path, m.Path)

	wantPrimary := domain.PrimaryProfile{
		Slug:         "bigbox",
		ProfilePath:  f.path("profiles/bigbox.json"),
		Executable:   f.path("bin/BigBox.exe"),
		Dir:          f.path("bin"),
		Args:         []string{"--session", "crt mode"},
		ProcessNames: []string{"BigBox.exe"},
	}
	if diff := cmp.Diff(wantPrimary, m.Primary); diff != "" {
		t.Errorf("primary mismatch (-want +got):\n%s", diff)
	}

	wantWatch := []domain.WatchProfile{{
		Slug:          "retroarch",
		ProfilePath:   f.path("profiles/retroarch.yaml"),
		ProcessNames:  []string{"retroarch.exe"},
		ClassContains: []string{"RetroArch"},
		Target:        domain.Rect{X: -1211, Y: 43, Width: 1057, Height: 835},
		PollInterval:  250 * time.Millisecond,
	}}
	if diff := cmp.Diff(wantWatch, m.Watch); diff != "" {
		t.Errorf("watch mismatch (-want +got):\n%s", diff)
	}

	wantPatches := []domain.PatchSpec{{
		Index: 0,
		Type:  patch.TypeRetroArch,
		Payload: &patch.KeyValuePayload{
			Path:   f.path("retroarch.cfg"),
			Values: []patch.KeyValue{{Key: "video_fullscreen", Value: "false"}},
		},
	}}
	if diff := cmp.Diff(wantPatches, m.Patches); diff != "" {
		t.Errorf("patches mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{f.path("retroarch.cfg")}, m.PatchTargets())
}

func TestLoad_JSONWithTabsAndBOM(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "session.json", "\xEF\xBB\xBF{\n"+
		"\t\"schema_version\": 1,\n"+
		"\t\"primary\": {\"profile\": \"profiles/bigbox.json\"},\n"+
		"\t\"watch\": [\n"+
		"\t\t{\"profile\": \"profiles/retroarch.yaml\"}\n"+
		"\t],\n"+
		"\t\"patches\": []\n"+
		"}\n")

	m, err := newTestLoader().Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Watch, 1)
	assert.Empty(t, m.Patches)
}

func TestLoad_CollectsEveryProblem(t *testing.T) {
	f := newFixture(t)
	f.write(t, "profiles/retroarch_dup.json", `{"process_name": "RETROARCH.EXE", "x": 0, "y": 0}`)
	f.write(t, "profiles/bigbox_watch.json", `{"process_name": ["bigbox.exe"], "x": 0, "y": 0}`)
	f.write(t, "profiles/nameless.json", `{"x": 0}`)
	path := f.write(t, "session.yaml", `
schema_version: 2
primary: {profile: profiles/bigbox.json}
watch:
  - profile: profiles/retroarch.yaml
  - profile: profiles/retroarch_dup.json
  - profile: profiles/bigbox_watch.json
  - profile: profiles/missing.json
  - profile: profiles/nameless.json
patches:
  - type: ini
    path: x.ini
  - path: retroarch.cfg
  - type: keyvalue
    path: missing.cfg
    set_values: {a: b}
`)

	_, err := newTestLoader().Load(path)
	require.Error(t, err)

	want := []string{
		"unsupported schema_version: 2 (supported: 1)",
		`watch[1]: process name "RETROARCH.EXE" duplicates watch[0]`,
		`watch[2]: process name "bigbox.exe" is claimed by the primary profile`,
		"watch[3].profile not found: " + f.path("profiles/missing.json"),
		"watch[4]: profile " + f.path("profiles/nameless.json") + " has no process_name",
		"watch[4]: profile " + f.path("profiles/nameless.json") + " needs both x and y",
		`patches[0]: unknown type "ini" (known: keyvalue, launchbox_emulator, launchbox_settings, retroarch_cfg, xml_attributes)`,
		"patches[1]: missing required field 'type'",
		"patches[2] (keyvalue): target not found: " + f.path("missing.cfg"),
	}
	if diff := cmp.Diff(want, validationIssues(t, err)); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, err.Error(), "manifest validation failed")
}

func TestLoad_DuplicateClaimLeavesTargetsUntouched(t *testing.T) {
	f := newFixture(t)
	f.write(t, "profiles/second.yaml", "process_name: retroarch.exe\nx: 0\ny: 0\n")
	path := f.write(t, "session.yaml", `
schema_version: 1
primary: {profile: profiles/bigbox.json}
watch:
  - profile: profiles/retroarch.yaml
  - profile: profiles/second.yaml
patches:
  - {type: keyvalue, path: retroarch.cfg, set_values: {video_fullscreen: "false"}}
`)
	before, err := os.ReadFile(f.path("retroarch.cfg"))
	require.NoError(t, err)

	m, err := newTestLoader().Load(path)
	assert.Nil(t, m)
	assert.Equal(t, []string{`watch[1]: process name "retroarch.exe" duplicates watch[0]`}, validationIssues(t, err))

	after, err := os.ReadFile(f.path("retroarch.cfg"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoad_MissingSections(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "session.yaml", "primary: {}\n")

	_, err := newTestLoader().Load(path)
	assert.Equal(t, []string{
		"missing required field: schema_version",
		"primary: missing required field 'profile'",
		"missing required field: watch",
		"missing required field: patches",
	}, validationIssues(t, err))
}

func TestLoad_PrimaryExecutableMissing(t *testing.T) {
	f := newFixture(t)
	f.write(t, "profiles/ghost.yaml", "path: /definitely/not/here.exe\n")
	path := f.write(t, "session.yaml", "schema_version: 1\nprimary: {profile: profiles/ghost.yaml}\nwatch: []\npatches: []\n")

	_, err := newTestLoader().Load(path)
	assert.Equal(t, []string{"primary: executable not found: /definitely/not/here.exe"}, validationIssues(t, err))
}

func TestLoad_UnparseableManifest(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "session.yaml", "schema_version: [\n")

	_, err := newTestLoader().Load(path)
	issues := validationIssues(t, err)
	require.Len(t, issues, 1)
	assert.True(t, strings.HasPrefix(issues[0], "cannot parse manifest"))
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := newTestLoader().Load(filepath.Join(t.TempDir(), "nope.yaml"))
	issues := validationIssues(t, err)
	require.Len(t, issues, 1)
	assert.True(t, strings.HasPrefix(issues[0], "cannot read manifest"))
}

func TestLoad_ReadOnlyTarget(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	f := newFixture(t)
	require.NoError(t, os.Chmod(f.path("retroarch.cfg"), 0444))
	path := f.write(t, "session.yaml", `
schema_version: 1
primary: {profile: profiles/bigbox.json}
watch: []
patches:
  - {type: keyvalue, path: retroarch.cfg, set_values: {a: b}}
`)

	_, err := newTestLoader().Load(path)
	issues := validationIssues(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "not writable")
}

func TestLoad_HomeExpansion(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "session.yaml", `
schema_version: 1
primary: {profile: ~/profiles/bigbox.json}
watch: [{profile: "~/profiles/retroarch.yaml"}]
patches: []
`)

	m, err := NewLoaderWithHome(patch.NewRegistry(), f.dir, nil).Load(path)
	require.NoError(t, err)
	assert.Equal(t, f.path("profiles/bigbox.json"), m.Primary.ProfilePath)
	assert.Equal(t, f.path("profiles/retroarch.yaml"), m.Watch[0].ProfilePath)
}

func TestLoad_PositionOnlyProfile(t *testing.T) {
	f := newFixture(t)
	f.write(t, "profiles/mpv.yaml", "process_name: mpv.exe\nx: 10\ny: 20\n")
	path := f.write(t, "session.yaml", "schema_version: 1\nprimary: {profile: profiles/bigbox.json}\nwatch: [{profile: profiles/mpv.yaml}]\npatches: []\n")

	m, err := newTestLoader().Load(path)
	require.NoError(t, err)
	assert.True(t, m.Watch[0].Target.PositionOnly())
	assert.Zero(t, m.Watch[0].PollInterval)
}
