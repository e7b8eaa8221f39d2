// Package fixtures provides test helpers for session tests: a fake front-end
// install tree on disk and in-memory fakes for windows, processes, the
// launcher and the journal.
package fixtures

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// Rectangles used by the fake front-end's watch profiles.
var (
	RetroArchRect = domain.Rect{X: -1211, Y: 43, Width: 1057, Height: 835}
	DolphinRect   = domain.Rect{X: -1211, Y: 43}
)

const emulatorsXML = `<?xml version="1.0" standalone="yes"?>
<LaunchBox>
  <Emulator>
    <ID>11111111-aaaa</ID>
    <Title>Dolphin</Title>
    <ApplicationPath>Emulators\Dolphin\Dolphin.exe</ApplicationPath>
  </Emulator>
  <Emulator>
    <ID>22222222-bbbb</ID>
    <Title>RetroArch</Title>
    <ApplicationPath>Emulators\RetroArch\retroarch.exe</ApplicationPath>
  </Emulator>
  <EmulatorPlatform>
    <Emulator>11111111-aaaa</Emulator>
    <Platform>Nintendo GameCube</Platform>
    <CommandLine>-b -C Dolphin.Display.Fullscreen=True -e</CommandLine>
  </EmulatorPlatform>
</LaunchBox>
`

const bigBoxSettingsXML = `<?xml version="1.0" standalone="yes"?>
<LaunchBox>
  <BigBoxSettings>
    <PrimaryMonitorIndex>0</PrimaryMonitorIndex>
    <DisableSplashScreens>false</DisableSplashScreens>
  </BigBoxSettings>
</LaunchBox>
`

const settingsXML = `<?xml version="1.0" standalone="yes"?>
<LaunchBox>
  <Settings>
    <BigBoxMonitorIndex>0</BigBoxMonitorIndex>
  </Settings>
</LaunchBox>
`

// FakeFrontEnd lays out a LaunchBox-style install with RetroArch and
// Dolphin configs, profiles and a session manifest.
type FakeFrontEnd struct {
	Root string
}

// NewFakeFrontEnd creates a new fake front-end generator rooted at root.
func NewFakeFrontEnd(root string) *FakeFrontEnd {
	return &FakeFrontEnd{Root: root}
}

// Create writes the whole tree, including the default manifest.
func (f *FakeFrontEnd) Create() error {
	files := map[string]string{
		"LaunchBox/BigBox.exe":                        "MZ",
		"LaunchBox/Data/Emulators.xml":                emulatorsXML,
		"LaunchBox/Data/BigBoxSettings.xml":           bigBoxSettingsXML,
		"LaunchBox/Data/Settings.xml":                 settingsXML,
		"LaunchBox/Emulators/RetroArch/retroarch.cfg": "video_fullscreen = \"true\"\nvideo_windowed_position_x = \"0\"\n# menu\nmenu_driver = \"ozone\"\n",
		"LaunchBox/Emulators/Game/game.cfg":           "fullscreen=true\n",
		"wrappers/dolphin_crt.bat":                    "@echo off\r\n",
		"profiles/bigbox.json": `{
	"path": "../LaunchBox/BigBox.exe",
	"process_name": "BigBox.exe"
}`,
		"profiles/retroarch.yaml": `process_name: [retroarch.exe]
class_contains: [RetroArch]
x: -1211
y: 43
w: 1057
h: 835
poll_slow: 0.02
`,
		"profiles/dolphin.yaml": `process_name: [Dolphin.exe]
title_contains: [Dolphin]
x: -1211
y: 43
poll_slow: 0.02
`,
	}
	for rel, content := range files {
		if err := f.write(rel, content); err != nil {
			return err
		}
	}
	_, err := f.WriteManifest("session.yaml", f.DefaultPatches())
	return err
}

// DefaultPatches is the patches section of the default manifest.
func (f *FakeFrontEnd) DefaultPatches() string {
	return `
  - type: keyvalue
    path: LaunchBox/Emulators/Game/game.cfg
    set_values:
      fullscreen: "false"
  - type: retroarch_cfg
    path: LaunchBox/Emulators/RetroArch/retroarch.cfg
    set_values:
      video_fullscreen: "false"
      video_windowed_position_x: "-1211"
  - type: launchbox_emulator
    path: LaunchBox/Data/Emulators.xml
    emulators:
      - title: Dolphin
        wrapper_bat: wrappers/dolphin_crt.bat
        strip_args: ["-C Dolphin.Display.Fullscreen=True"]
  - type: launchbox_settings
    bigbox_path: LaunchBox/Data/BigBoxSettings.xml
    settings_path: LaunchBox/Data/Settings.xml
`
}

// WriteManifest writes a manifest named name with the given patches section
// and returns its path.
func (f *FakeFrontEnd) WriteManifest(name, patches string) (string, error) {
	content := `schema_version: 1
primary:
  profile: profiles/bigbox.json
watch:
  - profile: profiles/retroarch.yaml
  - profile: profiles/dolphin.yaml
patches:` + patches
	if err := f.write(name, content); err != nil {
		return "", err
	}
	return f.Path(name), nil
}

// Path returns the absolute path of rel inside the tree.
func (f *FakeFrontEnd) Path(rel string) string {
	return filepath.Join(f.Root, filepath.FromSlash(rel))
}

// Targets returns every file the default manifest patches.
func (f *FakeFrontEnd) Targets() []string {
	return []string{
		f.Path("LaunchBox/Emulators/Game/game.cfg"),
		f.Path("LaunchBox/Emulators/RetroArch/retroarch.cfg"),
		f.Path("LaunchBox/Data/Emulators.xml"),
		f.Path("LaunchBox/Data/BigBoxSettings.xml"),
		f.Path("LaunchBox/Data/Settings.xml"),
	}
}

// Snapshot reads every regular file in the tree, keyed by relative path.
func (f *FakeFrontEnd) Snapshot() (map[string]string, error) {
	out := make(map[string]string)
	err := filepath.Walk(f.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.Root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	return out, err
}

// Files lists the relative paths Snapshot would return, sorted.
func (f *FakeFrontEnd) Files() ([]string, error) {
	snap, err := f.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(snap))
	for rel := range snap {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out, nil
}

func (f *FakeFrontEnd) write(rel, content string) error {
	path := f.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}
