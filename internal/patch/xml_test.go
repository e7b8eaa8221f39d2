package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
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
  <EmulatorPlatform>
    <Emulator>22222222-bbbb</Emulator>
    <Platform>Nintendo 64</Platform>
    <CommandLine>-L "cores\mupen64plus_next_libretro.dll" -f</CommandLine>
  </EmulatorPlatform>
</LaunchBox>
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readDoc(t *testing.T, path string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(path))
	return doc
}

func emulatorByTitle(doc *etree.Document, title string) *etree.Element {
	for _, el := range doc.Root().SelectElements("Emulator") {
		if childText(el, "Title") == title {
			return el
		}
	}
	return nil
}

func platformFor(doc *etree.Document, id string) *etree.Element {
	for _, el := range doc.Root().SelectElements("EmulatorPlatform") {
		if childText(el, "Emulator") == id {
			return el
		}
	}
	return nil
}

func TestLaunchBoxEmulatorHandler(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "Emulators.xml", emulatorsXML)
	wrapper := writeFile(t, dir, "dolphin_wrapper.bat", "@echo off\r\n")
	h := NewLaunchBoxEmulatorHandler()

	node := mustNode(t, `
type: launchbox_emulator
path: Emulators.xml
emulators:
  - title: dolphin
    wrapper_bat: dolphin_wrapper.bat
    strip_args: ["-C Dolphin.Display.Fullscreen=True"]
    xml_fields:
      UseStartupScreen: "false"
      StartupLoadDelay: 0
  - title: Not Installed
    wrapper_bat: dolphin_wrapper.bat
`)
	payload, problems := h.Decode(node, infra.NewPathResolver(dir))
	require.Empty(t, problems)
	require.Equal(t, []string{path}, payload.Targets())

	require.NoError(t, h.Apply(payload))

	doc := readDoc(t, path)
	dolphin := emulatorByTitle(doc, "Dolphin")
	require.NotNil(t, dolphin)
	assert.Equal(t, wrapper, childText(dolphin, "ApplicationPath"))
	assert.Equal(t, "false", childText(dolphin, "UseStartupScreen"))
	assert.Equal(t, "0", childText(dolphin, "StartupLoadDelay"))
	assert.Equal(t, "-b -e", childText(platformFor(doc, "11111111-aaaa"), "CommandLine"))

	retro := emulatorByTitle(doc, "RetroArch")
	assert.Equal(t, `Emulators\RetroArch\retroarch.exe`, childText(retro, "ApplicationPath"))
	assert.Equal(t, `-L "cores\mupen64plus_next_libretro.dll" -f`,
		childText(platformFor(doc, "22222222-bbbb"), "CommandLine"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `<?xml version="1.0" standalone="yes"?>`))
	assert.NotContains(t, string(data), "&#34;")
}

func TestLaunchBoxEmulatorHandler_DecodeProblems(t *testing.T) {
	dir := t.TempDir()
	h := NewLaunchBoxEmulatorHandler()

	node := mustNode(t, `
type: launchbox_emulator
path: Emulators.xml
emulators:
  - title: Dolphin
    wrapper_bat: missing.bat
  - wrapper_bat: ""
  - nope
`)
	payload, problems := h.Decode(node, infra.NewPathResolver(dir))
	assert.Nil(t, payload)
	assert.Equal(t, []string{
		"emulators[0]: wrapper_bat not found: " + filepath.Join(dir, "missing.bat"),
		`emulators[1]: missing "title"`,
		`emulators[1]: "wrapper_bat" must not be empty`,
		"emulators[2] must be a mapping",
	}, problems)
}

func TestLaunchBoxSettingsHandler(t *testing.T) {
	dir := t.TempDir()
	bigbox := writeFile(t, dir, "BigBoxSettings.xml", `<?xml version="1.0" standalone="yes"?>
<LaunchBox>
  <BigBoxSettings>
    <PrimaryMonitorIndex>0</PrimaryMonitorIndex>
    <ShowStartupSplashScreen>true</ShowStartupSplashScreen>
  </BigBoxSettings>
</LaunchBox>
`)
	settings := writeFile(t, dir, "Settings.xml", `<?xml version="1.0" standalone="yes"?>
<LaunchBox>
  <Settings>
    <ShowLaunchBoxSplashScreen>true</ShowLaunchBoxSplashScreen>
  </Settings>
</LaunchBox>
`)
	h := NewLaunchBoxSettingsHandler()

	payload, problems := h.Decode(mustNode(t, `
type: launchbox_settings
bigbox_path: BigBoxSettings.xml
settings_path: Settings.xml
`), infra.NewPathResolver(dir))
	require.Empty(t, problems)
	p := payload.(*LaunchBoxSettingsPayload)
	assert.Equal(t, 1, p.MonitorIndex)
	assert.True(t, p.DisableSplashScreens)
	assert.Equal(t, []string{bigbox, settings}, p.Targets())

	require.NoError(t, h.Apply(payload))

	bb := readDoc(t, bigbox).Root().SelectElement("BigBoxSettings")
	assert.Equal(t, "1", childText(bb, "PrimaryMonitorIndex"))
	for _, tag := range []string{"ShowStartupSplashScreen", "ShowLoadingGameMessage", "UseStartupScreen", "HideMouseCursorOnStartupScreens"} {
		assert.Equal(t, "false", childText(bb, tag), tag)
	}
	st := readDoc(t, settings).Root().SelectElement("Settings")
	for _, tag := range []string{"ShowLaunchBoxSplashScreen", "UseStartupScreen", "HideMouseCursorOnStartupScreens"} {
		assert.Equal(t, "false", childText(st, tag), tag)
	}
}

func TestLaunchBoxSettingsHandler_MissingNode(t *testing.T) {
	dir := t.TempDir()
	bigbox := writeFile(t, dir, "BigBoxSettings.xml", "<LaunchBox><BigBoxSettings/></LaunchBox>")
	settings := writeFile(t, dir, "Settings.xml", "<LaunchBox></LaunchBox>")

	err := NewLaunchBoxSettingsHandler().Apply(&LaunchBoxSettingsPayload{
		BigBoxPath:           bigbox,
		SettingsPath:         settings,
		MonitorIndex:         2,
		DisableSplashScreens: false,
	})
	assert.ErrorContains(t, err, "Settings node not found")

	bb := readDoc(t, bigbox).Root().SelectElement("BigBoxSettings")
	assert.Equal(t, "2", childText(bb, "PrimaryMonitorIndex"))
	assert.Nil(t, bb.SelectElement("UseStartupScreen"))
}

func TestXMLAttributesHandler(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "Emulators.xml", emulatorsXML)
	h := NewXMLAttributesHandler()

	payload, problems := h.Decode(mustNode(t, `
type: xml_attributes
path: Emulators.xml
element: Emulator
key_field: Title
key: " retroarch "
set:
  ApplicationPath: wrap.bat
  "@patched": "yes"
`), infra.NewPathResolver(dir))
	require.Empty(t, problems)
	require.NoError(t, h.Apply(payload))

	retro := emulatorByTitle(readDoc(t, path), "RetroArch")
	assert.Equal(t, "wrap.bat", childText(retro, "ApplicationPath"))
	assert.Equal(t, "yes", retro.SelectAttrValue("patched", ""))

	t.Run("strip by child key", func(t *testing.T) {
		stripPayload, problems := h.Decode(mustNode(t, `
type: xml_attributes
path: Emulators.xml
element: EmulatorPlatform
key_field: Platform
key: Nintendo 64
strip: {field: CommandLine, tokens: ["-f"]}
`), infra.NewPathResolver(dir))
		require.Empty(t, problems)
		require.NoError(t, h.Apply(stripPayload))
		assert.Equal(t, `-L "cores\mupen64plus_next_libretro.dll"`,
			childText(platformFor(readDoc(t, path), "22222222-bbbb"), "CommandLine"))
	})

	t.Run("zero matches is an error", func(t *testing.T) {
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		err = h.Apply(&XMLAttributesPayload{
			Path: path, Element: "Emulator", KeyField: "Title", Key: "MAME",
			Set: []KeyValue{{"ApplicationPath", "x"}},
		})
		assert.ErrorContains(t, err, `no Emulator element with Title="MAME"`)

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("decode problems", func(t *testing.T) {
		_, problems := h.Decode(mustNode(t, `{type: xml_attributes, path: a.xml, element: "[", key_field: Title, key: x}`), infra.NewPathResolver(dir))
		require.Len(t, problems, 2)
		assert.Contains(t, problems[0], "element: invalid path")
		assert.Equal(t, `nothing to do: need "set" or "strip"`, problems[1])
	})
}

func TestLoadXML_PreservesBOM(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "Settings.xml", "\xEF\xBB\xBF<LaunchBox><Settings/></LaunchBox>")

	f, err := loadXML(path)
	require.NoError(t, err)
	setChildText(f.doc.Root().SelectElement("Settings"), "A", "1")
	require.NoError(t, f.save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\xEF\xBB\xBF<LaunchBox><Settings><A>1</A></Settings></LaunchBox>", string(data))
}
