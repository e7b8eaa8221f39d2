package patch

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
)

// LaunchBox handler tags.
const (
	TypeLaunchBoxEmulator = "launchbox_emulator"
	TypeLaunchBoxSettings = "launchbox_settings"
)

// EmulatorPatch rewires one LaunchBox emulator to a wrapper script.
type EmulatorPatch struct {
	Title      string
	WrapperBat string
	StripArgs  []string
	XMLFields  []KeyValue
}

// LaunchBoxEmulatorPayload patches Emulators.xml.
type LaunchBoxEmulatorPayload struct {
	Path      string
	Emulators []EmulatorPatch
}

// Targets implements domain.PatchPayload.
func (p *LaunchBoxEmulatorPayload) Targets() []string {
	return []string{p.Path}
}

// LaunchBoxEmulatorHandler points emulators at wrapper scripts and strips
// fullscreen flags from their platform command lines.
type LaunchBoxEmulatorHandler struct{}

// NewLaunchBoxEmulatorHandler creates the handler.
func NewLaunchBoxEmulatorHandler() *LaunchBoxEmulatorHandler {
	return &LaunchBoxEmulatorHandler{}
}

// Type implements Handler.
func (h *LaunchBoxEmulatorHandler) Type() string {
	return TypeLaunchBoxEmulator
}

// Decode implements Handler.
func (h *LaunchBoxEmulatorHandler) Decode(node *yaml.Node, paths PathResolver) (domain.PatchPayload, []string) {
	var is issues
	o, ok := asObject(node)
	if !ok {
		return nil, []string{"patch must be a mapping"}
	}
	o.unknown(&is, "type", "path", "emulators")

	p := &LaunchBoxEmulatorPayload{Path: o.requireString("path", &is)}
	items := o.list("emulators", &is)
	if _, present := o.get("emulators"); !present {
		is.addf("missing %q", "emulators")
	}

	for i, item := range items {
		eo, ok := asObject(item)
		if !ok {
			is.addf("emulators[%d] must be a mapping", i)
			continue
		}
		var eis issues
		eo.unknown(&eis, "title", "wrapper_bat", "strip_args", "xml_fields")
		em := EmulatorPatch{
			Title:      eo.requireString("title", &eis),
			WrapperBat: eo.requireString("wrapper_bat", &eis),
			StripArgs:  eo.stringList("strip_args", &eis),
			XMLFields:  eo.stringMap("xml_fields", &eis),
		}
		if em.WrapperBat != "" {
			em.WrapperBat = paths.Resolve(em.WrapperBat)
			if !infra.FileExists(em.WrapperBat) {
				eis.addf("wrapper_bat not found: %s", em.WrapperBat)
			}
		}
		for _, msg := range eis {
			is.addf("emulators[%d]: %s", i, msg)
		}
		p.Emulators = append(p.Emulators, em)
	}

	if len(is) > 0 {
		return nil, is
	}
	p.Path = paths.Resolve(p.Path)
	return p, nil
}

// Apply implements Handler.
func (h *LaunchBoxEmulatorHandler) Apply(payload domain.PatchPayload) error {
	p, ok := payload.(*LaunchBoxEmulatorPayload)
	if !ok {
		return unexpectedPayload(TypeLaunchBoxEmulator, payload)
	}

	f, err := loadXML(p.Path)
	if err != nil {
		return err
	}
	root := f.doc.Root()

	byTitle := make(map[string]*EmulatorPatch, len(p.Emulators))
	for i := range p.Emulators {
		byTitle[strings.ToLower(strings.TrimSpace(p.Emulators[i].Title))] = &p.Emulators[i]
	}

	// Emulator IDs link the emulator to its platform command lines
	byID := make(map[string]*EmulatorPatch)
	for _, el := range root.SelectElements("Emulator") {
		em, ok := byTitle[strings.ToLower(childText(el, "Title"))]
		if !ok {
			continue
		}
		if id := childText(el, "ID"); id != "" {
			byID[id] = em
		}
		setChildText(el, "ApplicationPath", em.WrapperBat)
		for _, kv := range em.XMLFields {
			setChildText(el, kv.Key, kv.Value)
		}
	}

	for _, el := range root.SelectElements("EmulatorPlatform") {
		em, ok := byID[childText(el, "Emulator")]
		if !ok || len(em.StripArgs) == 0 {
			continue
		}
		stripField(el, "CommandLine", em.StripArgs)
	}

	return f.save()
}

// LaunchBoxSettingsPayload patches BigBoxSettings.xml and Settings.xml.
type LaunchBoxSettingsPayload struct {
	BigBoxPath           string
	SettingsPath         string
	MonitorIndex         int
	DisableSplashScreens bool
}

// Targets implements domain.PatchPayload.
func (p *LaunchBoxSettingsPayload) Targets() []string {
	return []string{p.BigBoxPath, p.SettingsPath}
}

// LaunchBoxSettingsHandler moves Big Box to the session monitor and turns off
// splash screens that would otherwise steal the display.
type LaunchBoxSettingsHandler struct{}

// NewLaunchBoxSettingsHandler creates the handler.
func NewLaunchBoxSettingsHandler() *LaunchBoxSettingsHandler {
	return &LaunchBoxSettingsHandler{}
}

// Type implements Handler.
func (h *LaunchBoxSettingsHandler) Type() string {
	return TypeLaunchBoxSettings
}

// Decode implements Handler.
func (h *LaunchBoxSettingsHandler) Decode(node *yaml.Node, paths PathResolver) (domain.PatchPayload, []string) {
	var is issues
	o, ok := asObject(node)
	if !ok {
		return nil, []string{"patch must be a mapping"}
	}
	o.unknown(&is, "type", "bigbox_path", "settings_path", "monitor_index", "disable_splash_screens")

	p := &LaunchBoxSettingsPayload{
		BigBoxPath:           o.requireString("bigbox_path", &is),
		SettingsPath:         o.requireString("settings_path", &is),
		MonitorIndex:         o.optionalInt("monitor_index", 1, &is),
		DisableSplashScreens: o.optionalBool("disable_splash_screens", true, &is),
	}
	if p.MonitorIndex < 0 {
		is.addf("monitor_index must not be negative")
	}

	if len(is) > 0 {
		return nil, is
	}
	p.BigBoxPath = paths.Resolve(p.BigBoxPath)
	p.SettingsPath = paths.Resolve(p.SettingsPath)
	return p, nil
}

// Apply implements Handler. BigBoxSettings.xml is written before
// Settings.xml is read, so a failure on the second file leaves the first
// patched; the transaction restores both.
func (h *LaunchBoxSettingsHandler) Apply(payload domain.PatchPayload) error {
	p, ok := payload.(*LaunchBoxSettingsPayload)
	if !ok {
		return unexpectedPayload(TypeLaunchBoxSettings, payload)
	}

	bigbox, err := loadXML(p.BigBoxPath)
	if err != nil {
		return err
	}
	node := bigbox.doc.Root().SelectElement("BigBoxSettings")
	if node == nil {
		return fmt.Errorf("BigBoxSettings node not found in %s", p.BigBoxPath)
	}
	setChildText(node, "PrimaryMonitorIndex", strconv.Itoa(p.MonitorIndex))
	if p.DisableSplashScreens {
		setChildText(node, "ShowStartupSplashScreen", "false")
		setChildText(node, "ShowLoadingGameMessage", "false")
		setChildText(node, "UseStartupScreen", "false")
		setChildText(node, "HideMouseCursorOnStartupScreens", "false")
	}
	if err := bigbox.save(); err != nil {
		return err
	}

	settings, err := loadXML(p.SettingsPath)
	if err != nil {
		return err
	}
	node = settings.doc.Root().SelectElement("Settings")
	if node == nil {
		return fmt.Errorf("Settings node not found in %s", p.SettingsPath)
	}
	if p.DisableSplashScreens {
		setChildText(node, "ShowLaunchBoxSplashScreen", "false")
		setChildText(node, "UseStartupScreen", "false")
		setChildText(node, "HideMouseCursorOnStartupScreens", "false")
	}
	return settings.save()
}

var (
	_ Handler = (*LaunchBoxEmulatorHandler)(nil)
	_ Handler = (*LaunchBoxSettingsHandler)(nil)
)
