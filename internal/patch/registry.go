// Package patch implements the format handlers behind the patch transaction.
// Each handler decodes its own payload and read-modify-writes its target files.
// Adding a format is a registration, never a change to the engine.
package patch

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

// PathResolver turns a manifest-relative path into an absolute one.
type PathResolver interface {
	Resolve(path string) string
}

// Handler is the strategy interface for one patch type tag.
type Handler interface {
	// Type returns the tag that selects this handler in a manifest.
	Type() string

	// Decode builds the payload from the patch node. Every problem found is
	// returned as an issue; a nil payload means the patch spec is unusable.
	Decode(node *yaml.Node, paths PathResolver) (domain.PatchPayload, []string)

	// Apply mutates the payload's target files.
	Apply(payload domain.PatchPayload) error
}

// Registry maps type tags to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates a registry with all built-in handlers.
func NewRegistry() *Registry {
	return NewRegistryWithHandlers(
		NewKeyValueHandler(TypeKeyValue),
		NewKeyValueHandler(TypeRetroArch),
		NewXMLAttributesHandler(),
		NewLaunchBoxEmulatorHandler(),
		NewLaunchBoxSettingsHandler(),
	)
}

// NewRegistryWithHandlers creates a registry with custom handlers (for testing).
func NewRegistryWithHandlers(handlers ...Handler) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
	}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds a handler, replacing any previous one for the same tag.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Get returns the handler for a type tag.
func (r *Registry) Get(typ string) (Handler, bool) {
	h, ok := r.handlers[typ]
	return h, ok
}

// Types returns all registered tags, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Apply dispatches spec to its handler.
func (r *Registry) Apply(spec domain.PatchSpec) error {
	h, ok := r.handlers[spec.Type]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownPatchType, spec.Type)
	}
	return h.Apply(spec.Payload)
}

func unexpectedPayload(typ string, payload domain.PatchPayload) error {
	return fmt.Errorf("%s handler cannot apply payload of type %T", typ, payload)
}
