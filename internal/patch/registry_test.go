package patch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

type stubPayload struct{ path string }

func (p stubPayload) Targets() []string { return []string{p.path} }

type stubHandler struct {
	typ     string
	applied []domain.PatchPayload
	err     error
}

func (h *stubHandler) Type() string { return h.typ }

func (h *stubHandler) Decode(*yaml.Node, PathResolver) (domain.PatchPayload, []string) {
	return stubPayload{}, nil
}

func (h *stubHandler) Apply(p domain.PatchPayload) error {
	h.applied = append(h.applied, p)
	return h.err
}

func TestNewRegistry_BuiltinTypes(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{
		"keyvalue",
		"launchbox_emulator",
		"launchbox_settings",
		"retroarch_cfg",
		"xml_attributes",
	}, r.Types())

	h, ok := r.Get(TypeRetroArch)
	require.True(t, ok)
	assert.Equal(t, TypeRetroArch, h.Type())
}

func TestRegistry_Apply(t *testing.T) {
	stub := &stubHandler{typ: "stub"}
	r := NewRegistryWithHandlers(stub)

	spec := domain.PatchSpec{Index: 0, Type: "stub", Payload: stubPayload{path: "a"}}
	require.NoError(t, r.Apply(spec))
	assert.Equal(t, []domain.PatchPayload{stubPayload{path: "a"}}, stub.applied)

	stub.err = errors.New("boom")
	assert.EqualError(t, r.Apply(spec), "boom")
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistryWithHandlers()
	err := r.Apply(domain.PatchSpec{Type: "ini"})
	assert.ErrorIs(t, err, domain.ErrUnknownPatchType)
	assert.Contains(t, err.Error(), `"ini"`)

	_, ok := r.Get("ini")
	assert.False(t, ok)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	first := &stubHandler{typ: "stub"}
	second := &stubHandler{typ: "stub"}
	r := NewRegistryWithHandlers(first, second)

	h, ok := r.Get("stub")
	require.True(t, ok)
	assert.Same(t, second, h)
}
