package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectExecMode_ReturnsCorrectPaths(t *testing.T) {
	config := DetectExecMode()

	if os.Geteuid() == 0 && os.Getenv("SUDO_USER") == "" {
		assert.Equal(t, ExecModeSystem, config.Mode)
		assert.Equal(t, "/var/lib/crtsession", config.DataDir)
		assert.True(t, config.IsRoot)
		return
	}

	assert.Equal(t, ExecModeUser, config.Mode)
	assert.Equal(t, filepath.Join(GetRealUserHome(), ".crtsession"), config.DataDir)
}

func TestGetRealUserHome_UsesSudoUser(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	home, _ := os.UserHomeDir()
	assert.Equal(t, home, GetRealUserHome())

	// Unknown sudo user falls back to the current home
	t.Setenv("SUDO_USER", "no-such-user-crtsession")
	assert.Equal(t, home, GetRealUserHome())
}

func TestExecMode_String(t *testing.T) {
	tests := []struct {
		mode ExecMode
		want string
	}{
		{ExecModeUser, "user"},
		{ExecModeSystem, "system (root)"},
		{ExecMode("bogus"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mode.String())
		})
	}
}
