package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
)

func TestSelectWindow(t *testing.T) {
	candidates := []windowCandidate{
		{Handle: 1, PID: 10, Class: "retroarch RetroArch", Title: "RetroArch", Rect: domain.Rect{Width: 100, Height: 100}, Visible: true},
		{Handle: 2, PID: 10, Class: "retroarch RetroArch", Title: "RetroArch Core", Rect: domain.Rect{Width: 640, Height: 480}, Visible: true},
		{Handle: 3, PID: 10, Class: "retroarch RetroArch", Title: "Huge minimized", Rect: domain.Rect{Width: 4000, Height: 4000}, Visible: true, Minimized: true},
		{Handle: 4, PID: 10, Class: "retroarch RetroArch", Title: "Unmapped", Rect: domain.Rect{Width: 3000, Height: 3000}},
		{Handle: 5, PID: 20, Class: "dolphin-emu Dolphin", Title: "Dolphin 5.0", Rect: domain.Rect{Width: 800, Height: 600}, Visible: true},
		{Handle: 6, PID: 20, Class: "dolphin-emu Dolphin", Title: "Dolphin 5.0 | Game", Rect: domain.Rect{Width: 800, Height: 600}, Visible: true},
	}

	tests := []struct {
		name   string
		query  domain.WindowQuery
		want   domain.WindowHandle
		wantOK bool
	}{
		{
			name:   "largest visible non-minimized window wins",
			query:  domain.WindowQuery{PIDs: []int{10}},
			want:   2,
			wantOK: true,
		},
		{
			name:   "title filter is case-insensitive",
			query:  domain.WindowQuery{PIDs: []int{10}, TitleContains: []string{"retroarch"}},
			want:   2,
			wantOK: true,
		},
		{
			name:   "class filter excludes other processes' windows",
			query:  domain.WindowQuery{PIDs: []int{10, 20}, ClassContains: []string{"DOLPHIN"}},
			want:   5,
			wantOK: true,
		},
		{
			name:   "tie keeps stacking order",
			query:  domain.WindowQuery{PIDs: []int{20}},
			want:   5,
			wantOK: true,
		},
		{
			name:   "title filter matching any needle",
			query:  domain.WindowQuery{PIDs: []int{20}, TitleContains: []string{"nope", "| game"}},
			want:   6,
			wantOK: true,
		},
		{
			name:  "no pid match",
			query: domain.WindowQuery{PIDs: []int{99}},
		},
		{
			name:  "filters exclude everything",
			query: domain.WindowQuery{PIDs: []int{10}, ClassContains: []string{"pcsx2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := selectWindow(candidates, tt.query)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCheckPlacement(t *testing.T) {
	want := domain.Rect{X: -1211, Y: 43, Width: 1057, Height: 835}

	tests := []struct {
		name     string
		want     domain.Rect
		got      domain.Rect
		readable bool
		ok       bool
	}{
		{"exact", want, want, true, true},
		{"within a pixel", want, domain.Rect{X: -1210, Y: 44, Width: 1056, Height: 835}, true, true},
		{"window did not move", want, domain.Rect{X: 300, Y: 200, Width: 800, Height: 600}, true, false},
		{"moved but not resized", want, domain.Rect{X: -1211, Y: 43, Width: 800, Height: 600}, true, false},
		{"position only ignores size", domain.Rect{X: 10, Y: 20}, domain.Rect{X: 10, Y: 20, Width: 640, Height: 480}, true, true},
		{"geometry unreadable", want, domain.Rect{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPlacement(tt.want, tt.got, tt.readable)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
