package app

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLogger_Levels(t *testing.T) {
	cases := []struct {
		level       string
		wantDebugOn bool
		wantInfoOn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"", false, true},
		{"bogus", false, true},
	}

	for _, tc := range cases {
		log := NewLogger(tc.level)
		ctx := context.Background()

		if got := log.Enabled(ctx, slog.LevelDebug); got != tc.wantDebugOn {
			t.Fatalf("level %q: debug enabled = %v, want %v", tc.level, got, tc.wantDebugOn)
		}
		if got := log.Enabled(ctx, slog.LevelInfo); got != tc.wantInfoOn {
			t.Fatalf("level %q: info enabled = %v, want %v", tc.level, got, tc.wantInfoOn)
		}
	}
}
