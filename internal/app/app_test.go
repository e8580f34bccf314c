package app

import (
	"os"
	"path/filepath"
	"testing"

	"rewardbot/internal/config"
)

func loadedManager(t *testing.T, body string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	m := config.NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestSkipCompletedToday(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"omitted defaults to on", `{"accounts":{"path":"a.json"}}`, true},
		{"explicit off", `{"accounts":{"path":"a.json"},"runner":{"skip_completed_today":false}}`, false},
		{"explicit on", `{"accounts":{"path":"a.json"},"runner":{"skip_completed_today":true}}`, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &App{cfgm: loadedManager(t, tt.body)}
			if got := a.skipCompletedToday(); got != tt.want {
				t.Fatalf("skipCompletedToday() = %v, want %v", got, tt.want)
			}
		})
	}
}
