package config

import (
	"github.com/adrg/xdg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// isolate points the xdg directories at a temporary home.
func isolate(t *testing.T) string {
	t.Helper()

	// runs after the environment is restored
	t.Cleanup(xdg.Reload)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_CONFIG_DIRS", filepath.Join(home, "etc"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))
	xdg.Reload()
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(nil, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("got %+v, want %+v", cfg, Default())
	}
}

func TestLoadFileAndFlags(t *testing.T) {
	isolate(t)

	path := writeConfig(t, `
display: ":1"
store: json
store_path: /tmp/history.json
debug: true
`)

	tests := []struct {
		name string
		args []string
		want Config
	}{
		{
			name: "file only",
			args: []string{"-config", path},
			want: Config{
				Display:      ":1",
				EvdevXMLPath: Default().EvdevXMLPath,
				Store:        StoreJSON,
				StorePath:    "/tmp/history.json",
				Debug:        true,
			},
		},
		{
			name: "flags win",
			args: []string{"-config", path, "-display", ":2", "-store", "memory", "-debug=false", "-history", "5"},
			want: Config{
				Display:      ":2",
				EvdevXMLPath: Default().EvdevXMLPath,
				Store:        StoreMemory,
				StorePath:    "/tmp/history.json",
				History:      5,
			},
		},
		{
			// flags left at their default do not reset file values
			name: "unset flags keep file values",
			args: []string{"-config", path, "-evdev-xml-path", "/etc/evdev.xml"},
			want: Config{
				Display:      ":1",
				EvdevXMLPath: "/etc/evdev.xml",
				Store:        StoreJSON,
				StorePath:    "/tmp/history.json",
				Debug:        true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.args, io.Discard)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg != tt.want {
				t.Errorf("got %+v, want %+v", cfg, tt.want)
			}
		})
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	home := isolate(t)

	dir := filepath.Join(home, ".config", "xkbstatus")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: memory\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(nil, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("got store %q, want %q", cfg.Store, StoreMemory)
	}
}

func TestLoadErrors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing explicit file", []string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}, "read config"},
		{"bad yaml", []string{"-config", writeConfig(t, "store: [")}, "parse config"},
		{"unknown store", []string{"-store", "postgres"}, "unknown store"},
		{"negative history", []string{"-history", "-1"}, "history"},
		{"unknown flag", []string{"-frobnicate"}, "frobnicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, io.Discard)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want an error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestResolveStorePath(t *testing.T) {
	home := isolate(t)
	state := filepath.Join(home, ".local", "state", "xkbstatus")

	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Store: StoreSQLite}, filepath.Join(state, "layouts.db")},
		{Config{Store: StoreJSON}, filepath.Join(state, "layouts.json")},
		{Config{Store: StoreJSON, StorePath: "/tmp/x.json"}, "/tmp/x.json"},
		{Config{Store: StoreMemory}, ""},
	}

	for _, tt := range tests {
		got, err := tt.cfg.ResolveStorePath()
		if err != nil {
			t.Fatalf("%+v: %v", tt.cfg, err)
		}
		if got != tt.want {
			t.Errorf("%+v: got %q, want %q", tt.cfg, got, tt.want)
		}
	}

	if _, err := os.Stat(state); err != nil {
		t.Errorf("state directory not created: %v", err)
	}
}
