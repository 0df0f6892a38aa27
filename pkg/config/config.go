// Package config loads xkbstatus settings from a YAML file and the command
// line. Flags given on the command line win over the file, the file wins
// over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
	"io"
	"os"
	"path/filepath"
)

const (
	appName = "xkbstatus"

	StoreSQLite = "sqlite"
	StoreJSON   = "json"
	StoreMemory = "memory"
)

type Config struct {
	Display      string `yaml:"display"`
	EvdevXMLPath string `yaml:"evdev_xml_path"`
	Store        string `yaml:"store"`
	StorePath    string `yaml:"store_path"`
	Debug        bool   `yaml:"debug"`

	// History prints that many recorded changes and exits. Command line
	// only.
	History int `yaml:"-"`
}

func Default() Config {
	return Config{
		EvdevXMLPath: "/usr/share/X11/xkb/rules/evdev.xml",
		Store:        StoreSQLite,
	}
}

// Load parses args and merges them with the config file named by -config,
// or the default config file if it exists.
func Load(args []string, stderr io.Writer) (Config, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var flags Config
	configPath := fs.String("config", "", "path to config.yaml (default $XDG_CONFIG_HOME/xkbstatus/config.yaml)")
	fs.StringVar(&flags.Display, "display", "", "X display to connect to (default $DISPLAY)")
	fs.StringVar(&flags.EvdevXMLPath, "evdev-xml-path", Default().EvdevXMLPath, "path to evdev.xml")
	fs.StringVar(&flags.Store, "store", Default().Store, "layout history store: sqlite, json or memory")
	fs.StringVar(&flags.StorePath, "store-path", "", "layout history file (default in $XDG_STATE_HOME/xkbstatus)")
	fs.BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	fs.IntVar(&flags.History, "history", 0, "print the last n recorded layouts and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := cfg.loadFile(*configPath); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "display":
			cfg.Display = flags.Display
		case "evdev-xml-path":
			cfg.EvdevXMLPath = flags.EvdevXMLPath
		case "store":
			cfg.Store = flags.Store
		case "store-path":
			cfg.StorePath = flags.StorePath
		case "debug":
			cfg.Debug = flags.Debug
		case "history":
			cfg.History = flags.History
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile reads path into c. An empty path means the default file, which
// may be missing.
func (c *Config) loadFile(path string) error {
	if path == "" {
		found, err := xdg.SearchConfigFile(filepath.Join(appName, "config.yaml"))
		if err != nil {
			return nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreJSON, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.History < 0 {
		return errors.New("history must not be negative")
	}
	return nil
}

// ResolveStorePath returns the history file, creating its directory when
// it is the default one. The memory store has no file.
func (c Config) ResolveStorePath() (string, error) {
	if c.Store == StoreMemory || c.StorePath != "" {
		return c.StorePath, nil
	}

	name := "layouts.db"
	if c.Store == StoreJSON {
		name = "layouts.json"
	}

	path, err := xdg.StateFile(filepath.Join(appName, name))
	if err != nil {
		return "", fmt.Errorf("get state file: %w", err)
	}
	return path, nil
}
