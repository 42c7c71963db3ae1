package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "todos.db"
	DefaultLogName        = "tasklite.log"
	EnvConfigPath         = "TASKLITE_CONFIG"
	appDir                = "tasklite"

	TabTasks   = "tasks"
	TabHistory = "history"
)

type Keymap struct {
	Quit      string `toml:"quit"`
	Add       string `toml:"add"`
	Up        string `toml:"up"`
	Down      string `toml:"down"`
	Complete  string `toml:"complete"`
	Delete    string `toml:"delete"`
	SwitchTab string `toml:"switch_tab"`
	Confirm   string `toml:"confirm"`
	Cancel    string `toml:"cancel"`
	Reload    string `toml:"reload"`
}

type Config struct {
	DBPath     string `toml:"db_path"`
	DefaultTab string `toml:"default_tab"`
	LogFile    string `toml:"log_file"`
	LogLevel   string `toml:"log_level"`
	Keys       Keymap `toml:"keys"`
}

// ResolveConfigPath returns $TASKLITE_CONFIG when set, otherwise
// <user config dir>/tasklite/config.toml, falling back to the working
// directory when no user config dir is known.
func ResolveConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultConfigFileName
	}
	return filepath.Join(dir, appDir, DefaultConfigFileName)
}

// LoadOrCreate reads the config at path, writing the defaults there first if
// the file does not exist. Relative db and log paths resolve against the
// config file's directory.
func LoadOrCreate(path string) (Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		return cfg.resolve(filepath.Dir(path)), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.fillDefaults()
	return cfg.resolve(filepath.Dir(path)), nil
}

func (c *Config) fillDefaults() {
	def := defaultConfig()
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	switch strings.ToLower(strings.TrimSpace(c.DefaultTab)) {
	case TabHistory:
		c.DefaultTab = TabHistory
	default:
		c.DefaultTab = TabTasks
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	k := &c.Keys
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&k.Quit, def.Keys.Quit)
	fill(&k.Add, def.Keys.Add)
	fill(&k.Up, def.Keys.Up)
	fill(&k.Down, def.Keys.Down)
	fill(&k.Complete, def.Keys.Complete)
	fill(&k.Delete, def.Keys.Delete)
	fill(&k.SwitchTab, def.Keys.SwitchTab)
	fill(&k.Confirm, def.Keys.Confirm)
	fill(&k.Cancel, def.Keys.Cancel)
	fill(&k.Reload, def.Keys.Reload)
}

func (c Config) resolve(base string) Config {
	c.DBPath = resolvePath(base, c.DBPath)
	c.LogFile = resolvePath(base, c.LogFile)
	return c
}

func resolvePath(base, p string) string {
	if p == "" || p == ":memory:" || strings.HasPrefix(p, "file:") || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func write(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultConfig() Config {
	return Config{
		DBPath:     DefaultDBName,
		DefaultTab: TabTasks,
		LogFile:    DefaultLogName,
		LogLevel:   "info",
		Keys: Keymap{
			Quit:      "q",
			Add:       "a",
			Up:        "k",
			Down:      "j",
			Complete:  " ",
			Delete:    "d",
			SwitchTab: "tab",
			Confirm:   "enter",
			Cancel:    "esc",
			Reload:    "r",
		},
	}
}
