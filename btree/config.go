package btree

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	// DefaultLogPath is the live log location when none is configured.
	DefaultLogPath = "log.txt"
	// DefaultTempName is the sibling file compaction writes through.
	DefaultTempName = "temp_log.txt"
)

// Config configures a LogManager.
type Config struct {
	// Path is the live log file (default: log.txt).
	Path string

	// TempPath is the compaction scratch file. It must live on the same
	// filesystem as Path so the replacing rename is atomic. Defaults to
	// temp_log.txt next to Path.
	TempPath string

	// Degree is the tree's branching factor (default: 3).
	Degree int

	// Sync selects the per-append durability mode (default: SyncNone,
	// flush without fsync).
	Sync SyncMode

	// Logger receives store events. Nil disables logging.
	Logger *zerolog.Logger
}

func (c *Config) withDefaults() {
	if c.Path == "" {
		c.Path = DefaultLogPath
	}
	if c.TempPath == "" {
		c.TempPath = filepath.Join(filepath.Dir(c.Path), DefaultTempName)
	}
	if c.Degree < 2 {
		c.Degree = DefaultDegree
	}
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

// LoadConfig reads a Config from a YAML, TOML, or JSON file. Absent keys
// fall back to the defaults. Recognized keys:
//
//	log.path        live log file
//	log.temp_path   compaction scratch file
//	log.sync        "none" or "always"
//	tree.degree     branching factor
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("log.path", DefaultLogPath)
	v.SetDefault("log.sync", "none")
	v.SetDefault("tree.degree", DefaultDegree)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Config{
		Path:     v.GetString("log.path"),
		TempPath: v.GetString("log.temp_path"),
		Degree:   v.GetInt("tree.degree"),
	}

	switch mode := v.GetString("log.sync"); mode {
	case "none":
		cfg.Sync = SyncNone
	case "always":
		cfg.Sync = SyncAlways
	default:
		return Config{}, fmt.Errorf("config %s: unknown log.sync mode %q", path, mode)
	}

	cfg.withDefaults()
	return cfg, nil
}
