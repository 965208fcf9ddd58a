// Package config holds the boxen configuration file format and loading.
//
// The config file is in sconf format. See "boxen config-describe" for an
// annotated example.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mjl-/sconf"
)

// Config is the parsed form of the boxen.conf configuration file.
type Config struct {
	DataDir  string `sconf-doc:"Directory where the message database is stored. If relative, it is relative to the directory of boxen.conf."`
	LogLevel string `sconf:"optional" sconf-doc:"Log level: error, warn, info or debug. Default: info."`

	// Path of the loaded config file, for resolving relative DataDir.
	Path string `sconf:"-" json:"-"`
}

// Defaults returns a config with default values, used when no config file is
// present.
func Defaults() Config {
	return Config{DataDir: "data", LogLevel: "info"}
}

// Load reads and parses the config file at path.
func Load(path string) (Config, error) {
	var c Config
	if err := sconf.ParseFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	c.Path = path
	return c, nil
}

// Database returns the path of the message database file.
func (c Config) Database() string {
	dir := c.DataDir
	if !filepath.IsAbs(dir) && c.Path != "" {
		dir = filepath.Join(filepath.Dir(c.Path), dir)
	}
	return filepath.Join(dir, "boxen.db")
}

// EnsureDataDir creates the data directory if it does not yet exist.
func (c Config) EnsureDataDir() error {
	dir := filepath.Dir(c.Database())
	if err := os.MkdirAll(dir, 0770); err != nil {
		return fmt.Errorf("creating data directory: %v", err)
	}
	return nil
}

// Describe writes an annotated example config file to w.
func Describe(w io.Writer) error {
	return sconf.Describe(w, Defaults())
}
