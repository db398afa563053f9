package main

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/rawkv/store"
)

const defaultListen = "127.0.0.1:7450"

type serverConfig struct {
	Listen         string   `yaml:"listen"`
	MetricsListen  string   `yaml:"metrics_listen"`
	Engine         string   `yaml:"engine"`
	Path           string   `yaml:"path"`
	ColumnFamilies []string `yaml:"column_families"`
	CertFile       string   `yaml:"cert_file"`
	KeyFile        string   `yaml:"key_file"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Listen:         defaultListen,
		Engine:         store.EngineMem,
		ColumnFamilies: []string{"default", "write", "lock"},
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// loadConfigFile overlays the YAML file at path onto cfg. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func loadConfigFile(path string, cfg *serverConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.Wrapf(err, "config: parsing %s", path)
	}
	return nil
}

func (cfg *serverConfig) validate() error {
	if cfg.Listen == "" {
		return errors.New("config: listen address is required")
	}
	switch cfg.Engine {
	case store.EngineMem, store.EnginePebble:
	case store.EngineBolt:
		if cfg.Path == "" {
			return errors.New("config: bolt engine needs a path")
		}
	default:
		return errors.Newf("config: unknown engine %q", cfg.Engine)
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return errors.New("config: cert_file and key_file go together")
	}
	return nil
}
