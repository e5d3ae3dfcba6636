// Package config loads the process configuration file.
package config

import (
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/jd3nn1s/telemeter/filter"
	"github.com/jd3nn1s/telemeter/forwarder"
	"github.com/pkg/errors"
)

type StorageConfig struct {
	Path string `toml:"Path" validate:"required"`
}

type HTTPConfig struct {
	Addr string `toml:"Addr"`
}

type SourceConfig struct {
	// Replay is a JSON lines sample file; empty means no replay source.
	Replay     string `toml:"Replay"`
	IntervalMS int    `toml:"IntervalMS" validate:"gte=0"`
}

type Config struct {
	Filter    filter.Params        `toml:"filter"`
	Storage   StorageConfig        `toml:"storage"`
	HTTP      HTTPConfig           `toml:"http"`
	Source    SourceConfig         `toml:"source"`
	Forwarder *forwarder.UDPConfig `toml:"forwarder"`
}

func Default() *Config {
	return &Config{
		Filter: filter.DefaultParams,
		Storage: StorageConfig{
			Path: "telemeter.db",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Source: SourceConfig{
			IntervalMS: 1000,
		},
	}
}

// Load reads the file at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", path)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "unable to decode configuration")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}
