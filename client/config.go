package main

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dedis/lottery/lottery"
	"golang.org/x/xerrors"
)

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// config is the content of the configuration file of the tool.
type config struct {
	// Database is the path of the local ledger.
	Database  string
	Custodian string
	Oracle    string
	// BeaconKey is the hex-encoded private key of the local beacon.
	BeaconKey   string
	DrawTimeout duration
}

func defaultConfig() *config {
	def := lottery.DefaultConfig()
	return &config{
		Database:    "lottery.db",
		Custodian:   string(def.Custodian),
		Oracle:      string(def.Oracle),
		DrawTimeout: duration{def.DrawTimeout},
	}
}

// readConfig reads the configuration at path on top of the defaults. An
// empty path returns the defaults.
func readConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, xerrors.Errorf("reading config %s: %v", path, err)
	}
	if cfg.Custodian == "" || cfg.Oracle == "" {
		return nil, xerrors.New("custodian and oracle cannot be empty")
	}
	if cfg.Custodian == cfg.Oracle {
		return nil, xerrors.New("custodian and oracle must differ")
	}
	return cfg, nil
}

func (c *config) registryConfig() lottery.Config {
	return lottery.Config{
		Custodian:   lottery.Identity(c.Custodian),
		Oracle:      lottery.Identity(c.Oracle),
		DrawTimeout: c.DrawTimeout.Duration,
	}
}
