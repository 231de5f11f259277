package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dmitrijs2005/gatewaykit/internal/flagx"
	"github.com/dmitrijs2005/gatewaykit/internal/timex"
)

// fileConfig is the DTO files are decoded into. Unset fields leave the
// current values alone.
type fileConfig struct {
	Relay struct {
		Target                 string         `json:"target" toml:"target"`
		SettleDelay            timex.Duration `json:"settle_delay" toml:"settle_delay"`
		PreRegistrationTimeout timex.Duration `json:"pre_registration_timeout" toml:"pre_registration_timeout"`
	} `json:"relay" toml:"relay"`
	Storage struct {
		Backend string `json:"backend" toml:"backend"`
		Path    string `json:"path" toml:"path"`
		DSN     string `json:"dsn" toml:"dsn"`
		S3      struct {
			Bucket    string `json:"bucket" toml:"bucket"`
			Region    string `json:"region" toml:"region"`
			Endpoint  string `json:"endpoint" toml:"endpoint"`
			AccessKey string `json:"access_key" toml:"access_key"`
			SecretKey string `json:"secret_key" toml:"secret_key"`
			Prefix    string `json:"prefix" toml:"prefix"`
		} `json:"s3" toml:"s3"`
	} `json:"storage" toml:"storage"`
	Log struct {
		Level  string `json:"level" toml:"level"`
		Format string `json:"format" toml:"format"`
	} `json:"log" toml:"log"`
	RenewalThreshold timex.Duration `json:"renewal_threshold" toml:"renewal_threshold"`
}

// LoadFile overlays cfg with the file at path, decoded as TOML when the
// extension is .toml and as JSON otherwise.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	default:
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.Relay.Target, fc.Relay.Target)
	setDuration(&cfg.Relay.SettleDelay, fc.Relay.SettleDelay)
	setDuration(&cfg.Relay.PreRegistrationTimeout, fc.Relay.PreRegistrationTimeout)

	setString(&cfg.Storage.Backend, fc.Storage.Backend)
	setString(&cfg.Storage.Path, fc.Storage.Path)
	setString(&cfg.Storage.DSN, fc.Storage.DSN)
	setString(&cfg.Storage.S3.Bucket, fc.Storage.S3.Bucket)
	setString(&cfg.Storage.S3.Region, fc.Storage.S3.Region)
	setString(&cfg.Storage.S3.Endpoint, fc.Storage.S3.Endpoint)
	setString(&cfg.Storage.S3.AccessKey, fc.Storage.S3.AccessKey)
	setString(&cfg.Storage.S3.SecretKey, fc.Storage.S3.SecretKey)
	setString(&cfg.Storage.S3.Prefix, fc.Storage.S3.Prefix)

	setString(&cfg.Log.Level, fc.Log.Level)
	setString(&cfg.Log.Format, fc.Log.Format)

	setDuration(&cfg.RenewalThreshold, fc.RenewalThreshold)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

// parseFile overlays cfg with the file named by -c or -config.
func parseFile(cfg *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}
	if err := LoadFile(cfg, path); err != nil {
		panic(err)
	}
}
