package config

import (
	"errors"
	"fmt"
	"time"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Relay   Relay
	Storage Storage
	Log     Log

	// RenewalThreshold is how close to expiry an identity certificate gets
	// renewed.
	RenewalThreshold time.Duration
}

type Relay struct {
	Target                 string
	SettleDelay            time.Duration
	PreRegistrationTimeout time.Duration
}

type Storage struct {
	Backend string
	// Path is the database file for sqlite and bolt.
	Path string
	// DSN is the postgres connection string.
	DSN string
	S3  S3
}

type S3 struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

type Log struct {
	Level  string
	Format string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Relay = Relay{
		Target:                 "127.0.0.1:50051",
		SettleDelay:            time.Second,
		PreRegistrationTimeout: 30 * time.Second,
	}
	c.Storage = Storage{Backend: BackendSQLite, Path: "gatewaykit.db", S3: S3{Region: "us-east-1"}}
	c.Log = Log{Level: "info", Format: "text"}
	c.RenewalThreshold = 60 * 24 * time.Hour
}

// Default returns a Config holding the defaults.
func Default() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

// Validate reports settings the storage backend cannot work with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite, BackendBolt:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage path is required for %s", ErrInvalidConfig, c.Storage.Backend)
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage dsn is required for postgres", ErrInvalidConfig)
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Relay.Target == "" {
		return fmt.Errorf("%w: relay target is required", ErrInvalidConfig)
	}
	if c.RenewalThreshold <= 0 {
		return fmt.Errorf("%w: renewal threshold must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig builds a Config from defaults, then the config file named on
// the command line (if any), then command-line flags. It panics when the
// file cannot be read or parsed.
func LoadConfig() *Config {
	cfg := Default()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}
