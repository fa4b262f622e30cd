// Package engineconfig loads the scanner engine's layered configuration:
// built-in defaults, overlaid by a system config file, overlaid by a user
// config file, each layer only replacing the fields it actually sets.
package engineconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AsgerHL/Bachelor-POC/pkg/pipeline"
)

const (
	envSystemConfigPath = "OS2DS_ENGINE_SYSTEM_CONFIG_PATH"
	envUserConfigPath   = "OS2DS_ENGINE_USER_CONFIG_PATH"

	// EngineVersion is the semver of this build of the pipeline, checked
	// against a scan spec's configuration.schema_version constraint before
	// the Explorer accepts it.
	EngineVersion = "1.0.0"
)

// Config is the engine's own operating configuration: which queues it
// talks to, how many messages it prefetches per stage, and where its
// bus/database/tracing backends live. This is distinct from a scan's
// messages.ScanSpec.Configuration, which configures one scan.
type Config struct {
	Queues   pipeline.QueueNames `yaml:"queues"`
	Prefetch int                 `yaml:"prefetch"`

	RedisAddr    string `yaml:"redis_addr"`
	SQLDriver    string `yaml:"sql_driver"` // "postgres" or "sqlite"
	SQLDSN       string `yaml:"sql_dsn"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	LogLevel     string `yaml:"log_level"`

	// CredentialEncryptionKey is a hex-encoded 32-byte AES-256 key. When
	// set, stage binaries wire a pkg/credentials.Store (on the same
	// SQLDriver/SQLDSN database) into model.EWSTokenProvider, so EWS
	// sources can obtain and refresh mailbox bearer tokens. Left empty,
	// no store is wired and EWS sources that need a fresh token fail with
	// an UnavailableError instead of scanning with no credential.
	CredentialEncryptionKey string `yaml:"credential_encryption_key"`
}

// Default returns the built-in default configuration: an in-memory bus,
// no database sink configured, tracing disabled.
func Default() *Config {
	return &Config{
		Queues:   pipeline.QueueNames{}.WithDefaults(),
		Prefetch: pipeline.DefaultPrefetch,
		RedisAddr: "",
		SQLDriver: "sqlite",
		SQLDSN:    ":memory:",
		LogLevel:  "info",
	}
}

// overlay merges non-zero fields of patch onto base, field by field, so a
// layer that only sets log_level doesn't clobber queue names from an
// earlier layer.
func overlay(base *Config, patch *Config) {
	if patch.Queues.ScanSpecs != "" {
		base.Queues.ScanSpecs = patch.Queues.ScanSpecs
	}
	if patch.Queues.Conversions != "" {
		base.Queues.Conversions = patch.Queues.Conversions
	}
	if patch.Queues.Matches != "" {
		base.Queues.Matches = patch.Queues.Matches
	}
	if patch.Queues.MetadataRequests != "" {
		base.Queues.MetadataRequests = patch.Queues.MetadataRequests
	}
	if patch.Queues.Metadata != "" {
		base.Queues.Metadata = patch.Queues.Metadata
	}
	if patch.Queues.Problems != "" {
		base.Queues.Problems = patch.Queues.Problems
	}
	if patch.Queues.Status != "" {
		base.Queues.Status = patch.Queues.Status
	}
	if patch.Prefetch != 0 {
		base.Prefetch = patch.Prefetch
	}
	if patch.RedisAddr != "" {
		base.RedisAddr = patch.RedisAddr
	}
	if patch.SQLDriver != "" {
		base.SQLDriver = patch.SQLDriver
	}
	if patch.SQLDSN != "" {
		base.SQLDSN = patch.SQLDSN
	}
	if patch.OTLPEndpoint != "" {
		base.OTLPEndpoint = patch.OTLPEndpoint
	}
	if patch.LogLevel != "" {
		base.LogLevel = patch.LogLevel
	}
	if patch.CredentialEncryptionKey != "" {
		base.CredentialEncryptionKey = patch.CredentialEncryptionKey
	}
}

func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("engineconfig: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("engineconfig: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// Load builds the layered configuration: Default(), then systemPath (if
// non-empty and present), then userPath (if non-empty and present).
func Load(systemPath, userPath string) (*Config, error) {
	cfg := Default()

	if systemPath != "" {
		layer, err := loadLayer(systemPath)
		if err != nil {
			return nil, err
		}
		overlay(cfg, layer)
	}

	if userPath != "" {
		layer, err := loadLayer(userPath)
		if err != nil {
			return nil, err
		}
		overlay(cfg, layer)
	}

	return cfg, nil
}

// LoadFromEnv builds the layered configuration using the system/user
// config paths named by OS2DS_ENGINE_SYSTEM_CONFIG_PATH and
// OS2DS_ENGINE_USER_CONFIG_PATH.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(envSystemConfigPath), os.Getenv(envUserConfigPath))
}
