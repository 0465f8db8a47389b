// Package config loads client configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TheGU/minis3/pkg/auth"
	"github.com/TheGU/minis3/pkg/client"
)

// Config holds runtime configuration for the minis3 client.
//
// YAML example:
//   accessKey: "AKIAEXAMPLE"
//   secretKey: "secret"
//   endpoint: "s3.amazonaws.com"
//   tls: true
//   verify: true
//   signatureVersion: "s3v4"   # "s3" for legacy V2
//   defaultBucket: "my-bucket"
//   virtualHost: false
//   pool:
//     size: 4
//   tracing:
//     enabled: false
//
// Environment overrides use the MINIS3_ prefix: MINIS3_ACCESS_KEY,
// MINIS3_SECRET_KEY, MINIS3_ENDPOINT, MINIS3_TLS, MINIS3_VERIFY,
// MINIS3_SIGNATURE_VERSION, MINIS3_DEFAULT_BUCKET, MINIS3_REGION,
// MINIS3_VIRTUAL_HOST, MINIS3_POOL_SIZE, MINIS3_TRACING_ENABLED,
// MINIS3_TRACING_ENDPOINT, MINIS3_TRACING_PROTOCOL, MINIS3_TRACING_SAMPLE.
// MINIS3_CONFIG names the YAML file; the loader falls back to
// ./minis3.yaml, then to defaults.
type Config struct {
	AccessKey        string        `yaml:"accessKey"`
	SecretKey        string        `yaml:"secretKey"`
	Endpoint         string        `yaml:"endpoint"`
	TLS              bool          `yaml:"tls"`
	Verify           bool          `yaml:"verify"`
	SignatureVersion string        `yaml:"signatureVersion"`
	DefaultBucket    string        `yaml:"defaultBucket,omitempty"`
	Region           string        `yaml:"region,omitempty"`
	VirtualHost      bool          `yaml:"virtualHost"`
	Pool             PoolConfig    `yaml:"pool"`
	Tracing          TracingConfig `yaml:"tracing"`
}

// PoolConfig controls the worker pool.
type PoolConfig struct {
	Size int `yaml:"size"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Protocol    string  `yaml:"protocol,omitempty"`    // "grpc" (default) or "http"
	SampleRatio float64 `yaml:"sampleRatio,omitempty"` // 0.0 - 1.0
	ServiceName string  `yaml:"serviceName,omitempty"`
}

// Default returns a Config with safe defaults: AWS endpoint, TLS on,
// certificate verification on, Signature V4, path-style addressing, one
// worker.
func Default() Config {
	return Config{
		Endpoint:         "s3.amazonaws.com",
		TLS:              true,
		Verify:           true,
		SignatureVersion: auth.VersionV4,
		VirtualHost:      false,
		Pool:             PoolConfig{Size: 1},
		Tracing: TracingConfig{
			Enabled:     false,
			Protocol:    "grpc",
			SampleRatio: 0.0,
			ServiceName: "minis3",
		},
	}
}

// Load reads configuration from path. If path is empty, it tries
// ./minis3.yaml; if not found, it returns Default(). Environment overrides
// apply last.
func Load(path string) (Config, error) {
	if path == "" {
		if _, err := os.Stat("minis3.yaml"); err == nil {
			path = "minis3.yaml"
		}
	}
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg = applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the client or pool would refuse.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return auth.ErrMissingCredentials
	}
	switch c.SignatureVersion {
	case auth.VersionV2, auth.VersionV4:
	default:
		return fmt.Errorf("%w: %q", auth.ErrUnknownVersion, c.SignatureVersion)
	}
	if c.Pool.Size < 1 {
		return fmt.Errorf("config: pool size must be >= 1, got %d", c.Pool.Size)
	}
	return nil
}

// Credentials returns the configured key pair.
func (c Config) Credentials() auth.Credentials {
	return auth.Credentials{AccessKey: c.AccessKey, SecretKey: c.SecretKey}
}

// ClientOptions maps the configuration onto client.Options.
func (c Config) ClientOptions() client.Options {
	return client.Options{
		Endpoint:           c.Endpoint,
		TLS:                c.TLS,
		InsecureSkipVerify: !c.Verify,
		SignatureVersion:   c.SignatureVersion,
		DefaultBucket:      c.DefaultBucket,
		Region:             c.Region,
		VirtualHost:        c.VirtualHost,
	}
}

func applyEnvOverrides(cfg Config) Config {
	if v := os.Getenv("MINIS3_ACCESS_KEY"); v != "" {
		cfg.AccessKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIS3_SECRET_KEY"); v != "" {
		cfg.SecretKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIS3_ENDPOINT"); v != "" {
		cfg.Endpoint = strings.TrimSpace(v)
	}
	if v, ok := envBool("MINIS3_TLS"); ok {
		cfg.TLS = v
	}
	if v, ok := envBool("MINIS3_VERIFY"); ok {
		cfg.Verify = v
	}
	if v := os.Getenv("MINIS3_SIGNATURE_VERSION"); v != "" {
		ver := strings.ToLower(strings.TrimSpace(v))
		switch ver {
		case auth.VersionV2, auth.VersionV4:
			cfg.SignatureVersion = ver
		default:
			// ignore invalid value; keep existing
		}
	}
	if v := os.Getenv("MINIS3_DEFAULT_BUCKET"); v != "" {
		cfg.DefaultBucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIS3_REGION"); v != "" {
		cfg.Region = strings.TrimSpace(v)
	}
	if v, ok := envBool("MINIS3_VIRTUAL_HOST"); ok {
		cfg.VirtualHost = v
	}
	if v := os.Getenv("MINIS3_POOL_SIZE"); v != "" {
		if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && x > 0 {
			cfg.Pool.Size = x
		}
	}
	if v, ok := envBool("MINIS3_TRACING_ENABLED"); ok {
		cfg.Tracing.Enabled = v
	}
	if v := os.Getenv("MINIS3_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIS3_TRACING_PROTOCOL"); v != "" {
		p := strings.ToLower(strings.TrimSpace(v))
		if p == "grpc" || p == "http" {
			cfg.Tracing.Protocol = p
		}
	}
	if v := os.Getenv("MINIS3_TRACING_SAMPLE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			if f < 0 {
				f = 0
			}
			if f > 1 {
				f = 1
			}
			cfg.Tracing.SampleRatio = f
		}
	}
	return cfg
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}
