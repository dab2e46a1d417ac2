// Package config describes named queue clients and builds them.
//
// A Config is usually read from a YAML file:
//
//	clients:
//	  orders:
//	    type: sqs
//	    region: eu-west-1
//	    resource: https://sqs.eu-west-1.amazonaws.com/123456789012/orders
//	    large_payload:
//	      enabled: true
//	      store: s3
//	      location: orders-large-messages
//	    validation:
//	      enabled: true
//
// Each client's fields can then be overridden from the environment with
// QUEUE_<NAME>_<FIELD> variables such as QUEUE_ORDERS_REGION.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Client types.
const (
	TypeSQS    = "sqs"
	TypeSNS    = "sns"
	TypePubsub = "pubsub"
	TypeMock   = "mock"
)

// Blob store kinds for large payloads.
const (
	StoreGCS    = "gcs"
	StoreS3     = "s3"
	StoreMemory = "memory"
)

// Config holds every named client.
type Config struct {
	Clients map[string]ClientConfig `yaml:"clients"`
}

// ClientConfig describes one queue or topic client.
type ClientConfig struct {
	Type string `yaml:"type"`

	// Region and Endpoint apply to AWS clients. Endpoint overrides the service URL,
	// e.g. for LocalStack.
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// Resource is the SQS queue URL, the SNS topic ARN or the Pub/Sub topic id.
	Resource string `yaml:"resource"`

	AccessKey       string `yaml:"access_key"`
	SecretAccessKey string `yaml:"secret_access_key"`

	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	// Subscription is the Pub/Sub subscription id messages are received from.
	Subscription string `yaml:"subscription"`

	LargePayload LargePayloadConfig `yaml:"large_payload"`
	Validation   ValidationConfig   `yaml:"validation"`
}

// LargePayloadConfig enables blob offloading for a client.
type LargePayloadConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Store     string `yaml:"store"`
	Location  string `yaml:"location"`
	KeyPrefix string `yaml:"key_prefix"`
	// Threshold in bytes; zero uses the offload default.
	Threshold int `yaml:"threshold"`
}

// ValidationConfig enables SNS signature validation for received notifications.
type ValidationConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RequireEnvelope bool   `yaml:"require_envelope"`
	CertHostPattern string `yaml:"cert_host_pattern"`
	CertCacheSize   int    `yaml:"cert_cache_size"`
	// RedisAddr adds a shared Redis layer to the certificate cache.
	RedisAddr string `yaml:"redis_addr"`
}

// LoadDefaultClientConfig returns a mock client config for name with any
// QUEUE_<NAME>_* environment overrides applied.
func LoadDefaultClientConfig(name string) ClientConfig {
	cfg := ClientConfig{
		Type: TypeMock,
		LargePayload: LargePayloadConfig{
			Store: StoreMemory,
		},
	}
	cfg.applyEnv(name)
	return cfg
}

// Load reads a YAML config from path, applies environment overrides and
// validates every client.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML config, applies environment overrides and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for name, c := range cfg.Clients {
		c.applyEnv(name)
		cfg.Clients[name] = c
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every client.
func (c *Config) Validate() error {
	var errs []error
	for name, cc := range c.Clients {
		if err := cc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("client %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks that the fields required by the client type are present.
func (c ClientConfig) Validate() error {
	switch c.Type {
	case TypeSQS, TypeSNS:
		if c.Resource == "" {
			return errors.New("resource is required")
		}
		if c.Region == "" {
			return errors.New("region is required")
		}
		if (c.AccessKey == "") != (c.SecretAccessKey == "") {
			return errors.New("access_key and secret_access_key must be set together")
		}
	case TypePubsub:
		if c.ProjectID == "" {
			return errors.New("project_id is required")
		}
		if c.Resource == "" && c.Subscription == "" {
			return errors.New("resource or subscription is required")
		}
	case TypeMock:
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown type %q", c.Type)
	}

	if c.LargePayload.Enabled {
		switch c.LargePayload.Store {
		case StoreGCS, StoreS3, StoreMemory:
		default:
			return fmt.Errorf("unknown large payload store %q", c.LargePayload.Store)
		}
		if c.LargePayload.Store == StoreS3 && c.Region == "" {
			return errors.New("region is required for the s3 large payload store")
		}
		if c.LargePayload.Location == "" {
			return errors.New("large payload location is required")
		}
		if c.LargePayload.Threshold < 0 {
			return errors.New("large payload threshold cannot be negative")
		}
	}
	return nil
}

// applyEnv overrides fields from QUEUE_<NAME>_<FIELD> variables. Dashes and dots in
// the name become underscores.
func (c *ClientConfig) applyEnv(name string) {
	prefix := "QUEUE_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_"
	str := func(field string, dst *string) {
		if v := os.Getenv(prefix + field); v != "" {
			*dst = v
		}
	}
	boolean := func(field string, dst *bool) {
		if v := os.Getenv(prefix + field); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(field string, dst *int) {
		if v := os.Getenv(prefix + field); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("TYPE", &c.Type)
	str("REGION", &c.Region)
	str("ENDPOINT", &c.Endpoint)
	str("RESOURCE", &c.Resource)
	str("ACCESS_KEY", &c.AccessKey)
	str("SECRET_ACCESS_KEY", &c.SecretAccessKey)
	str("PROJECT_ID", &c.ProjectID)
	str("CREDENTIALS_FILE", &c.CredentialsFile)
	str("SUBSCRIPTION", &c.Subscription)

	boolean("LARGE_PAYLOAD_ENABLED", &c.LargePayload.Enabled)
	str("LARGE_PAYLOAD_STORE", &c.LargePayload.Store)
	str("LARGE_PAYLOAD_LOCATION", &c.LargePayload.Location)
	str("LARGE_PAYLOAD_KEY_PREFIX", &c.LargePayload.KeyPrefix)
	integer("LARGE_PAYLOAD_THRESHOLD", &c.LargePayload.Threshold)

	boolean("VALIDATION_ENABLED", &c.Validation.Enabled)
	boolean("VALIDATION_REQUIRE_ENVELOPE", &c.Validation.RequireEnvelope)
	str("VALIDATION_CERT_HOST_PATTERN", &c.Validation.CertHostPattern)
	integer("VALIDATION_CERT_CACHE_SIZE", &c.Validation.CertCacheSize)
	str("VALIDATION_REDIS_ADDR", &c.Validation.RedisAddr)
}
