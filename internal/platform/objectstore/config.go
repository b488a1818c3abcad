package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/jobscraper/internal/platform/env"
)

// Config points at the S3-compatible bucket that receives stack assets.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// Enabled reports whether an asset bucket is configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ASSET_STORE_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("ASSET_STORE_ENDPOINT", "s3.amazonaws.com"),
		AccessKey: env.String("ASSET_STORE_ACCESS_KEY", ""),
		SecretKey: env.String("ASSET_STORE_SECRET_KEY", ""),
		Region:    env.String("ASSET_STORE_REGION", "eu-central-1"),
		UseSSL:    useSSL,
		Bucket:    strings.TrimSpace(env.String("ASSET_BUCKET", "")),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("ASSET_STORE_ENDPOINT is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("ASSET_STORE_ACCESS_KEY is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("ASSET_STORE_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("ASSET_STORE_REGION is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("ASSET_BUCKET is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
