package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/env"
)

type Config struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	UseSSL          bool
	BucketContracts string
	BucketSigned    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("FLEETGRID_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:        env.String("FLEETGRID_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:       env.String("FLEETGRID_MINIO_ACCESS_KEY", "fleetgrid"),
		SecretKey:       env.String("FLEETGRID_MINIO_SECRET_KEY", "fleetgridminio"),
		Region:          env.String("FLEETGRID_MINIO_REGION", "us-east-1"),
		UseSSL:          useSSL,
		BucketContracts: env.String("FLEETGRID_MINIO_BUCKET_CONTRACTS", "contracts"),
		BucketSigned:    env.String("FLEETGRID_MINIO_BUCKET_SIGNED", "signed-contracts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketContracts) == "" {
		return errors.New("contracts bucket is required")
	}
	if strings.TrimSpace(c.BucketSigned) == "" {
		return errors.New("signed contracts bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
