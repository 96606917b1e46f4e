package archive

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Переменные окружения архива.
const (
	EnvEndpoint  = "TRACEPIPE_S3_ENDPOINT"
	EnvAccessKey = "TRACEPIPE_S3_ACCESS_KEY"
	EnvSecretKey = "TRACEPIPE_S3_SECRET_KEY"
	EnvRegion    = "TRACEPIPE_S3_REGION"
	EnvBucket    = "TRACEPIPE_S3_BUCKET"
	EnvUseSSL    = "TRACEPIPE_S3_USE_SSL"
)

// Значения по умолчанию.
const (
	DefaultRegion = "us-east-1"
	DefaultBucket = "traces"
)

// Config — параметры подключения к хранилищу.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// ConfigFromEnv читает конфигурацию архива.
// Возвращает enabled=false, если TRACEPIPE_S3_ENDPOINT не задан.
func ConfigFromEnv(lookup func(string) (string, bool)) (cfg Config, enabled bool, err error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg = Config{
		Endpoint:  get(EnvEndpoint, ""),
		AccessKey: get(EnvAccessKey, ""),
		SecretKey: get(EnvSecretKey, ""),
		Region:    get(EnvRegion, DefaultRegion),
		Bucket:    get(EnvBucket, DefaultBucket),
	}
	if cfg.Endpoint == "" {
		return Config{}, false, nil
	}

	if raw := get(EnvUseSSL, ""); raw != "" {
		cfg.UseSSL, err = strconv.ParseBool(raw)
		if err != nil {
			return Config{}, false, fmt.Errorf("%s: invalid bool %q", EnvUseSSL, raw)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}

// Validate проверяет конфигурацию.
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
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
