package ledgerarchive

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/SubLedger/internal/pkg/env"
)

// Config holds ledger archive settings
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	BatchSize       int
	Enabled         bool
}

// LoadConfig loads archive configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("LEDGER_ARCHIVE_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("LEDGER_ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("LEDGER_ARCHIVE_S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("LEDGER_ARCHIVE_S3_BUCKET", ""),
		EndpointURL:     env.GetEnv("LEDGER_ARCHIVE_S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("LEDGER_ARCHIVE_S3_PREFIX", "ledger"),
		BatchSize:       env.GetEnvInt("LEDGER_ARCHIVE_BATCH_SIZE", 500),
		Enabled:         env.GetEnvBool("LEDGER_ARCHIVE_ENABLED", false),
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("LEDGER_ARCHIVE_S3_ACCESS_KEY_ID is required when the ledger archive is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("LEDGER_ARCHIVE_S3_SECRET_ACCESS_KEY is required when the ledger archive is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("LEDGER_ARCHIVE_S3_BUCKET is required when the ledger archive is enabled")
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return cfg, nil
}

// ObjectKey names the archive object for [from, to).
// Format: <prefix>/YYYY/MM/history_<from>_<to>.jsonl
func (c *Config) ObjectKey(from, to time.Time) string {
	from, to = from.UTC(), to.UTC()
	const layout = "20060102T150405Z"
	return fmt.Sprintf("%s/%04d/%02d/history_%s_%s.jsonl",
		c.Prefix, from.Year(), int(from.Month()), from.Format(layout), to.Format(layout))
}
