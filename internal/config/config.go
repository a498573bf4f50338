package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ShardsFile string // SEARCHD_SHARDS_FILE (optional, empty = single in-memory store)
	GRPCAddr   string // SEARCHD_GRPC_ADDR (default ":9090")
	HTTPAddr   string // SEARCHD_HTTP_ADDR (default ":8080")
	NATSURL    string // SEARCHD_NATS_URL (optional, empty = no events)
	AuthToken  string // SEARCHD_AUTH_TOKEN (optional, empty = auth disabled)

	LogLevel  slog.Level // SEARCHD_LOG_LEVEL (default "info")
	LogFormat string     // SEARCHD_LOG_FORMAT ("text" or "json", default "text")

	HealthInterval time.Duration // SEARCHD_HEALTH_INTERVAL (default 15s)

	// Export settings
	ExportInterval   time.Duration // SEARCHD_EXPORT_INTERVAL (default 0 = disabled)
	ExportLibraries  []int64       // SEARCHD_EXPORT_LIBRARIES (comma-separated library ids)
	ExportDir        string        // SEARCHD_EXPORT_DIR (enables directory export when set)
	ExportS3Bucket   string        // SEARCHD_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Endpoint string        // SEARCHD_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportS3Region   string        // SEARCHD_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Key      string        // SEARCHD_EXPORT_S3_KEY (default "savedsearch/searches.jsonl.zst")
}

func Load() (*Config, error) {
	c := &Config{
		ShardsFile:       os.Getenv("SEARCHD_SHARDS_FILE"),
		GRPCAddr:         envOrDefault("SEARCHD_GRPC_ADDR", ":9090"),
		HTTPAddr:         envOrDefault("SEARCHD_HTTP_ADDR", ":8080"),
		NATSURL:          os.Getenv("SEARCHD_NATS_URL"),
		AuthToken:        os.Getenv("SEARCHD_AUTH_TOKEN"),
		LogFormat:        strings.ToLower(envOrDefault("SEARCHD_LOG_FORMAT", "text")),
		ExportDir:        os.Getenv("SEARCHD_EXPORT_DIR"),
		ExportS3Bucket:   os.Getenv("SEARCHD_EXPORT_S3_BUCKET"),
		ExportS3Endpoint: os.Getenv("SEARCHD_EXPORT_S3_ENDPOINT"),
		ExportS3Region:   envOrDefault("SEARCHD_EXPORT_S3_REGION", "us-east-1"),
		ExportS3Key:      envOrDefault("SEARCHD_EXPORT_S3_KEY", "savedsearch/searches.jsonl.zst"),
	}

	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("SEARCHD_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("SEARCHD_LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return nil, fmt.Errorf("SEARCHD_LOG_FORMAT: must be text or json, got %q", c.LogFormat)
	}

	var err error
	if c.HealthInterval, err = durationEnv("SEARCHD_HEALTH_INTERVAL", "15s"); err != nil {
		return nil, err
	}
	if c.ExportInterval, err = durationEnv("SEARCHD_EXPORT_INTERVAL", "0"); err != nil {
		return nil, err
	}

	if v := os.Getenv("SEARCHD_EXPORT_LIBRARIES"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("SEARCHD_EXPORT_LIBRARIES: invalid library id %q", part)
			}
			c.ExportLibraries = append(c.ExportLibraries, id)
		}
	}
	if c.ExportInterval > 0 && len(c.ExportLibraries) == 0 {
		return nil, fmt.Errorf("SEARCHD_EXPORT_LIBRARIES is required when SEARCHD_EXPORT_INTERVAL is set")
	}

	return c, nil
}

// Logger returns a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
