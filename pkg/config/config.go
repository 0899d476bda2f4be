// Package config loads modelhostd's runtime configuration from the
// environment, following the env-var-with-fallback pattern used
// throughout this codebase.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host string // OLLAMA_HOST, e.g. "0.0.0.0:11434"

	ModelsRoot string // OLLAMA_MODELS

	DefaultKeepAlive time.Duration // OLLAMA_KEEP_ALIVE
	MaxLoadedModels  int           // OLLAMA_MAX_LOADED_MODELS

	AllowedOrigins []string // OLLAMA_ORIGINS

	DefaultRegistry string

	// Optional ambient services. Each is disabled (nil client) when its
	// address/URL is empty.
	DatabaseURL string
	RedisAddr   string

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Secure    bool

	WebhookURL string

	PolicyAllowedRegistries []string // MODELHOST_POLICY_REGISTRIES, empty allows any
	PolicyMaxModelBytes     int64    // MODELHOST_POLICY_MAX_MODEL_BYTES, 0 disables the quota

	PullConcurrency  int
	DownloadChunk    int64
	DownloadMinSplit int64

	VRAMBytes uint64 // static placeholder, see SPEC_FULL.md §12 (GPU discovery is out of scope)
}

func Load() *Config {
	root := getEnv("OLLAMA_MODELS", defaultModelsRoot())
	return &Config{
		Host:             getEnv("OLLAMA_HOST", "0.0.0.0:11434"),
		ModelsRoot:       root,
		DefaultKeepAlive: getEnvDuration("OLLAMA_KEEP_ALIVE", 300*time.Second),
		MaxLoadedModels:  getEnvInt("OLLAMA_MAX_LOADED_MODELS", 1),
		AllowedOrigins:   splitCSV(getEnv("OLLAMA_ORIGINS", "")),
		DefaultRegistry:  getEnv("OLLAMA_DEFAULT_REGISTRY", "registry.ollama.ai"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Bucket:    getEnv("S3_BUCKET", "modelhost-blobs"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Secure:    getEnv("S3_SECURE", "false") == "true",

		WebhookURL: getEnv("WEBHOOK_URL", ""),

		PolicyAllowedRegistries: splitCSV(getEnv("MODELHOST_POLICY_REGISTRIES", "")),
		PolicyMaxModelBytes:     getEnvInt64("MODELHOST_POLICY_MAX_MODEL_BYTES", 0),

		PullConcurrency:  getEnvInt("MODELHOST_PULL_CONCURRENCY", 16),
		DownloadChunk:    getEnvInt64("MODELHOST_DOWNLOAD_CHUNK_BYTES", 8<<20),
		DownloadMinSplit: getEnvInt64("MODELHOST_DOWNLOAD_MIN_SPLIT_BYTES", 16<<20),

		VRAMBytes: uint64(getEnvInt64("MODELHOST_VRAM_BYTES", 0)),
	}
}

func defaultModelsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ollama/models"
	}
	return filepath.Join(home, ".ollama", "models")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
