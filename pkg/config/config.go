package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
	"github.com/FACorreiaa/charges-audit/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Database      DatabaseConfig
	Storage       storage.Config
	Import        ImportConfig
	Search        SearchConfig
	Observability ObservabilityConfig
	Log           LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// URL wins over the individual fields when set.
	URL      string
	MaxConns int
}

type ImportConfig struct {
	TabulaJar string
	JavaBin   string
	WorkDir   string
	// Mandatory lists the document types an archive must contain.
	Mandatory           []model.DocumentType
	LayoutOverridesFile string
	WordBoundary        bool
}

type SearchConfig struct {
	// IndexPath empty keeps the index in memory.
	IndexPath string
}

type ObservabilityConfig struct {
	MetricsFile string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "charges-dev"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvAsInt("POSTGRES_MAX_CONNS", 4),
		},
		Storage: storage.Config{
			Type:              storage.StorageType(getEnv("STORAGE_TYPE", string(storage.StorageTypeLocal))),
			LocalPath:         getEnv("STORAGE_LOCAL_PATH", "./storage"),
			S3Bucket:          getEnv("S3_BUCKET", ""),
			S3Region:          getEnv("S3_REGION", "eu-west-3"),
			S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			S3Endpoint:        getEnv("S3_ENDPOINT", ""),
			S3Prefix:          getEnv("S3_PREFIX", ""),
		},
		Import: ImportConfig{
			TabulaJar:           getEnv("TABULA_JAR", "/opt/tabula/tabula.jar"),
			JavaBin:             getEnv("JAVA_BIN", "java"),
			WorkDir:             getEnv("IMPORT_WORK_DIR", ""),
			LayoutOverridesFile: getEnv("IMPORT_LAYOUT_OVERRIDES", ""),
			WordBoundary:        getEnvAsBool("IMPORT_WORD_BOUNDARY", false),
		},
		Search: SearchConfig{
			IndexPath: getEnv("SEARCH_INDEX_PATH", ""),
		},
		Observability: ObservabilityConfig{
			MetricsFile: getEnv("METRICS_TEXTFILE", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	mandatory, err := parseDocumentTypes(getEnv("IMPORT_MANDATORY_DOCS", "REG010,GED001"))
	if err != nil {
		return nil, err
	}
	cfg.Import.Mandatory = mandatory

	if cfg.Storage.Type == storage.StorageTypeS3 && cfg.Storage.S3Bucket == "" {
		return nil, errors.New("S3_BUCKET is required when STORAGE_TYPE=s3")
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func parseDocumentTypes(v string) ([]model.DocumentType, error) {
	var out []model.DocumentType
	for _, part := range strings.Split(v, ",") {
		code := model.DocumentType(strings.ToUpper(strings.TrimSpace(part)))
		if code == "" {
			continue
		}
		known := false
		for _, t := range model.AllDocumentTypes {
			if t == code {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown document type %q in IMPORT_MANDATORY_DOCS", code)
		}
		out = append(out, code)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
