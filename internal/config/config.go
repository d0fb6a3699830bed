/**
 * Configuration for the OCR pipeline
 *
 * Loads configuration from environment variables (optionally seeded from a .env file
 * by the command entry points). Presets and the correction dictionary are YAML files
 * loaded once at start-up, see resources.go.
 */

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds pipeline and worker configuration
type Config struct {
	// Recognition engine
	OCRLanguages   []string
	PageSegMode    int
	TessdataPrefix string

	// Rendering
	RenderDPI      int
	MaxRenderDPI   int
	MinShortSidePx int

	// Strategy thresholds
	MinDigitalChars    int
	MinPrintableRatio  float64
	AcceptConfidence   float64
	RecognitionTimeout time.Duration

	// Concurrency
	PageWorkers       int
	WorkerConcurrency int
	ProcessingTimeout time.Duration

	// Static resources
	PresetsFile    string
	DictionaryFile string

	// Output
	ResultsDir     string
	DebugImagesDir string

	// Queue
	QueueBackend string
	QueueName    string
	RedisURL     string

	// Result stores (empty disables the store)
	DatabaseURL      string
	QdrantURL        string
	QdrantCollection string

	MaxFileSize int64

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		OCRLanguages:       splitLanguages(getEnvOrDefault("OCR_LANGUAGES", "spa+eng")),
		PageSegMode:        getEnvAsIntOrDefault("OCR_PAGE_SEG_MODE", 6),
		TessdataPrefix:     getEnvOrDefault("TESSDATA_PREFIX", ""),
		RenderDPI:          getEnvAsIntOrDefault("RENDER_DPI", 300),
		MaxRenderDPI:       getEnvAsIntOrDefault("MAX_RENDER_DPI", 600),
		MinShortSidePx:     getEnvAsIntOrDefault("MIN_SHORT_SIDE_PX", 2000),
		MinDigitalChars:    getEnvAsIntOrDefault("MIN_DIGITAL_CHARS", 10),
		MinPrintableRatio:  getEnvAsFloatOrDefault("MIN_PRINTABLE_RATIO", 0.9),
		AcceptConfidence:   getEnvAsFloatOrDefault("ACCEPT_CONFIDENCE", 0.75),
		RecognitionTimeout: time.Duration(getEnvAsIntOrDefault("RECOGNITION_TIMEOUT_MS", 60000)) * time.Millisecond,
		PageWorkers:        getEnvAsIntOrDefault("PAGE_WORKERS", runtime.NumCPU()),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 2),
		ProcessingTimeout:  time.Duration(getEnvAsInt64OrDefault("PROCESSING_TIMEOUT_MS", 900000)) * time.Millisecond, // 15 minutes
		PresetsFile:        getEnvOrDefault("PRESETS_FILE", ""),
		DictionaryFile:     getEnvOrDefault("DICTIONARY_FILE", ""),
		ResultsDir:         getEnvOrDefault("RESULTS_DIR", "./resultado"),
		DebugImagesDir:     getEnvOrDefault("DEBUG_IMAGES_DIR", ""),
		QueueBackend:       strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", "asynq")),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "ocr:documents"),
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:          getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:   getEnvOrDefault("QDRANT_COLLECTION", "ocr_pages"),
		MaxFileSize:        getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "console"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if len(c.OCRLanguages) == 0 {
		return fmt.Errorf("OCR_LANGUAGES must name at least one language")
	}

	if c.PageSegMode < 0 || c.PageSegMode > 13 {
		return fmt.Errorf("OCR_PAGE_SEG_MODE must be between 0 and 13, got %d", c.PageSegMode)
	}

	if c.RenderDPI < 72 || c.RenderDPI > 1200 {
		return fmt.Errorf("RENDER_DPI must be between 72 and 1200, got %d", c.RenderDPI)
	}

	if c.MaxRenderDPI < c.RenderDPI || c.MaxRenderDPI > 1200 {
		return fmt.Errorf("MAX_RENDER_DPI must be between RENDER_DPI and 1200, got %d", c.MaxRenderDPI)
	}

	if c.MinShortSidePx < 0 {
		return fmt.Errorf("MIN_SHORT_SIDE_PX must not be negative, got %d", c.MinShortSidePx)
	}

	if c.MinDigitalChars < 0 {
		return fmt.Errorf("MIN_DIGITAL_CHARS must not be negative, got %d", c.MinDigitalChars)
	}

	if c.MinPrintableRatio < 0 || c.MinPrintableRatio > 1 {
		return fmt.Errorf("MIN_PRINTABLE_RATIO must be within [0,1], got %v", c.MinPrintableRatio)
	}

	if c.AcceptConfidence <= 0 || c.AcceptConfidence > 1 {
		return fmt.Errorf("ACCEPT_CONFIDENCE must be within (0,1], got %v", c.AcceptConfidence)
	}

	if c.RecognitionTimeout <= 0 {
		return fmt.Errorf("RECOGNITION_TIMEOUT_MS must be positive")
	}

	if c.PageWorkers < 1 || c.PageWorkers > 256 {
		return fmt.Errorf("PAGE_WORKERS must be between 1 and 256, got %d", c.PageWorkers)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 10737418240 { // 1KB to 10GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 10GB, got %d", c.MaxFileSize)
	}

	switch c.QueueBackend {
	case "asynq", "redis":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be asynq or redis, got %q", c.QueueBackend)
	}

	return nil
}

// Languages returns the language set in tesseract's "spa+eng" notation.
func (c *Config) Languages() string {
	return strings.Join(c.OCRLanguages, "+")
}

func splitLanguages(value string) []string {
	var langs []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == '+' || r == ',' || r == ' ' }) {
		langs = append(langs, part)
	}
	return langs
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
