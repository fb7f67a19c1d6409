package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ConvertConfig tunes rendering, classification and both codecs.
type ConvertConfig struct {
	MaxDPI       int
	MaxDimension int

	JBIG2BatchSize int
	JBIG2Threshold float64
	JBIG2Weight    float64

	JP2PSNR    float64
	JP2Layers  int
	JP2Threads int
	JP2Pool    int

	SolidRatio       float64
	TileMaxDark      float64
	ContentThreshold int
	CropMargin       int
	BilevelThreshold int
}

// WorkerConfig defines document workers and the watch loop.
type WorkerConfig struct {
	Concurrency  int
	QueueSize    int
	ScanInterval time.Duration
	SettleTime   time.Duration
	TempMaxAge   time.Duration
	WatchDirs    []string
}

// VerifyConfig selects the checks run on a PDF before it is published.
type VerifyConfig struct {
	Enabled bool
	Probe   bool
}

// RedisConfig enables the external status sink when URL is set.
type RedisConfig struct {
	URL string
	TTL time.Duration
}

// S3Config enables the PDF mirror when Bucket is set.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

type HTTPConfig struct {
	Addr string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Convert ConvertConfig
	Worker  WorkerConfig
	Verify  VerifyConfig
	Redis   RedisConfig
	S3      S3Config
	HTTP    HTTPConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/djvupdf.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_djvupdf",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Convert = ConvertConfig{
		MaxDPI:           parseInt(getEnv("RENDER_MAX_DPI", "300"), 300),
		MaxDimension:     parseInt(getEnv("RENDER_MAX_DIMENSION", "4000"), 4000),
		JBIG2BatchSize:   parseInt(getEnv("JBIG2_BATCH_SIZE", "20"), 20),
		JBIG2Threshold:   parseFloat(getEnv("JBIG2_THRESHOLD", "0.85"), 0.85),
		JBIG2Weight:      parseFloat(getEnv("JBIG2_WEIGHT", "0.5"), 0.5),
		JP2PSNR:          parseFloat(getEnv("JP2_PSNR", "44"), 44),
		JP2Layers:        parseInt(getEnv("JP2_LAYERS", "1"), 1),
		JP2Threads:       parseInt(getEnv("JP2_THREADS", "2"), 2),
		JP2Pool:          parseInt(getEnv("JP2_POOL_SIZE", ""), max(1, runtime.NumCPU()/2)),
		SolidRatio:       parseFloat(getEnv("CLASSIFY_SOLID_RATIO", "0.75"), 0.75),
		TileMaxDark:      parseFloat(getEnv("CLASSIFY_TILE_MAX_DARK", "0.80"), 0.80),
		ContentThreshold: parseInt(getEnv("CLASSIFY_CONTENT_THRESHOLD", "245"), 245),
		CropMargin:       parseInt(getEnv("CLASSIFY_CROP_MARGIN", "4"), 4),
		BilevelThreshold: parseInt(getEnv("CLASSIFY_BILEVEL_THRESHOLD", "128"), 128),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:  parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		QueueSize:    parseInt(getEnv("QUEUE_SIZE", "1024"), 1024),
		ScanInterval: parseDuration(getEnv("SCAN_INTERVAL", "30s"), 30*time.Second),
		SettleTime:   parseDuration(getEnv("SETTLE_TIME", "10s"), 10*time.Second),
		TempMaxAge:   parseDuration(getEnv("TEMP_MAX_AGE", "1h"), time.Hour),
		WatchDirs:    parseList(getEnv("WATCH_DIRS", "")),
	}

	cfg.Verify = VerifyConfig{
		Enabled: parseBool(getEnv("VERIFY_PDF", "true")),
		Probe:   parseBool(getEnv("VERIFY_PROBE", "false")),
	}

	cfg.Redis = RedisConfig{
		URL: getEnv("REDIS_URL", ""),
		TTL: parseDuration(getEnv("REDIS_STATUS_TTL", "168h"), 7*24*time.Hour),
	}

	cfg.S3 = S3Config{
		Bucket:    getEnv("AWS_S3_BUCKET", ""),
		Prefix:    getEnv("AWS_S3_PREFIX", "djvupdf"),
		Region:    getEnv("AWS_REGION", ""),
		Endpoint:  getEnv("AWS_S3_ENDPOINT", ""),
		AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		PathStyle: parseBool(getEnv("AWS_S3_PATH_STYLE", "false")),
	}

	cfg.HTTP = HTTPConfig{Addr: getEnv("HTTP_ADDR", ":"+getEnv("PORT", "8080"))}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
