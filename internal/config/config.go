package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr        = "127.0.0.1"
	defaultPort              = 8080
	defaultDataDir           = "data"
	defaultYTDLPPath         = "yt-dlp"
	defaultMaxConcurrentJobs = 3
	defaultStore             = StoreFile
	defaultRetention         = time.Hour
	defaultCancelGrace       = 5 * time.Second
	defaultLogLevel          = "info"

	envPrefix = "YTM_"
)

// Store backends for job history.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config describes runtime configuration for the service.
type Config struct {
	// ListenAddr is the interface the HTTP server binds to; "0.0.0.0" exposes it on the network.
	ListenAddr        string        `yaml:"listen_addr"`
	Port              int           `yaml:"port"`
	DataDir           string        `yaml:"data_dir"`
	DownloadsDir      string        `yaml:"downloads_dir"`
	YTDLPPath         string        `yaml:"ytdlp_path"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	AllowedHosts      []string      `yaml:"allowed_hosts"`
	Store             string        `yaml:"store"`
	// FinishedRetention is how long finished jobs stay queryable. Zero keeps them forever.
	FinishedRetention time.Duration `yaml:"finished_retention"`
	CancelGrace       time.Duration `yaml:"cancel_grace"`
	LogLevel          string        `yaml:"log_level"`
	MetricsEnabled    bool          `yaml:"metrics_enabled"`
}

// Default returns defaults suitable for a single-user desktop install.
func Default() Config {
	return Config{
		ListenAddr:        defaultListenAddr,
		Port:              defaultPort,
		DataDir:           defaultDataDir,
		DownloadsDir:      defaultDownloadsDir(),
		YTDLPPath:         defaultYTDLPPath,
		MaxConcurrentJobs: defaultMaxConcurrentJobs,
		AllowedHosts:      defaultAllowedHosts(),
		Store:             defaultStore,
		FinishedRetention: defaultRetention,
		CancelGrace:       defaultCancelGrace,
		LogLevel:          defaultLogLevel,
		MetricsEnabled:    true,
	}
}

func defaultAllowedHosts() []string { return []string{"youtube.com", "youtu.be"} }

func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "downloads"
	}
	return filepath.Join(home, "Downloads")
}

// Load reads YAML config from the provided path, then applies environment
// overrides (optionally sourced from a .env file). A missing or empty file
// yields defaults with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return normalize(cfg)
}

func loadDotEnv() error {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func normalize(cfg Config) (Config, error) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = defaultDownloadsDir()
	}
	if cfg.YTDLPPath == "" {
		cfg.YTDLPPath = defaultYTDLPPath
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.FinishedRetention < 0 {
		return cfg, fmt.Errorf("invalid finished_retention: %s (must be >= 0)", cfg.FinishedRetention)
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = defaultCancelGrace
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	// values < 1 would mean either no downloads or unbounded processes
	if cfg.MaxConcurrentJobs < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_jobs: %d (must be >= 1)", cfg.MaxConcurrentJobs)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	switch cfg.Store {
	case "":
		cfg.Store = defaultStore
	case StoreFile, StoreSQLite:
	default:
		return cfg, fmt.Errorf("invalid store: %q (want %s or %s)", cfg.Store, StoreFile, StoreSQLite)
	}
	cfg.AllowedHosts = normalizeHosts(cfg.AllowedHosts)
	return cfg, nil
}

func normalizeHosts(in []string) []string {
	if len(in) == 0 {
		return defaultAllowedHosts()
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, host := range in {
		h := strings.ToLower(strings.TrimSpace(host))
		h = strings.TrimPrefix(h, "www.")
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		normalized = append(normalized, h)
	}
	if len(normalized) == 0 {
		return defaultAllowedHosts()
	}
	return normalized
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnv("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := lookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sPORT: %w", envPrefix, err)
		}
		cfg.Port = port
	}
	if v, ok := lookupEnv("DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := lookupEnv("DOWNLOADS_DIR"); ok {
		cfg.DownloadsDir = v
	}
	if v, ok := lookupEnv("YTDLP_PATH"); ok {
		cfg.YTDLPPath = v
	}
	if v, ok := lookupEnv("MAX_CONCURRENT_JOBS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sMAX_CONCURRENT_JOBS: %w", envPrefix, err)
		}
		cfg.MaxConcurrentJobs = n
	}
	if v, ok := lookupEnv("ALLOWED_HOSTS"); ok {
		cfg.AllowedHosts = strings.Split(v, ",")
	}
	if v, ok := lookupEnv("STORE"); ok {
		cfg.Store = v
	}
	if v, ok := lookupEnv("FINISHED_RETENTION"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sFINISHED_RETENTION: %w", envPrefix, err)
		}
		cfg.FinishedRetention = d
	}
	if v, ok := lookupEnv("CANCEL_GRACE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sCANCEL_GRACE: %w", envPrefix, err)
		}
		cfg.CancelGrace = d
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnv("METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %sMETRICS_ENABLED: %w", envPrefix, err)
		}
		cfg.MetricsEnabled = b
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Addr is the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return net.JoinHostPort(c.ListenAddr, strconv.Itoa(c.Port))
}

// StorePath returns the location of the job history for the configured backend.
func (c Config) StorePath() string {
	if c.Store == StoreSQLite {
		return filepath.Join(c.DataDir, "jobs.db")
	}
	return filepath.Join(c.DataDir, "jobs")
}
