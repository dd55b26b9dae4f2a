package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string // CRAWL_DATABASE_URL (required)
	HTTPAddr    string // CRAWL_HTTP_ADDR (default ":8080")
	NATSURL     string // CRAWL_NATS_URL (optional, empty = no locks, in-process dispatch only)
	AuthToken   string // CRAWL_AUTH_TOKEN (optional, empty = auth disabled)

	// Worker settings
	WorkerConcurrency int           // CRAWL_WORKER_CONCURRENCY (default 4)
	NodeLockTTL       time.Duration // CRAWL_NODE_LOCK_TTL (default 2m)

	// Browser settings
	BrowserHeadless bool          // CRAWL_BROWSER_HEADLESS (default true)
	NetworkIdleWait time.Duration // CRAWL_NETWORK_IDLE_WAIT (default 500ms quiet window)
	ActionTimeout   time.Duration // CRAWL_ACTION_TIMEOUT (default 10s)

	// LLM settings
	OpenAIAPIKey  string // CRAWL_OPENAI_API_KEY (optional, empty = static filter)
	OpenAIBaseURL string // CRAWL_OPENAI_BASE_URL (optional, for compatible endpoints)
	OpenAIModel   string // CRAWL_OPENAI_MODEL (default "gpt-4o-mini")

	// Artifact settings
	ArtifactS3Bucket   string // CRAWL_ARTIFACT_S3_BUCKET (enables S3 when set)
	ArtifactS3Endpoint string // CRAWL_ARTIFACT_S3_ENDPOINT (custom endpoint for MinIO)
	ArtifactS3Region   string // CRAWL_ARTIFACT_S3_REGION (default "us-east-1")
	ArtifactDir        string // CRAWL_ARTIFACT_DIR (local fallback, default "./artifacts")

	// Completion heuristic thresholds, overridable via CRAWL_CONFIG_FILE (TOML).
	Completion Completion
}

// Completion holds the thresholds of the run-completion heuristic.
type Completion struct {
	MaxEdgeCount         int
	MinEdgesForRateCheck int
	RecentWindow         time.Duration
	MinRecentThreshold   int
	NoNewEdgesWindow     time.Duration
	LongNoNewEdgesWindow time.Duration
	CheckInterval        time.Duration
}

// DefaultCompletion returns the default completion thresholds.
func DefaultCompletion() Completion {
	return Completion{
		MaxEdgeCount:         500,
		MinEdgesForRateCheck: 30,
		RecentWindow:         90 * time.Second,
		MinRecentThreshold:   2,
		NoNewEdgesWindow:     3 * time.Minute,
		LongNoNewEdgesWindow: 15 * time.Minute,
		CheckInterval:        time.Minute,
	}
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:        os.Getenv("CRAWL_DATABASE_URL"),
		HTTPAddr:           envOrDefault("CRAWL_HTTP_ADDR", ":8080"),
		NATSURL:            os.Getenv("CRAWL_NATS_URL"),
		AuthToken:          os.Getenv("CRAWL_AUTH_TOKEN"),
		OpenAIAPIKey:       os.Getenv("CRAWL_OPENAI_API_KEY"),
		OpenAIBaseURL:      os.Getenv("CRAWL_OPENAI_BASE_URL"),
		OpenAIModel:        envOrDefault("CRAWL_OPENAI_MODEL", "gpt-4o-mini"),
		ArtifactS3Bucket:   os.Getenv("CRAWL_ARTIFACT_S3_BUCKET"),
		ArtifactS3Endpoint: os.Getenv("CRAWL_ARTIFACT_S3_ENDPOINT"),
		ArtifactS3Region:   envOrDefault("CRAWL_ARTIFACT_S3_REGION", "us-east-1"),
		ArtifactDir:        envOrDefault("CRAWL_ARTIFACT_DIR", "./artifacts"),
		BrowserHeadless:    envOrDefault("CRAWL_BROWSER_HEADLESS", "true") != "false",
		Completion:         DefaultCompletion(),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("CRAWL_DATABASE_URL is required")
	}

	var err error
	if c.WorkerConcurrency, err = envInt("CRAWL_WORKER_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if c.NodeLockTTL, err = envDuration("CRAWL_NODE_LOCK_TTL", 2*time.Minute); err != nil {
		return nil, err
	}
	if c.NetworkIdleWait, err = envDuration("CRAWL_NETWORK_IDLE_WAIT", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if c.ActionTimeout, err = envDuration("CRAWL_ACTION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if path := os.Getenv("CRAWL_CONFIG_FILE"); path != "" {
		if err := loadFile(path, c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// duration wraps time.Duration so TOML can decode "90s"-style strings.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// fileConfig is the TOML layout of CRAWL_CONFIG_FILE. Only threshold tuning
// lives here; connection settings stay in the environment. Pointer fields
// distinguish "absent" from zero, so partial files override selectively.
type fileConfig struct {
	Completion struct {
		MaxEdgeCount         *int      `toml:"max_edge_count"`
		MinEdgesForRateCheck *int      `toml:"min_edges_for_rate_check"`
		RecentWindow         *duration `toml:"recent_window"`
		MinRecentThreshold   *int      `toml:"min_recent_threshold"`
		NoNewEdgesWindow     *duration `toml:"no_new_edges_window"`
		LongNoNewEdgesWindow *duration `toml:"long_no_new_edges_window"`
		CheckInterval        *duration `toml:"check_interval"`
	} `toml:"completion"`
}

func loadFile(path string, c *Config) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("CRAWL_CONFIG_FILE: %w", err)
	}
	fcc := fc.Completion
	if fcc.MaxEdgeCount != nil {
		c.Completion.MaxEdgeCount = *fcc.MaxEdgeCount
	}
	if fcc.MinEdgesForRateCheck != nil {
		c.Completion.MinEdgesForRateCheck = *fcc.MinEdgesForRateCheck
	}
	if fcc.RecentWindow != nil {
		c.Completion.RecentWindow = time.Duration(*fcc.RecentWindow)
	}
	if fcc.MinRecentThreshold != nil {
		c.Completion.MinRecentThreshold = *fcc.MinRecentThreshold
	}
	if fcc.NoNewEdgesWindow != nil {
		c.Completion.NoNewEdgesWindow = time.Duration(*fcc.NoNewEdgesWindow)
	}
	if fcc.LongNoNewEdgesWindow != nil {
		c.Completion.LongNoNewEdgesWindow = time.Duration(*fcc.LongNoNewEdgesWindow)
	}
	if fcc.CheckInterval != nil {
		c.Completion.CheckInterval = time.Duration(*fcc.CheckInterval)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
