package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// crawlEnvVars lists all env vars that must be cleared between tests.
var crawlEnvVars = []string{
	"CRAWL_DATABASE_URL", "CRAWL_HTTP_ADDR", "CRAWL_NATS_URL", "CRAWL_AUTH_TOKEN",
	"CRAWL_WORKER_CONCURRENCY", "CRAWL_NODE_LOCK_TTL", "CRAWL_NETWORK_IDLE_WAIT",
	"CRAWL_ACTION_TIMEOUT", "CRAWL_OPENAI_API_KEY", "CRAWL_OPENAI_BASE_URL",
	"CRAWL_OPENAI_MODEL", "CRAWL_ARTIFACT_S3_BUCKET", "CRAWL_ARTIFACT_S3_ENDPOINT",
	"CRAWL_ARTIFACT_S3_REGION", "CRAWL_ARTIFACT_DIR", "CRAWL_BROWSER_HEADLESS",
	"CRAWL_CONFIG_FILE",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range crawlEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantHTTPAddr string
		wantWorkers  int
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "Defaults",
			env:          map[string]string{"CRAWL_DATABASE_URL": "postgres://localhost/crawl"},
			wantHTTPAddr: ":8080",
			wantWorkers:  4,
		},
		{
			name: "Custom",
			env: map[string]string{
				"CRAWL_DATABASE_URL":       "postgres://db:5432/crawl",
				"CRAWL_HTTP_ADDR":          ":3000",
				"CRAWL_WORKER_CONCURRENCY": "8",
			},
			wantHTTPAddr: ":3000",
			wantWorkers:  8,
		},
		{
			name: "BadDuration",
			env: map[string]string{
				"CRAWL_DATABASE_URL":  "postgres://localhost/crawl",
				"CRAWL_NODE_LOCK_TTL": "not-a-duration",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			c, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("Load() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if c.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", c.HTTPAddr, tc.wantHTTPAddr)
			}
			if c.WorkerConcurrency != tc.wantWorkers {
				t.Errorf("WorkerConcurrency = %d, want %d", c.WorkerConcurrency, tc.wantWorkers)
			}
		})
	}
}

func TestLoad_CompletionDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CRAWL_DATABASE_URL", "postgres://localhost/crawl")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.Completion.MaxEdgeCount != 500 {
		t.Errorf("MaxEdgeCount = %d, want 500", c.Completion.MaxEdgeCount)
	}
	if c.Completion.CheckInterval != time.Minute {
		t.Errorf("CheckInterval = %v, want 1m", c.Completion.CheckInterval)
	}
}

func TestLoad_TOMLOverride(t *testing.T) {
	clearAllEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "crawl.toml")
	content := "[completion]\nmax_edge_count = 50\ncheck_interval = \"30s\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("CRAWL_DATABASE_URL", "postgres://localhost/crawl")
	t.Setenv("CRAWL_CONFIG_FILE", path)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.Completion.MaxEdgeCount != 50 {
		t.Errorf("MaxEdgeCount = %d, want 50", c.Completion.MaxEdgeCount)
	}
	if c.Completion.CheckInterval != 30*time.Second {
		t.Errorf("CheckInterval = %v, want 30s", c.Completion.CheckInterval)
	}
	// Untouched thresholds keep their defaults.
	if c.Completion.MinEdgesForRateCheck != 30 {
		t.Errorf("MinEdgesForRateCheck = %d, want 30", c.Completion.MinEdgesForRateCheck)
	}
}
