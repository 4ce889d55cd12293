package startup

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"cleanconvert/internal/errs"
	"cleanconvert/internal/mediatypes"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
	if info.OS == "" || info.Arch == "" {
		t.Errorf("Expected OS and Arch, got %q/%q", info.OS, info.Arch)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.ListenAddr() != "127.0.0.1:8080" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if cfg.MaxBatchSize != 50 || cfg.Concurrency != 3 || cfg.Timeout != 30*time.Second {
		t.Errorf("limits = %d/%d/%s", cfg.MaxBatchSize, cfg.Concurrency, cfg.Timeout)
	}
	if !cfg.VerifyIntegrity || !cfg.VipsEnabled {
		t.Error("VerifyIntegrity and VipsEnabled should default to true")
	}

	req, err := cfg.DefaultRequest()
	if err != nil {
		t.Fatalf("DefaultRequest() error = %v", err)
	}
	if mt, _ := req.Resolve(); mt != mediatypes.WebP || req.Quality != 0.8 || !req.StripMetadata {
		t.Errorf("DefaultRequest() = %v", req)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("BIND_ADDR", "0.0.0.0")
	t.Setenv("MAX_BATCH_SIZE", "10")
	t.Setenv("CONVERT_TIMEOUT", "5s")
	t.Setenv("VERIFY_INTEGRITY", "false")
	t.Setenv("DEFAULT_FORMAT", "jpg")
	t.Setenv("DEFAULT_QUALITY", "65")
	t.Setenv("DISABLED_ENCODERS", " webp, ,avif ")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.ListenAddr() != "0.0.0.0:9000" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if cfg.MaxBatchSize != 10 || cfg.Timeout != 5*time.Second || cfg.VerifyIntegrity {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := strings.Join(cfg.DisabledEncoders, ","); got != "webp,avif" {
		t.Errorf("DisabledEncoders = %q", got)
	}
	req, err := cfg.DefaultRequest()
	if err != nil || req.Quality != 0.65 || req.Format != "jpg" {
		t.Errorf("DefaultRequest() = %v, %v", req, err)
	}
}

func TestFromEnvInvalidValues(t *testing.T) {
	t.Run("unparsable values fall back", func(t *testing.T) {
		t.Setenv("CONVERT_TIMEOUT", "soon")
		t.Setenv("MAX_BATCH_SIZE", "many")
		t.Setenv("METRICS_ENABLED", "maybe")

		cfg, err := FromEnv()
		if err != nil {
			t.Fatalf("FromEnv() error = %v", err)
		}
		if cfg.Timeout != DefaultTimeout || cfg.MaxBatchSize != 50 || !cfg.MetricsEnabled {
			t.Errorf("fallbacks not applied: %+v", cfg)
		}
	})

	tests := []struct {
		name  string
		key   string
		value string
		code  errs.Code
	}{
		{"quality out of range", "DEFAULT_QUALITY", "150", errs.InvalidQuality},
		{"input-only format", "DEFAULT_FORMAT", "gif", errs.UnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			if errs.CodeOf(err) != tt.code {
				t.Errorf("FromEnv() error = %v, want %s", err, tt.code)
			}
		})
	}

	t.Run("non-positive batch size", func(t *testing.T) {
		t.Setenv("MAX_BATCH_SIZE", "0")
		if _, err := FromEnv(); err == nil {
			t.Error("expected an error for MAX_BATCH_SIZE=0")
		}
	})
}

func TestConfigMappings(t *testing.T) {
	cfg := Defaults()
	cfg.MaxFileSize = 1 << 20
	cfg.Retries = 2
	cfg.RetryBackoff = 100 * time.Millisecond

	v := cfg.ValidatorConfig()
	if v.MaxFileSize != 1<<20 || v.MaxNameLength != 255 || v.MaxDimension != 10000 {
		t.Errorf("ValidatorConfig() = %+v", v)
	}

	r := cfg.RetryConfig(nil)
	if r.MaxRetries != 2 || r.InitialBackoff != 100*time.Millisecond || r.MaxBackoff != 400*time.Millisecond {
		t.Errorf("RetryConfig() = %+v", r)
	}

	if w := cfg.Workers(); w < 1 || w > cfg.Concurrency {
		t.Errorf("Workers() = %d, want 1..%d", w, cfg.Concurrency)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STARTUP_INT", "42")
	t.Setenv("TEST_STARTUP_BAD_INT", "x")
	t.Setenv("TEST_STARTUP_BOOL", "true")
	t.Setenv("TEST_STARTUP_DUR", "1m30s")

	if got := getEnv("TEST_STARTUP_UNSET", "fallback"); got != "fallback" {
		t.Errorf("getEnv() = %q", got)
	}
	if got := getEnvInt("TEST_STARTUP_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d", got)
	}
	if got := getEnvInt("TEST_STARTUP_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt(bad) = %d", got)
	}
	if got := getEnvInt64("TEST_STARTUP_INT", 1); got != 42 {
		t.Errorf("getEnvInt64() = %d", got)
	}
	if !getEnvBool("TEST_STARTUP_BOOL", false) {
		t.Error("getEnvBool() = false")
	}
	if got := getEnvDuration("TEST_STARTUP_DUR", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %s", got)
	}
	if got := getEnvList("TEST_STARTUP_UNSET"); got != nil {
		t.Errorf("getEnvList(unset) = %v", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{50 << 20, "50.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetRoutes(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {}).Methods("GET", "DELETE")
	router.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {})

	routes, err := GetRoutes(router)
	if err != nil {
		t.Fatalf("GetRoutes() error = %v", err)
	}
	if len(routes) != 3 {
		t.Fatalf("got %d routes, want 3: %+v", len(routes), routes)
	}
	if routes[2].Method != "*" || routes[2].Path != "/livez" {
		t.Errorf("unrestricted route = %+v", routes[2])
	}
}

func TestGetRouteGroup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/items/{id}/download", "api/items"},
		{"/api/process", "api/process"},
		{"/blob/{handle}", "blob"},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := getRouteGroup(tt.path); got != tt.want {
			t.Errorf("getRouteGroup(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
