package startup

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"cleanconvert/internal/convert"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/memory"
	"cleanconvert/internal/retry"
	"cleanconvert/internal/validate"
	"cleanconvert/internal/workers"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultBindAddr          = "127.0.0.1"
	DefaultMetricsPort       = "9090"
	DefaultMaxArchiveSize    = 200 << 20
	DefaultConcurrency       = 3
	DefaultTimeout           = 30 * time.Second
	DefaultRetries           = 1
	DefaultRetryBackoff      = time.Second
	DefaultFormat            = "webp"
	DefaultQuality           = 80
	DefaultSweepInterval     = 5 * time.Minute
	DefaultMetricsCollection = 15 * time.Second
)

// Config holds all application configuration
type Config struct {
	Port            string
	BindAddr        string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool

	MaxFileSize       int64
	MaxArchiveSize    int64
	MaxBatchSize      int
	MaxFilenameLength int
	MaxImageDimension int
	VerifyIntegrity   bool

	Concurrency  int
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration

	DefaultFormat  string
	DefaultQuality int // 0-100

	SweepInterval    time.Duration
	VipsEnabled      bool
	// HistoryDSN keeps the attempt log in a file instead of memory.
	HistoryDSN       string
	DisabledEncoders []string
}

// Defaults returns the configuration used when no environment is set.
func Defaults() *Config {
	return &Config{
		Port:              DefaultPort,
		BindAddr:          DefaultBindAddr,
		MetricsPort:       DefaultMetricsPort,
		MetricsEnabled:    true,
		LogHealthChecks:   false,
		MaxFileSize:       validate.DefaultMaxFileSize,
		MaxArchiveSize:    DefaultMaxArchiveSize,
		MaxBatchSize:      50,
		MaxFilenameLength: validate.DefaultMaxNameLength,
		MaxImageDimension: validate.DefaultMaxDimension,
		VerifyIntegrity:   true,
		Concurrency:       DefaultConcurrency,
		Timeout:           DefaultTimeout,
		Retries:           DefaultRetries,
		RetryBackoff:      DefaultRetryBackoff,
		DefaultFormat:     DefaultFormat,
		DefaultQuality:    DefaultQuality,
		SweepInterval:     DefaultSweepInterval,
		VipsEnabled:       true,
	}
}

// FromEnv reads the configuration from environment variables without
// printing anything beyond warnings for unparsable values.
func FromEnv() (*Config, error) {
	d := Defaults()
	cfg := &Config{
		Port:              getEnv("PORT", d.Port),
		BindAddr:          getEnv("BIND_ADDR", d.BindAddr),
		MetricsPort:       getEnv("METRICS_PORT", d.MetricsPort),
		MetricsEnabled:    getEnvBool("METRICS_ENABLED", d.MetricsEnabled),
		LogHealthChecks:   getEnvBool("LOG_HEALTH_CHECKS", d.LogHealthChecks),
		MaxFileSize:       getEnvInt64("MAX_FILE_SIZE", d.MaxFileSize),
		MaxArchiveSize:    getEnvInt64("MAX_ARCHIVE_SIZE", d.MaxArchiveSize),
		MaxBatchSize:      getEnvInt("MAX_BATCH_SIZE", d.MaxBatchSize),
		MaxFilenameLength: getEnvInt("MAX_FILENAME_LENGTH", d.MaxFilenameLength),
		MaxImageDimension: getEnvInt("MAX_IMAGE_DIMENSION", d.MaxImageDimension),
		VerifyIntegrity:   getEnvBool("VERIFY_INTEGRITY", d.VerifyIntegrity),
		Concurrency:       getEnvInt("CONVERT_CONCURRENCY", d.Concurrency),
		Timeout:           getEnvDuration("CONVERT_TIMEOUT", d.Timeout),
		Retries:           getEnvInt("CONVERT_RETRIES", d.Retries),
		RetryBackoff:      getEnvDuration("CONVERT_RETRY_BACKOFF", d.RetryBackoff),
		DefaultFormat:     getEnv("DEFAULT_FORMAT", d.DefaultFormat),
		DefaultQuality:    getEnvInt("DEFAULT_QUALITY", d.DefaultQuality),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", d.SweepInterval),
		VipsEnabled:       getEnvBool("VIPS_ENABLED", d.VipsEnabled),
		DisabledEncoders:  getEnvList("DISABLED_ENCODERS"),
		HistoryDSN:        getEnv("HISTORY_DSN", ""),
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that would otherwise fail later. The default
// request is rejected rather than clamped.
func (c *Config) Validate() error {
	if _, err := c.DefaultRequest(); err != nil {
		return fmt.Errorf("invalid default conversion settings: %w", err)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive, got %d", c.MaxBatchSize)
	}
	if c.MaxFileSize <= 0 || c.MaxArchiveSize <= 0 {
		return fmt.Errorf("size limits must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("CONVERT_CONCURRENCY must be positive, got %d", c.Concurrency)
	}
	if c.Retries < 0 {
		return fmt.Errorf("CONVERT_RETRIES cannot be negative, got %d", c.Retries)
	}
	return nil
}

// DefaultRequest builds the request new items start with.
func (c *Config) DefaultRequest() (convert.Request, error) {
	q, err := convert.QualityFromPercent(c.DefaultQuality)
	if err != nil {
		return convert.Request{}, err
	}
	req := convert.Request{Format: c.DefaultFormat, Quality: q, StripMetadata: true}
	if err := req.Validate(); err != nil {
		return convert.Request{}, err
	}
	return req, nil
}

// ValidatorConfig maps the limits onto the file validator.
func (c *Config) ValidatorConfig() validate.Config {
	return validate.Config{
		MaxFileSize:   c.MaxFileSize,
		MaxNameLength: c.MaxFilenameLength,
		MaxDimension:  c.MaxImageDimension,
	}
}

// RetryConfig maps the retry settings onto the queue's retry policy.
func (c *Config) RetryConfig(log *logging.Logger) retry.Config {
	return retry.Config{
		MaxRetries:     c.Retries,
		InitialBackoff: c.RetryBackoff,
		MaxBackoff:     4 * c.RetryBackoff,
		Logger:         log,
	}
}

// Workers caps the configured concurrency by the CPU budget.
func (c *Config) Workers() int {
	return workers.ForCPU(c.Concurrency)
}

// ListenAddr is the application server address.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}

// MetricsAddr is the metrics server address.
func (c *Config) MetricsAddr() string {
	return c.BindAddr + ":" + c.MetricsPort
}

// LoadConfig prints the banner, loads the configuration from environment
// variables and logs the effective values.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	cfg, err := FromEnv()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  LISTEN:              %s", cfg.ListenAddr())
	logging.Info("  METRICS_ENABLED:     %v", cfg.MetricsEnabled)
	logging.Info("  METRICS_PORT:        %s", cfg.MetricsPort)
	logging.Info("  MAX_FILE_SIZE:       %s", formatBytes(cfg.MaxFileSize))
	logging.Info("  MAX_ARCHIVE_SIZE:    %s", formatBytes(cfg.MaxArchiveSize))
	logging.Info("  MAX_BATCH_SIZE:      %d", cfg.MaxBatchSize)
	logging.Info("  MAX_IMAGE_DIMENSION: %d", cfg.MaxImageDimension)
	logging.Info("  VERIFY_INTEGRITY:    %v", cfg.VerifyIntegrity)
	logging.Info("  CONVERT_CONCURRENCY: %d (effective %d)", cfg.Concurrency, cfg.Workers())
	logging.Info("  CONVERT_TIMEOUT:     %s", cfg.Timeout)
	logging.Info("  CONVERT_RETRIES:     %d (backoff %s)", cfg.Retries, cfg.RetryBackoff)
	logging.Info("  DEFAULT_FORMAT:      %s", cfg.DefaultFormat)
	logging.Info("  DEFAULT_QUALITY:     %d", cfg.DefaultQuality)
	logging.Info("  SWEEP_INTERVAL:      %s", cfg.SweepInterval)
	logging.Info("  VIPS_ENABLED:        %v", cfg.VipsEnabled)
	if cfg.HistoryDSN != "" {
		logging.Info("  HISTORY_DSN:         %s", cfg.HistoryDSN)
	}
	if len(cfg.DisabledEncoders) > 0 {
		logging.Info("  DISABLED_ENCODERS:   %s", strings.Join(cfg.DisabledEncoders, ","))
	}
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	if err != nil {
		return nil, err
	}
	if cfg.BindAddr != DefaultBindAddr && cfg.BindAddr != "localhost" {
		logging.Warn("  BIND_ADDR %s exposes the converter beyond this machine", cfg.BindAddr)
	}
	return cfg, nil
}

// LogMemoryConfig logs the outcome of memory.ConfigureFromEnv.
func LogMemoryConfig(res memory.ConfigResult) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEMORY")
	logging.Info("------------------------------------------------------------")
	if !res.Configured {
		logging.Info("  No memory limit configured (set MEMORY_LIMIT or GOMEMLIMIT)")
		return
	}
	logging.Info("  Source:          %s", res.Source)
	if res.ContainerLimit > 0 {
		logging.Info("  Container limit: %s", formatBytes(res.ContainerLimit))
		logging.Info("  Ratio:           %.2f", res.Ratio)
	}
	logging.Info("  GOMEMLIMIT:      %s", formatBytes(res.GoMemLimit))
}

// LogEngineInit logs which output formats the engine can produce.
func LogEngineInit(vips bool, supported []string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("CONVERSION ENGINE")
	logging.Info("------------------------------------------------------------")
	if vips {
		logging.Info("  [OK] libvips backend enabled")
	} else {
		logging.Info("  libvips backend disabled, using built-in codecs")
	}
	logging.Info("  Output formats: %s", strings.Join(supported, ", "))
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{Method: method, Path: pathTemplate, Name: route.GetName()})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs the registered routes at debug level, grouped by prefix.
func LogHTTPRoutes(router *mux.Router) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if !logging.IsDebugEnabled() {
		return
	}

	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("error walking routes: %v", err)
	}
	logging.Debug("  Registered routes (%d total):", len(routes))

	groups := make(map[string][]RouteInfo)
	for _, route := range routes {
		g := getRouteGroup(route.Path)
		groups[g] = append(groups[g], route)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, g := range keys {
		if g == "" {
			g = "root"
		}
		logging.Debug("  [%s]", g)
		for _, route := range groups[g] {
			logging.Debug("    %-6s %s", route.Method, route.Path)
		}
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if parts[0] == "api" && len(parts) > 1 {
		return "api/" + parts[1]
	}
	return parts[0]
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	ListenAddr      string
	MetricsAddr     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("  Application:     http://%s", config.ListenAddr)
	if config.MetricsEnabled {
		logging.Info("  Metrics:         http://%s/metrics", config.MetricsAddr)
	} else {
		logging.Info("  Metrics:         DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
   _____ _                  _____                          _
  / ____| |                / ____|                        | |
 | |    | | ___  __ _ _ __| |     ___  _ ____   _____ _ __| |_
 | |    | |/ _ \/ _' | '_ \ |    / _ \| '_ \ \ / / _ \ '__| __|
 | |____| |  __/ (_| | | | | |___| (_) | | | \ V /  __/ |  | |_
  \_____|_|\___|\__,_|_| |_|\_____\___/|_| |_|\_/ \___|_|   \__|

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}
	if logging.IsDebugEnabled() {
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}
	logging.Info("")
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration for %s: %q, using default: %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
