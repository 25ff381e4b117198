package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/corvidae/relay/internal/util"
)

const (
	DefaultListen = "0.0.0.0:8080"

	envPrefix = "RELAY"

	// DefaultFileWriteDelay gives a hot-reloaded config file time to finish
	// landing on disk before we re-read it.
	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults, matching
// spec.md's stated field defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:           DefaultListen,
		CheckInterval:    2 * time.Second,
		FailThreshold:    3,
		RecoverThreshold: 2,
		ProbeMethod:      "GET",
		ProbePath:        "/",
		ProbeTimeout:     2 * time.Second,
		MaxBodyBytes:     10 << 20, // 10 MiB
		ForwardTimeout:   30 * time.Second,
		ShutdownGrace:    5 * time.Second,
		WebhookFormat:    "slack",
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			MaxSize:    "10MB",
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// registerFlags defines the pflag surface. flags > env > file > defaults,
// mirroring the teacher's config precedence.
func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("listen", "", "address to bind the proxy on")
	fs.String("primary", "", "primary upstream origin URL")
	fs.String("backup", "", "backup upstream origin URL")
	fs.Duration("check-interval", 0, "duration between consecutive health probes")
	fs.Int("fail-threshold", 0, "consecutive failed probes required to fail over")
	fs.Int("recover-threshold", 0, "consecutive successful probes required to fail back")
	fs.String("probe-method", "", "HTTP method used for health probes")
	fs.String("probe-path", "", "path used for health probes")
	fs.String("max-body", "", "maximum forwarded request body size, e.g. 10MB")
	fs.String("webhook-url", "", "Slack/Discord incoming webhook URL for incident notifications")
	fs.String("webhook-format", "", "webhook payload format: slack or discord")
	fs.Bool("json-logs", false, "emit structured JSON logs instead of pretty console logs")
	fs.Duration("shutdown-grace", 0, "grace period allowed for in-flight requests during shutdown")
}

// Load merges CLI flags, a YAML config file, and RELAY_-prefixed environment
// variables into a validated Config. Precedence is flags > env > file >
// defaults, matching the teacher's viper-based config layer.
func Load(fs *pflag.FlagSet) (*Config, error) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	// Load runs again on every config-file reload with the same FlagSet, and
	// pflag panics on a redefined flag, so register only once.
	if fs.Lookup("config") == nil {
		registerFlags(fs)
	}
	if !fs.Parsed() {
		if err := fs.Parse(os.Args[1:]); err != nil {
			return nil, fmt.Errorf("parsing flags: %w", err)
		}
	}

	v := viper.GetViper()
	v.SetConfigType("yaml")

	if configFile, _ := fs.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows about, so bind each key
	// explicitly for RELAY_* values to apply even without a config file.
	for _, key := range []string{
		"listen", "primary", "backup", "check_interval", "fail_threshold",
		"recover_threshold", "probe_method", "probe_path", "probe_timeout",
		"max_body", "forward_timeout", "shutdown_grace", "webhook_url",
		"webhook_format", "json_logs", "logging.level", "logging.json_logs",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToByteSizeHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	// A top-level json_logs key is accepted as well as logging.json_logs.
	if v.IsSet("json_logs") {
		cfg.Logging.JSONLogs = v.GetBool("json_logs")
	}

	applyFlagOverrides(cfg, fs)

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFlagOverrides gives explicitly-set flags the final say over env/file
// values, since flags are the most specific override a caller can give.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) {
	if fs.Changed("listen") {
		cfg.Listen, _ = fs.GetString("listen")
	}
	if fs.Changed("primary") {
		cfg.Primary, _ = fs.GetString("primary")
	}
	if fs.Changed("backup") {
		cfg.Backup, _ = fs.GetString("backup")
	}
	if fs.Changed("check-interval") {
		cfg.CheckInterval, _ = fs.GetDuration("check-interval")
	}
	if fs.Changed("fail-threshold") {
		cfg.FailThreshold, _ = fs.GetInt("fail-threshold")
	}
	if fs.Changed("recover-threshold") {
		cfg.RecoverThreshold, _ = fs.GetInt("recover-threshold")
	}
	if fs.Changed("probe-method") {
		cfg.ProbeMethod, _ = fs.GetString("probe-method")
	}
	if fs.Changed("probe-path") {
		cfg.ProbePath, _ = fs.GetString("probe-path")
	}
	if fs.Changed("max-body") {
		if raw, _ := fs.GetString("max-body"); raw != "" {
			if n, err := parseByteSize(raw); err == nil {
				cfg.MaxBodyBytes = n
			}
		}
	}
	if fs.Changed("webhook-url") {
		cfg.WebhookURL, _ = fs.GetString("webhook-url")
	}
	if fs.Changed("webhook-format") {
		cfg.WebhookFormat, _ = fs.GetString("webhook-format")
	}
	if fs.Changed("json-logs") {
		cfg.Logging.JSONLogs, _ = fs.GetBool("json-logs")
	}
	if fs.Changed("shutdown-grace") {
		cfg.ShutdownGrace, _ = fs.GetDuration("shutdown-grace")
	}
}

// parseByteSize wraps util.ParseSize so config can accept bare integer byte
// counts in addition to unit-suffixed strings.
func parseByteSize(s string) (int64, error) {
	return util.ParseSize(s)
}

// stringToByteSizeHookFunc lets max_body be written as a unit-suffixed
// string ("10MB") in YAML while the Config field stays an int64, the same
// way mapstructure.StringToTimeDurationHookFunc lets durations be written
// as "2s" while their field stays a time.Duration.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Int64 {
			return data, nil
		}
		return util.ParseSize(data.(string))
	}
}

// Validate checks the invariants spec.md §3 requires before the rest of the
// application is wired up against this config.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen must not be empty")
	}
	if c.Primary == "" {
		return fmt.Errorf("config: primary must not be empty")
	}
	if c.Backup == "" {
		return fmt.Errorf("config: backup must not be empty")
	}
	if c.FailThreshold < 1 {
		return fmt.Errorf("config: fail_threshold must be >= 1, got %d", c.FailThreshold)
	}
	if c.RecoverThreshold < 1 {
		return fmt.Errorf("config: recover_threshold must be >= 1, got %d", c.RecoverThreshold)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("config: check_interval must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: max_body must be positive")
	}
	switch c.WebhookFormat {
	case "", "slack", "discord":
	default:
		return fmt.Errorf("config: webhook_format must be slack or discord, got %q", c.WebhookFormat)
	}
	if c.ProbeMethod != "GET" && c.ProbeMethod != "HEAD" {
		return fmt.Errorf("config: probe_method must be GET or HEAD, got %q", c.ProbeMethod)
	}
	return nil
}

// WatchForChanges watches the config file and, on change, re-runs Load and
// passes the resulting Config to onChange (a reload that fails Load is
// dropped). It changes nothing in the running application by itself; any
// effect of the new values is up to onChange.
func WatchForChanges(fs *pflag.FlagSet, onChange func(*Config)) {
	v := viper.GetViper()
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		reloadMutex.Lock()
		defer reloadMutex.Unlock()

		now := time.Now()
		if now.Sub(lastReload) < 500*time.Millisecond {
			return
		}
		lastReload = now

		time.Sleep(DefaultFileWriteDelay)

		cfg, err := Load(fs)
		if err != nil {
			return
		}
		onChange(cfg)
	})
}
