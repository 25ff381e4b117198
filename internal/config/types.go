package config

import "time"

// Config holds the full configuration for relay: the two upstream origins,
// the health-check thresholds that debounce failover, and the ambient
// server/logging/notification settings layered on top by the teacher's
// config conventions.
type Config struct {
	Listen  string `yaml:"listen" mapstructure:"listen"`
	Primary string `yaml:"primary" mapstructure:"primary"`
	Backup  string `yaml:"backup" mapstructure:"backup"`

	CheckInterval    time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	FailThreshold    int           `yaml:"fail_threshold" mapstructure:"fail_threshold"`
	RecoverThreshold int           `yaml:"recover_threshold" mapstructure:"recover_threshold"`

	ProbeMethod  string        `yaml:"probe_method" mapstructure:"probe_method"`
	ProbePath    string        `yaml:"probe_path" mapstructure:"probe_path"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`

	MaxBodyBytes   int64         `yaml:"max_body" mapstructure:"max_body"`
	ForwardTimeout time.Duration `yaml:"forward_timeout" mapstructure:"forward_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace" mapstructure:"shutdown_grace"`

	WebhookURL    string `yaml:"webhook_url" mapstructure:"webhook_url"`
	WebhookFormat string `yaml:"webhook_format" mapstructure:"webhook_format"`

	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	Engineering EngineeringConfig `yaml:"engineering" mapstructure:"engineering"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	JSONLogs   bool   `yaml:"json_logs" mapstructure:"json_logs"`
	Theme      string `yaml:"theme" mapstructure:"theme"`
	Dir        string `yaml:"dir" mapstructure:"dir"`
	FileOutput bool   `yaml:"file_output" mapstructure:"file_output"`
	MaxSize    string `yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
}

// EngineeringConfig holds development/debugging switches that have no
// bearing on failover correctness.
type EngineeringConfig struct {
	ShowNerdStats  bool   `yaml:"show_nerdstats" mapstructure:"show_nerdstats"`
	ProfilerAddr   string `yaml:"profiler_addr" mapstructure:"profiler_addr"`
	EnableProfiler bool   `yaml:"enable_profiler" mapstructure:"enable_profiler"`
}
