// Package config holds the meetingd configuration structures and loader.
package config

import "time"

const (
	defaultListen = ":5001"
)

// Config represents the main configuration structure.
type Config struct {
	Listen string `json:"listen" mapstructure:"listen"`

	// BaseDir is the directory agent script paths are resolved against and
	// exported to children as their module search path.
	BaseDir string `json:"base_dir" mapstructure:"base-dir"`

	Agents []*AgentConfig `json:"agents" mapstructure:"agents"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	// Timeout tiers and lifecycle intervals, in seconds.
	CallTimeout     int `json:"call_timeout" mapstructure:"call-timeout"`
	BulkCallTimeout int `json:"bulk_call_timeout" mapstructure:"bulk-call-timeout"`
	StartupSettle   int `json:"startup_settle" mapstructure:"startup-settle"`
	ShutdownGrace   int `json:"shutdown_grace" mapstructure:"shutdown-grace"`

	// BulkTools lists tool names that get the bulk timeout tier.
	BulkTools []string `json:"bulk_tools" mapstructure:"bulk-tools"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`       // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"` // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// AgentConfig describes one supervised child agent process.
type AgentConfig struct {
	Name    string            `json:"name" mapstructure:"name"`
	Command string            `json:"command" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`

	// SmokeTool is an inexpensive tool called once after startup to confirm
	// basic communication. Optional; failures are logged, never fatal.
	SmokeTool string         `json:"smoke_tool,omitempty" mapstructure:"smoke-tool"`
	SmokeArgs map[string]any `json:"smoke_args,omitempty" mapstructure:"smoke-args"`
}

// DefaultConfig returns the built-in configuration: the two meeting agents
// run from python scripts next to the binary.
func DefaultConfig() *Config {
	return &Config{
		Listen:  defaultListen,
		BaseDir: ".",
		Agents: []*AgentConfig{
			{
				Name:      "transcriber",
				Command:   "python3",
				Args:      []string{"mcp_servers/transcriber_server.py"},
				SmokeTool: "list_transcriptions",
				SmokeArgs: map[string]any{"status_filter": "all"},
			},
			{
				Name:      "scheduler",
				Command:   "python3",
				Args:      []string{"mcp_servers/scheduler_server.py"},
				SmokeTool: "get_upcoming_meetings",
				SmokeArgs: map[string]any{"days_ahead": 7, "max_results": 10},
			},
		},
		Logging:         DefaultLogConfig(),
		CallTimeout:     60,
		BulkCallTimeout: 300,
		StartupSettle:   3,
		ShutdownGrace:   5,
		BulkTools:       []string{"transcribe_audio_file"},
	}
}

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:         "info",
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "main.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
		JSONFormat:    false,
	}
}

// Agent returns the configuration for the named agent, or nil.
func (c *Config) Agent(name string) *AgentConfig {
	for _, a := range c.Agents {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// TimeoutForTool selects the timeout tier for a tool call. Bulk operations
// (transcription) run an order of magnitude longer than ordinary calls.
func (c *Config) TimeoutForTool(toolName string) time.Duration {
	for _, t := range c.BulkTools {
		if t == toolName {
			return time.Duration(c.BulkCallTimeout) * time.Second
		}
	}
	return time.Duration(c.CallTimeout) * time.Second
}

// SettleInterval is the fixed wait after spawning a child before it is
// assumed ready. The protocol has no readiness signal, so this stays a
// conservative delay rather than an active probe.
func (c *Config) SettleInterval() time.Duration {
	return time.Duration(c.StartupSettle) * time.Second
}

// ShutdownGracePeriod bounds the wait between SIGTERM and SIGKILL.
func (c *Config) ShutdownGracePeriod() time.Duration {
	return time.Duration(c.ShutdownGrace) * time.Second
}
