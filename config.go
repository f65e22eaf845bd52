package quill

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/quill/default"
)

// Config represents the user's quill configuration.
type Config struct {
	Version    int              `toml:"version" json:"version"`
	Inference  InferenceConfig  `toml:"inference" json:"inference"`
	Command    CommandConfig    `toml:"command" json:"command"`
	Completion CompletionConfig `toml:"completion" json:"completion"`
	Server     ServerConfig     `toml:"server" json:"server"`
}

// InferenceConfig holds settings for locating and running the inference process.
type InferenceConfig struct {
	ProjectRoot       string        `toml:"project_root" json:"project_root"`
	Interpreter       string        `toml:"interpreter" json:"interpreter"`
	SystemInterpreter string        `toml:"system_interpreter" json:"system_interpreter"`
	VenvDirs          []string      `toml:"venv_dirs" json:"venv_dirs"`
	PackageDir        string        `toml:"package_dir" json:"package_dir"`
	MaxReplyBytes     int           `toml:"max_reply_bytes" json:"max_reply_bytes"`
	StderrTailBytes   int           `toml:"stderr_tail_bytes" json:"stderr_tail_bytes"`
	ReapGraceMs       int           `toml:"reap_grace_ms" json:"reap_grace_ms"`
	Scripts           ScriptsConfig `toml:"scripts" json:"scripts"`
}

// ScriptsConfig maps each call kind to the script that serves it.
type ScriptsConfig struct {
	Generate string `toml:"generate" json:"generate"`
	Deploy   string `toml:"deploy" json:"deploy"`
	Inline   string `toml:"inline" json:"inline"`
	Dropdown string `toml:"dropdown" json:"dropdown"`
}

// CommandConfig holds settings for the panel command channel.
type CommandConfig struct {
	// TimeoutSeconds bounds generate/retry/deploy. Zero means unbounded.
	TimeoutSeconds *int `toml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// CompletionConfig holds settings for inline and dropdown completion.
type CompletionConfig struct {
	TimeoutSeconds    int      `toml:"timeout_seconds" json:"timeout_seconds"`
	TriggerCharacters []string `toml:"trigger_characters" json:"trigger_characters"`
	MaxSuggestions    int      `toml:"max_suggestions" json:"max_suggestions"`
	MaxPrefixBytes    int      `toml:"max_prefix_bytes" json:"max_prefix_bytes"`
	CacheTTLSeconds   *int     `toml:"cache_ttl_seconds" json:"cache_ttl_seconds,omitempty"`
	CancelSuperseded  *bool    `toml:"cancel_superseded" json:"cancel_superseded,omitempty"`
}

// ServerConfig holds daemon listener settings.
type ServerConfig struct {
	WebSocketAddr string `toml:"websocket_addr" json:"websocket_addr"`
}

// ConfigDir returns the config directory path.
// Resolution order: $QUILL_CONFIG_DIR > $XDG_CONFIG_HOME/quill > ~/.config/quill
func ConfigDir() string {
	if dir := os.Getenv("QUILL_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "quill")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "quill-config")
	}
	return filepath.Join(home, ".config", "quill")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// PromptPath returns the path of a user prompt template override
// (e.g. "generate.tmpl").
func PromptPath(name string) string {
	return filepath.Join(ConfigDir(), "prompts", name)
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(string(defaults.DefaultConfigTOML), &cfg); err != nil {
		panic("quill: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path, filling missing fields from defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	in, din := &cfg.Inference, &defaults.Inference
	if in.SystemInterpreter == "" {
		in.SystemInterpreter = din.SystemInterpreter
	}
	if in.VenvDirs == nil {
		in.VenvDirs = din.VenvDirs
	}
	if in.PackageDir == "" {
		in.PackageDir = din.PackageDir
	}
	if in.MaxReplyBytes == 0 {
		in.MaxReplyBytes = din.MaxReplyBytes
	}
	if in.StderrTailBytes == 0 {
		in.StderrTailBytes = din.StderrTailBytes
	}
	if in.ReapGraceMs == 0 {
		in.ReapGraceMs = din.ReapGraceMs
	}
	if in.Scripts.Generate == "" {
		in.Scripts.Generate = din.Scripts.Generate
	}
	if in.Scripts.Deploy == "" {
		in.Scripts.Deploy = din.Scripts.Deploy
	}
	if in.Scripts.Inline == "" {
		in.Scripts.Inline = din.Scripts.Inline
	}
	if in.Scripts.Dropdown == "" {
		in.Scripts.Dropdown = din.Scripts.Dropdown
	}
	if cfg.Command.TimeoutSeconds == nil {
		cfg.Command.TimeoutSeconds = defaults.Command.TimeoutSeconds
	}
	co, dco := &cfg.Completion, &defaults.Completion
	if co.TimeoutSeconds == 0 {
		co.TimeoutSeconds = dco.TimeoutSeconds
	}
	if co.TriggerCharacters == nil {
		co.TriggerCharacters = dco.TriggerCharacters
	}
	if co.MaxSuggestions == 0 {
		co.MaxSuggestions = dco.MaxSuggestions
	}
	if co.MaxPrefixBytes == 0 {
		co.MaxPrefixBytes = dco.MaxPrefixBytes
	}
	if co.CacheTTLSeconds == nil {
		co.CacheTTLSeconds = dco.CacheTTLSeconds
	}
	if co.CancelSuperseded == nil {
		co.CancelSuperseded = dco.CancelSuperseded
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Completion.TimeoutSeconds < 0 {
		warnings = append(warnings, "completion.timeout_seconds is negative; completions will never time out")
	}
	if cfg.Command.TimeoutSeconds != nil && *cfg.Command.TimeoutSeconds == 0 {
		warnings = append(warnings, "command.timeout_seconds is 0; a hung inference process keeps the panel locked until it exits")
	}
	if root := ResolveProjectRoot(cfg); root != "" {
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			warnings = append(warnings, "inference.project_root does not exist: "+root)
		}
	}
	for _, c := range cfg.Completion.TriggerCharacters {
		if len([]rune(c)) != 1 {
			warnings = append(warnings, "completion.trigger_characters entries must be a single character: "+c)
		}
	}
	return warnings
}

// ResolveProjectRoot returns the directory the inference scripts live in.
// Priority: $QUILL_PROJECT_ROOT env > config value > parent of the executable's directory.
func ResolveProjectRoot(cfg *Config) string {
	if root := os.Getenv("QUILL_PROJECT_ROOT"); root != "" {
		return root
	}
	if cfg != nil && cfg.Inference.ProjectRoot != "" {
		return cfg.Inference.ProjectRoot
	}
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	return filepath.Dir(filepath.Dir(exe))
}

// ResolveInterpreter returns the interpreter command line override.
// Priority: $QUILL_INTERPRETER env > config value.
func ResolveInterpreter(cfg *Config) string {
	if interp := os.Getenv("QUILL_INTERPRETER"); interp != "" {
		return interp
	}
	if cfg != nil {
		return cfg.Inference.Interpreter
	}
	return ""
}

// CommandTimeout returns the panel command timeout. Zero means unbounded.
func CommandTimeout(cfg *Config) time.Duration {
	if cfg == nil || cfg.Command.TimeoutSeconds == nil {
		return 0
	}
	if *cfg.Command.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(*cfg.Command.TimeoutSeconds) * time.Second
}

// CompletionTimeout returns the inline/dropdown timeout. Zero means unbounded.
func CompletionTimeout(cfg *Config) time.Duration {
	if cfg == nil || cfg.Completion.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(cfg.Completion.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long successful completion results are reused.
// Zero disables the cache.
func CacheTTL(cfg *Config) time.Duration {
	if cfg == nil || cfg.Completion.CacheTTLSeconds == nil || *cfg.Completion.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(*cfg.Completion.CacheTTLSeconds) * time.Second
}

// CancelSuperseded reports whether a completion process is killed as soon as a
// newer trigger for the same site arrives.
func CancelSuperseded(cfg *Config) bool {
	if cfg == nil || cfg.Completion.CancelSuperseded == nil {
		return false
	}
	return *cfg.Completion.CancelSuperseded
}
