package config

import "time"

// Config is the root configuration for Sidekick.
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Storage StorageConfig `json:"storage"`
	Events  EventsConfig  `json:"events"`
	Streams StreamsConfig `json:"streams"`
	Tools   ToolsConfig   `json:"tools"`
	Models  ModelsConfig  `json:"models"`
	Notify  NotifyConfig  `json:"notify"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	IdleTimeout Duration `json:"idle_timeout,omitempty"` // per-request write deadline
}

// StorageConfig holds task store settings.
type StorageConfig struct {
	Path string `json:"path"` // SQLite database file (default: $SIDEKICK_PATH/tasks.db)
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// StreamsConfig holds stream registry settings.
type StreamsConfig struct {
	Retention Duration `json:"retention,omitempty"` // how long completed streams stay replayable
	SweepSpec string   `json:"sweep_spec,omitempty"` // cron spec for the retention sweep
}

// ToolsConfig configures the tool dispatcher.
type ToolsConfig struct {
	ApprovedFile   string                     `json:"approved_file,omitempty"` // YAML file listing server-approved tools
	MCPServers     map[string]MCPServerConfig `json:"mcp_servers,omitempty"`
	CommandTimeout Duration                   `json:"command_timeout,omitempty"` // default executeCommand timeout
}

// MCPServerConfig describes one external MCP tool server.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string   `json:"driver"` // "anthropic", "openai"
	Model     string   `json:"model"`
	BaseURL   string   `json:"base_url,omitempty"`
	APIKey    string   `json:"api_key,omitempty"` // direct key or ${{ .Env.VAR }} template
	MaxTokens int      `json:"max_tokens,omitempty"`
	Timeout   Duration `json:"timeout,omitempty"`
}

// NotifyConfig holds notification relay settings.
type NotifyConfig struct {
	Enabled bool `json:"enabled"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
