// Package types provides configuration types for the dispatch backend.
package types

import "time"

// ServerConfig represents API server configuration.
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	WebSocketPath  string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	MaxConnections int           `json:"maxConnections" mapstructure:"max_connections"`
	EnableMetrics  bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "localhost",
		Port:           8080,
		WebSocketPath:  "/api/v1/ws",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxConnections: 256,
		EnableMetrics:  true,
	}
}

// OptimizeRequest is the API request for a single optimization run.
type OptimizeRequest struct {
	Prices               []float64      `json:"prices"`
	Timestamps           []string       `json:"timestamps,omitempty"`
	IntervalHours        float64        `json:"intervalHours,omitempty"`
	Battery              BatteryParams  `json:"battery"`
	CategorizationMethod string         `json:"categorizationMethod,omitempty"`
	CategorizationOpts   map[string]any `json:"categorizationOptions,omitempty"`
	Seed                 int64          `json:"seed,omitempty"`
}

// BacktestRequest is the API request for a windowed backtest run.
type BacktestRequest struct {
	Prices        []float64     `json:"prices"`
	Timestamps    []string      `json:"timestamps,omitempty"`
	IntervalHours float64       `json:"intervalHours,omitempty"`
	Battery       BatteryParams `json:"battery"`
	WindowPeriods int           `json:"windowPeriods,omitempty"`
	Method        string        `json:"categorizationMethod,omitempty"`
	Seed          int64         `json:"seed,omitempty"`
}

// JobStatus describes a running or finished backtest job.
type JobStatus struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"` // "running", "completed", "failed"
	Progress    float64   `json:"progress"`
	WindowsDone int       `json:"windowsDone"`
	Windows     int       `json:"windows"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
}
