// Package config loads helix settings from defaults, an optional TOML file
// and HELIX_* environment variables.
package config

import "time"

// Config is the full set of settings. Keys are dotted section.field paths,
// e.g. "neo4j.uri" or env HELIX_NEO4J_URI.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Memory   MemoryConfig   `mapstructure:"memory" toml:"memory"`
	Pipeline PipelineConfig `mapstructure:"pipeline" toml:"pipeline"`
	Ollama   OllamaConfig   `mapstructure:"ollama" toml:"ollama"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j" toml:"neo4j"`
	Redis    RedisConfig    `mapstructure:"redis" toml:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres" toml:"postgres"`
	Kafka    KafkaConfig    `mapstructure:"kafka" toml:"kafka"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
}

// ServerConfig configures the HTTP API. Zero MaxSessions or SessionIdleTTL
// disables that limit.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" toml:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" toml:"shutdown_timeout"`
	MaxSessions     int           `mapstructure:"max_sessions" toml:"max_sessions"`
	SessionIdleTTL  time.Duration `mapstructure:"session_idle_ttl" toml:"session_idle_ttl"`
}

type MemoryConfig struct {
	Capacity int `mapstructure:"capacity" toml:"capacity"`
}

// PipelineConfig tunes the step pipeline. TemplatesFile, when set, is a
// YAML file overriding the built-in query templates; with WatchTemplates the
// server reloads it on change.
type PipelineConfig struct {
	PreviewRows    int    `mapstructure:"preview_rows" toml:"preview_rows"`
	RowLimit       int    `mapstructure:"row_limit" toml:"row_limit"`
	TemplatesFile  string `mapstructure:"templates_file" toml:"templates_file,omitempty"`
	WatchTemplates bool   `mapstructure:"watch_templates" toml:"watch_templates"`
}

type OllamaConfig struct {
	URL     string        `mapstructure:"url" toml:"url"`
	Model   string        `mapstructure:"model" toml:"model"`
	Timeout time.Duration `mapstructure:"timeout" toml:"timeout"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri" toml:"uri"`
	User     string `mapstructure:"user" toml:"user"`
	Password string `mapstructure:"password" toml:"password"`
	Database string `mapstructure:"database" toml:"database,omitempty"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled" toml:"enabled"`
	Addr     string        `mapstructure:"addr" toml:"addr"`
	Password string        `mapstructure:"password" toml:"password"`
	DB       int           `mapstructure:"db" toml:"db"`
	TTL      time.Duration `mapstructure:"ttl" toml:"ttl"`
}

type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	URL     string `mapstructure:"url" toml:"url"`
	Table   string `mapstructure:"table" toml:"table"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" toml:"enabled"`
	Brokers []string `mapstructure:"brokers" toml:"brokers"`
	Topic   string   `mapstructure:"topic" toml:"topic"`
}

type LogConfig struct {
	Debug  bool `mapstructure:"debug" toml:"debug"`
	JSON   bool `mapstructure:"json" toml:"json"`
	Pretty bool `mapstructure:"pretty" toml:"pretty"`
}
