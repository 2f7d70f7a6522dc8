package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HELIX_NEO4J_URI.
const EnvPrefix = "HELIX"

// InitViper returns a viper instance holding the defaults, the config file at
// path (if path is non-empty) and HELIX_* environment variables.
//
// Precedence, highest first: flags bound by the caller, environment, file,
// defaults.
func InitViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setViperDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("helix")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Load resolves the configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Memory.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("memory.capacity must be positive, got %d", c.Memory.Capacity))
	}
	if c.Pipeline.RowLimit <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.row_limit must be positive, got %d", c.Pipeline.RowLimit))
	}
	if c.Pipeline.PreviewRows <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.preview_rows must be positive, got %d", c.Pipeline.PreviewRows))
	}
	if c.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must not be negative, got %d", c.Server.MaxSessions))
	}
	if c.Server.SessionIdleTTL < 0 {
		errs = append(errs, fmt.Errorf("server.session_idle_ttl must not be negative, got %s", c.Server.SessionIdleTTL))
	}
	if c.Neo4j.URI == "" {
		errs = append(errs, errors.New("neo4j.uri is required"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

// Write encodes c as TOML, the format InitViper reads by default.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// setViperDefaults registers NewDefaultConfig() under dotted keys so
// AutomaticEnv can see every key.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_sessions", d.Server.MaxSessions)
	v.SetDefault("server.session_idle_ttl", d.Server.SessionIdleTTL)

	v.SetDefault("memory.capacity", d.Memory.Capacity)

	v.SetDefault("pipeline.preview_rows", d.Pipeline.PreviewRows)
	v.SetDefault("pipeline.row_limit", d.Pipeline.RowLimit)
	v.SetDefault("pipeline.templates_file", d.Pipeline.TemplatesFile)
	v.SetDefault("pipeline.watch_templates", d.Pipeline.WatchTemplates)

	v.SetDefault("ollama.url", d.Ollama.URL)
	v.SetDefault("ollama.model", d.Ollama.Model)
	v.SetDefault("ollama.timeout", d.Ollama.Timeout)

	v.SetDefault("neo4j.uri", d.Neo4j.URI)
	v.SetDefault("neo4j.user", d.Neo4j.User)
	v.SetDefault("neo4j.password", d.Neo4j.Password)
	v.SetDefault("neo4j.database", d.Neo4j.Database)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("postgres.enabled", d.Postgres.Enabled)
	v.SetDefault("postgres.url", d.Postgres.URL)
	v.SetDefault("postgres.table", d.Postgres.Table)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)

	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.pretty", d.Log.Pretty)
}
