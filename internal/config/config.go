// Package config loads the service configuration: server settings,
// storage backends, and the per-instance oracle definitions. Env vars
// override file values after loading, so a deployment can keep one yaml
// and vary secrets and endpoints per environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/insightlabs/observatory/internal/core"
)

// ValidationError rejects a configuration before it reaches runtime
// paths.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation_error: %s: %s", e.Field, e.Reason)
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Database  DatabaseConfig           `yaml:"database"`
	Redis     RedisConfig              `yaml:"redis"`
	Instances []*core.ProtocolInstance `yaml:"instances"`
}

// Load reads the yaml file, applies env overrides, and validates.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	ApplyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnvOverrides mutates cfg from the process environment:
//
//	PORT                                     server port
//	DATABASE_URL                             Postgres DSN
//	REDIS_ADDR / REDIS_PASSWORD              cache connection
//	UMA_<CHAIN>_RPC_URL                      RPC endpoints (comma-separated)
//	UMA_<CHAIN>_OPTIMISTIC_ORACLE_V3_ADDRESS oracle contract per chain
//	INSIGHT_RPC_TIMEOUT_MS                   per-call RPC deadline, all instances
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	var rpcTimeoutMs int64
	if v := os.Getenv("INSIGHT_RPC_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			rpcTimeoutMs = ms
		}
	}

	for _, inst := range cfg.Instances {
		if rpcTimeoutMs > 0 {
			inst.Config.RPCTimeoutMs = rpcTimeoutMs
		}
		chain := strings.ToUpper(strings.ReplaceAll(inst.Chain, "-", "_"))
		if v := os.Getenv("UMA_" + chain + "_RPC_URL"); v != "" {
			inst.Config.RPCURLs = SplitRPCURLs(v)
		}
		if inst.ProtocolConfig.UMA != nil {
			if v := os.Getenv("UMA_" + chain + "_OPTIMISTIC_ORACLE_V3_ADDRESS"); v != "" {
				inst.ProtocolConfig.UMA.OptimisticOracleV3Address = v
			}
		}
	}
}

// SplitRPCURLs parses a comma-separated endpoint list, dropping blanks.
func SplitRPCURLs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations that would misbehave at runtime.
// Enabled instances need an id, a known protocol, a chain, at least
// one RPC endpoint (REST instances excepted) and exactly one populated
// protocolConfig variant. (protocol, chain) must be unique among
// enabled instances.
func Validate(cfg *Config) error {
	seen := make(map[string]bool)
	natural := make(map[string]string)
	for i, inst := range cfg.Instances {
		field := fmt.Sprintf("instances[%d]", i)
		if inst.ID == "" {
			return &ValidationError{Field: field + ".id", Reason: "required"}
		}
		if seen[inst.ID] {
			return &ValidationError{Field: field + ".id", Reason: "duplicate id " + inst.ID}
		}
		seen[inst.ID] = true
		if !inst.Protocol.Valid() {
			return &ValidationError{Field: field + ".protocol", Reason: fmt.Sprintf("unknown protocol %q", inst.Protocol)}
		}
		if inst.Chain == "" {
			return &ValidationError{Field: field + ".chain", Reason: "required"}
		}
		if !inst.Enabled {
			continue
		}
		key := string(inst.Protocol) + "/" + inst.Chain
		if prev, ok := natural[key]; ok {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("(protocol, chain) collides with instance %s", prev)}
		}
		natural[key] = inst.ID

		kind := inst.ProtocolConfig.Kind()
		if kind == core.ConfigKindNone {
			return &ValidationError{Field: field + ".protocolConfig", Reason: "exactly one variant must be set"}
		}
		if kind != core.ConfigKindREST && len(inst.Config.RPCURLs) == 0 {
			return &ValidationError{Field: field + ".config.rpc_urls", Reason: "at least one endpoint required"}
		}
		if kind == core.ConfigKindREST && inst.ProtocolConfig.REST.BaseURL == "" {
			return &ValidationError{Field: field + ".protocolConfig.rest.base_url", Reason: "required"}
		}
	}
	return nil
}
