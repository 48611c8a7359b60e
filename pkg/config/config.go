package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow lists can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Server      ServerConfig      `json:"server"`
	Memory      MemoryConfig      `json:"memory"`
	Tasks       TasksConfig       `json:"tasks"`
	Evidence    EvidenceConfig    `json:"evidence"`
	Cache       CacheConfig       `json:"cache"`
	Composer    ComposerConfig    `json:"composer"`
	Continuity  ContinuityConfig  `json:"continuity"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Log         LogConfig         `json:"log"`
	mu          sync.RWMutex
}

type AgentConfig struct {
	Name        string              `json:"name" env:"TSUZUKI_AGENT_NAME"`
	ProfilePath string              `json:"profile_path" env:"TSUZUKI_AGENT_PROFILE_PATH"`
	Platforms   FlexibleStringSlice `json:"platforms" env:"TSUZUKI_AGENT_PLATFORMS"`
}

type ServerConfig struct {
	Host string `json:"host" env:"TSUZUKI_SERVER_HOST"`
	Port int    `json:"port" env:"TSUZUKI_SERVER_PORT"`
}

type MemoryConfig struct {
	DBPath             string `json:"db_path" env:"TSUZUKI_MEMORY_DB_PATH"`
	ContextTurns       int    `json:"context_turns" env:"TSUZUKI_MEMORY_CONTEXT_TURNS"`
	ContextRecords     int    `json:"context_records" env:"TSUZUKI_MEMORY_CONTEXT_RECORDS"`
	RetentionTurns     int    `json:"retention_turns" env:"TSUZUKI_MEMORY_RETENTION_TURNS"`
	WorkerPollMS       int    `json:"worker_poll_ms" env:"TSUZUKI_MEMORY_WORKER_POLL_MS"`
	WorkerLeaseSeconds int    `json:"worker_lease_seconds" env:"TSUZUKI_MEMORY_WORKER_LEASE_SECONDS"`
	RecordTTLDays      int    `json:"record_ttl_days" env:"TSUZUKI_MEMORY_RECORD_TTL_DAYS"`
}

type TasksConfig struct {
	DBPath string `json:"db_path" env:"TSUZUKI_TASKS_DB_PATH"`
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled" env:"TSUZUKI_EVIDENCE_BRAVE_ENABLED"`
	APIKey     string `json:"api_key" env:"TSUZUKI_EVIDENCE_BRAVE_API_KEY"`
	MaxResults int    `json:"max_results" env:"TSUZUKI_EVIDENCE_BRAVE_MAX_RESULTS"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled" env:"TSUZUKI_EVIDENCE_DUCKDUCKGO_ENABLED"`
	MaxResults int  `json:"max_results" env:"TSUZUKI_EVIDENCE_DUCKDUCKGO_MAX_RESULTS"`
}

type ReferenceConfig struct {
	Enabled    bool   `json:"enabled" env:"TSUZUKI_EVIDENCE_REFERENCE_ENABLED"`
	Endpoint   string `json:"endpoint" env:"TSUZUKI_EVIDENCE_REFERENCE_ENDPOINT"`
	APIKey     string `json:"api_key" env:"TSUZUKI_EVIDENCE_REFERENCE_API_KEY"`
	MaxResults int    `json:"max_results" env:"TSUZUKI_EVIDENCE_REFERENCE_MAX_RESULTS"`
}

type EvidenceConfig struct {
	Brave           BraveConfig      `json:"brave"`
	DuckDuckGo      DuckDuckGoConfig `json:"duckduckgo"`
	Reference       ReferenceConfig  `json:"reference"`
	SourceTimeoutMS int              `json:"source_timeout_ms" env:"TSUZUKI_EVIDENCE_SOURCE_TIMEOUT_MS"`
	MaxItems        int              `json:"max_items" env:"TSUZUKI_EVIDENCE_MAX_ITEMS"`
}

type CacheConfig struct {
	RedisAddr  string `json:"redis_addr" env:"TSUZUKI_CACHE_REDIS_ADDR"`
	RedisDB    int    `json:"redis_db" env:"TSUZUKI_CACHE_REDIS_DB"`
	TTLSeconds int    `json:"ttl_seconds" env:"TSUZUKI_CACHE_TTL_SECONDS"`
}

type ComposerConfig struct {
	APIKey    string `json:"api_key" env:"TSUZUKI_COMPOSER_API_KEY"`
	APIBase   string `json:"api_base" env:"TSUZUKI_COMPOSER_API_BASE"`
	Model     string `json:"model" env:"TSUZUKI_COMPOSER_MODEL"`
	TimeoutMS int    `json:"timeout_ms" env:"TSUZUKI_COMPOSER_TIMEOUT_MS"`
}

type ContinuityConfig struct {
	TriggerPhrases FlexibleStringSlice `json:"trigger_phrases" env:"TSUZUKI_CONTINUITY_TRIGGER_PHRASES"`
}

type MaintenanceConfig struct {
	Cron string `json:"cron" env:"TSUZUKI_MAINTENANCE_CRON"`
}

type LogConfig struct {
	Level       string `json:"level" env:"TSUZUKI_LOG_LEVEL"`
	Development bool   `json:"development" env:"TSUZUKI_LOG_DEVELOPMENT"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:        "tsuzuki",
			ProfilePath: "~/.tsuzuki/profile.json",
			Platforms:   FlexibleStringSlice{"obsidian", "browser", "web", "cli"},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 18920,
		},
		Memory: MemoryConfig{
			DBPath:             "~/.tsuzuki/memory.db",
			ContextTurns:       24,
			ContextRecords:     16,
			RetentionTurns:     48,
			WorkerPollMS:       700,
			WorkerLeaseSeconds: 60,
			RecordTTLDays:      180,
		},
		Tasks: TasksConfig{
			DBPath: "~/.tsuzuki/tasks.db",
		},
		Evidence: EvidenceConfig{
			Brave: BraveConfig{
				Enabled:    false,
				APIKey:     "",
				MaxResults: 5,
			},
			DuckDuckGo: DuckDuckGoConfig{
				Enabled:    true,
				MaxResults: 5,
			},
			Reference: ReferenceConfig{
				Enabled:    false,
				Endpoint:   "",
				MaxResults: 5,
			},
			SourceTimeoutMS: 8000,
			MaxItems:        8,
		},
		Cache: CacheConfig{
			RedisAddr:  "",
			RedisDB:    0,
			TTLSeconds: 120,
		},
		Composer: ComposerConfig{
			APIBase:   "",
			Model:     "gpt-4o-mini",
			TimeoutMS: 30000,
		},
		Continuity: ContinuityConfig{
			TriggerPhrases: FlexibleStringSlice{"continue", "resume", "続き", "続けて", "継続"},
		},
		Maintenance: MaintenanceConfig{
			Cron: "*/15 * * * *",
		},
		Log: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) MemoryDBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Memory.DBPath)
}

func (c *Config) TasksDBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Tasks.DBPath)
}

func (c *Config) ProfilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agent.ProfilePath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
