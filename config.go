package fedlet

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml"
)

// EnvPrefix prefixes every environment variable that overrides the file.
const EnvPrefix = "FEDLET_"

var errMissingTasksURL = errors.New("tasks.url is required")

type Config struct {
	Agent      AgentConfig  `toml:"agent" envPrefix:"AGENT_"`
	Tasks      ClientConfig `toml:"tasks" envPrefix:"TASKS_"`
	Repository ClientConfig `toml:"repository" envPrefix:"REPOSITORY_"`
	MQTT       MQTTConfig   `toml:"mqtt" envPrefix:"MQTT_"`
	API        APIConfig    `toml:"api" envPrefix:"API_"`
}

type AgentConfig struct {
	DeviceID string   `toml:"device_id" env:"DEVICE_ID"`
	LogLevel string   `toml:"log_level" env:"LOG_LEVEL"`
	Models   []string `toml:"models" env:"MODELS"`
	// ModelsDir holds one installed bundle per model id.
	ModelsDir string `toml:"models_dir" env:"MODELS_DIR"`
	// DataDir holds <task-id>.jsonl or <model-id>.jsonl training rows.
	DataDir      string `toml:"data_dir" env:"DATA_DIR"`
	WorkDir      string `toml:"work_dir" env:"WORK_DIR"`
	DownloadsDir string `toml:"downloads_dir" env:"DOWNLOADS_DIR"`
	// JournalPath is the SQLite run journal. Empty keeps runs in memory.
	JournalPath   string `toml:"journal_path" env:"JOURNAL_PATH"`
	CheckInterval string `toml:"check_interval" env:"CHECK_INTERVAL"`
	MaxConcurrent int    `toml:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxTasks      int    `toml:"max_tasks" env:"MAX_TASKS"`
	ResultsKey    string `toml:"results_key" env:"RESULTS_KEY"` // hex AES-256 key sealing uploaded results
}

type ClientConfig struct {
	URL             string `toml:"url" env:"URL"`
	RequestTimeout  string `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	TransferTimeout string `toml:"transfer_timeout" env:"TRANSFER_TIMEOUT"`
}

// MQTTConfig is optional; an empty URL disables messaging.
type MQTTConfig struct {
	URL                string `toml:"url" env:"URL"`
	DomainID           string `toml:"domain_id" env:"DOMAIN_ID"`
	ChannelID          string `toml:"channel_id" env:"CHANNEL_ID"`
	ClientID           string `toml:"client_id" env:"CLIENT_ID"`
	ClientKey          string `toml:"client_key" env:"CLIENT_KEY"`
	QoS                int    `toml:"qos" env:"QOS"`
	Timeout            string `toml:"timeout" env:"TIMEOUT"`
	LivelinessInterval string `toml:"liveliness_interval" env:"LIVELINESS_INTERVAL"`
	CAPath             string `toml:"ca_path" env:"CA_PATH"`
	CertPath           string `toml:"cert_path" env:"CERT_PATH"`
	KeyPath            string `toml:"key_path" env:"KEY_PATH"`
}

// APIConfig is optional; an empty address disables the HTTP API.
type APIConfig struct {
	Address string `toml:"address" env:"ADDRESS"`
}

func DefaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			DeviceID:      namegenerator.NewGenerator().Generate(),
			LogLevel:      "info",
			ModelsDir:     "fedlet/models",
			DataDir:       "fedlet/data",
			WorkDir:       "fedlet/work",
			DownloadsDir:  "fedlet/downloads",
			CheckInterval: "5m",
			MaxConcurrent: 4,
		},
		Tasks: ClientConfig{
			RequestTimeout:  "30s",
			TransferTimeout: "10m",
		},
		Repository: ClientConfig{
			RequestTimeout:  "30s",
			TransferTimeout: "10m",
		},
		MQTT: MQTTConfig{
			Timeout:            "30s",
			LivelinessInterval: "10s",
		},
	}
}

// LoadConfig reads the TOML file at path over the defaults and then applies
// FEDLET_* environment variables. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			tree, err := toml.Load(string(data))
			if err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
			if err := tree.Unmarshal(&cfg); err != nil {
				return nil, fmt.Errorf("error unmarshaling config: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveConfig writes cfg to path as TOML, readable by the owner only since it
// may hold credentials.
func SaveConfig(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

func (c Config) Validate() error {
	if c.Tasks.URL == "" {
		return errMissingTasksURL
	}
	if c.Agent.MaxConcurrent < 0 {
		return fmt.Errorf("agent.max_concurrent must not be negative, got %d", c.Agent.MaxConcurrent)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	durations := map[string]string{
		"agent.check_interval":        c.Agent.CheckInterval,
		"tasks.request_timeout":       c.Tasks.RequestTimeout,
		"tasks.transfer_timeout":      c.Tasks.TransferTimeout,
		"repository.request_timeout":  c.Repository.RequestTimeout,
		"repository.transfer_timeout": c.Repository.TransferTimeout,
		"mqtt.timeout":                c.MQTT.Timeout,
		"mqtt.liveliness_interval":    c.MQTT.LivelinessInterval,
	}
	for field, value := range durations {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	return nil
}

// Duration parses a validated duration field. Empty means zero.
func Duration(s string) time.Duration {
	d, _ := parseDuration(s)

	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}

	return d, nil
}
