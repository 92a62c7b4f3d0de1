package configuration

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

const (
	defaultRootTopic        = "tuyazigbee"
	defaultBaudRate         = 115200
	defaultStoragePath      = "./data"
	defaultAttemptTimeoutMs = 2000
	defaultSettleDelayMs    = 300
	defaultTier1TimeoutMs   = 5000
	defaultTier2TimeoutMs   = 3000
	defaultTier3TimeoutMs   = 3000
	defaultPollIntervalMs   = 500
	defaultJournalPath      = "./data/journal.db"
)

type configurationService struct {
	filename      string
	configuration Configuration
	mu            sync.RWMutex
}

// Init reads the YAML file at filename and fills unset fields with defaults.
func Init(filename string) (ConfigurationService, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file %v: %w", filename, err)
	}

	cfg, err := parse(buf)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %v: %w", filename, err)
	}

	return &configurationService{
		filename:      filename,
		configuration: cfg,
	}, nil
}

func parse(buf []byte) (Configuration, error) {
	var cfg Configuration
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Configuration{}, err
	}

	applyDefaults(&cfg)

	return cfg, nil
}

func applyDefaults(cfg *Configuration) {
	if cfg.MqttConfiguration.RootTopic == "" {
		cfg.MqttConfiguration.RootTopic = defaultRootTopic
	}
	if cfg.SerialConfiguration.BaudRate == 0 {
		cfg.SerialConfiguration.BaudRate = defaultBaudRate
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStoragePath
	}
	if cfg.Actuation.AttemptTimeoutMs == 0 {
		cfg.Actuation.AttemptTimeoutMs = defaultAttemptTimeoutMs
	}
	if cfg.Actuation.SettleDelayMs == 0 {
		cfg.Actuation.SettleDelayMs = defaultSettleDelayMs
	}
	if cfg.Enrollment.Tier1TimeoutMs == 0 {
		cfg.Enrollment.Tier1TimeoutMs = defaultTier1TimeoutMs
	}
	if cfg.Enrollment.Tier2TimeoutMs == 0 {
		cfg.Enrollment.Tier2TimeoutMs = defaultTier2TimeoutMs
	}
	if cfg.Enrollment.Tier3TimeoutMs == 0 {
		cfg.Enrollment.Tier3TimeoutMs = defaultTier3TimeoutMs
	}
	if cfg.Enrollment.PollIntervalMs == 0 {
		cfg.Enrollment.PollIntervalMs = defaultPollIntervalMs
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaultJournalPath
	}
}

func (s *configurationService) GetConfiguration() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.configuration
}

func (s *configurationService) Update(updatedConfig Configuration) error {
	buf, err := yaml.Marshal(updatedConfig)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.filename, buf, 0644); err != nil {
		return err
	}

	s.configuration = updatedConfig

	return nil
}
