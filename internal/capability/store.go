// Package capability holds the live capability values of every device and
// pushes each change to MQTT and, optionally, to a history sink.
package capability

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/supby/tuyazigbee/internal/logger"
)

type Publisher interface {
	PublishRetained(subTopic string, data []byte)
}

// History receives every accepted value, e.g. a time series database.
type History interface {
	Record(ieeeAddress uint64, capability string, value interface{})
}

type Store interface {
	SetCapabilityValue(ieeeAddress uint64, capability string, value interface{}) error
	GetCapabilityValue(ieeeAddress uint64, capability string) (interface{}, bool)
	// Republish sends the current value again without changing it.
	Republish(ieeeAddress uint64, capability string)
	Forget(ieeeAddress uint64)
}

func Topic(ieeeAddress uint64, capability string) string {
	return fmt.Sprintf("0x%016x/%v", ieeeAddress, capability)
}

type memoryStore struct {
	mu        sync.RWMutex
	values    map[uint64]map[string]interface{}
	publisher Publisher
	history   History
	logger    logger.Logger
}

// NewStore returns a Store publishing through publisher. history may be nil.
func NewStore(publisher Publisher, history History, logLevel int) Store {
	return &memoryStore{
		values:    make(map[uint64]map[string]interface{}),
		publisher: publisher,
		history:   history,
		logger:    logger.GetLogger("[Capabilities]", logLevel),
	}
}

func (s *memoryStore) SetCapabilityValue(ieeeAddress uint64, capability string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("capability %v: %w", capability, err)
	}

	s.mu.Lock()
	device, ok := s.values[ieeeAddress]
	if !ok {
		device = make(map[string]interface{})
		s.values[ieeeAddress] = device
	}
	device[capability] = value
	s.mu.Unlock()

	s.logger.Debug("0x%016x %v=%s", ieeeAddress, capability, data)

	if s.publisher != nil {
		s.publisher.PublishRetained(Topic(ieeeAddress, capability), data)
	}
	if s.history != nil {
		s.history.Record(ieeeAddress, capability, value)
	}

	return nil
}

func (s *memoryStore) GetCapabilityValue(ieeeAddress uint64, capability string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[ieeeAddress][capability]
	return v, ok
}

func (s *memoryStore) Republish(ieeeAddress uint64, capability string) {
	v, ok := s.GetCapabilityValue(ieeeAddress, capability)
	if !ok || s.publisher == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("republish %v: %v", capability, err)
		return
	}

	s.publisher.PublishRetained(Topic(ieeeAddress, capability), data)
}

func (s *memoryStore) Forget(ieeeAddress uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, ieeeAddress)
}
