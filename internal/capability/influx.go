package capability

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/supby/tuyazigbee/internal/configuration"
	"github.com/supby/tuyazigbee/internal/logger"
)

const (
	measurement    = "capability"
	connectTimeout = 10 * time.Second
)

// InfluxHistory mirrors numeric and boolean capability values to InfluxDB.
// Writes are batched and never block the caller.
type InfluxHistory struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   logger.Logger
}

func ConnectInflux(cfg configuration.InfluxDBConfiguration, logLevel int) (*InfluxHistory, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(50).SetFlushInterval(5000))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb at %v is not healthy", cfg.URL)
	}

	h := &InfluxHistory{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger.GetLogger("[InfluxDB]", logLevel),
	}

	go func(errs <-chan error) {
		for err := range errs {
			h.logger.Warn("write failed: %v", err)
		}
	}(h.writeAPI.Errors())

	return h, nil
}

func (h *InfluxHistory) Record(ieeeAddress uint64, capability string, value interface{}) {
	p, ok := point(ieeeAddress, capability, value, time.Now())
	if !ok {
		return
	}

	h.writeAPI.WritePoint(p)
}

func (h *InfluxHistory) Close() {
	h.writeAPI.Flush()
	h.client.Close()
}

func point(ieeeAddress uint64, capability string, value interface{}, at time.Time) (*write.Point, bool) {
	var field interface{}
	switch v := value.(type) {
	case bool:
		field = v
	case float64:
		field = v
	case int64:
		field = float64(v)
	case uint8:
		field = float64(v)
	default:
		return nil, false
	}

	return write.NewPoint(
		measurement,
		map[string]string{
			"device":     fmt.Sprintf("0x%016x", ieeeAddress),
			"capability": capability,
		},
		map[string]interface{}{"value": field},
		at,
	), true
}
