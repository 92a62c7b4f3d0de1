package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/supby/tuyazigbee/internal/actuation"
	"github.com/supby/tuyazigbee/internal/capability"
	"github.com/supby/tuyazigbee/internal/configuration"
	"github.com/supby/tuyazigbee/internal/db"
	"github.com/supby/tuyazigbee/internal/enrollment"
	"github.com/supby/tuyazigbee/internal/journal"
	"github.com/supby/tuyazigbee/internal/logger"
	"github.com/supby/tuyazigbee/internal/mapping"
	"github.com/supby/tuyazigbee/internal/mqtt"
	"github.com/supby/tuyazigbee/internal/router"
	"github.com/supby/tuyazigbee/internal/session"
	"github.com/supby/tuyazigbee/internal/types"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var configFile = flag.String("c", "./configuration.yaml", "path to config file name")
	flag.Parse()

	configService, err := configuration.Init(*configFile)
	if err != nil {
		logger.GetLogger("[main]", logger.LogLevelError).Error("Configuration initialization error: %v", err)
		os.Exit(1)
	}

	cfg := configService.GetConfiguration()
	logger := logger.GetLogger("[main]", cfg.LogLevel)

	db1, err := db.NewDeviceDB(cfg.Storage.Path)
	if err != nil {
		logger.Error("db initialization error: %v", err)
		os.Exit(1)
	}
	defer db1.Close(ctx)

	var catalogs []mapping.Catalog
	if cfg.Catalog.Path != "" {
		catalog, err := mapping.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			logger.Error("catalog error: %v", err)
			os.Exit(1)
		}
		catalogs = append(catalogs, catalog)
	}

	registry, warnings, err := mapping.NewRegistry(catalogs...)
	if err != nil {
		logger.Error("catalog error: %v", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		logger.Warn("catalog: %v", w)
	}

	var history capability.History
	if cfg.InfluxDB.Enabled {
		influx, err := capability.ConnectInflux(cfg.InfluxDB, cfg.LogLevel)
		if err != nil {
			logger.Error("influxdb initialization error: %v", err)
			os.Exit(1)
		}
		defer influx.Close()
		history = influx
	}

	var reportJournal session.Journal
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			logger.Error("journal initialization error: %v", err)
			os.Exit(1)
		}
		defer j.Close()
		reportJournal = j
	}

	mqttClient, mqttDisconnect, err := mqtt.NewClient(cfg.MqttConfiguration, cfg.LogLevel)
	if err != nil {
		logger.Error("mqtt initialization error: %v", err)
		os.Exit(1)
	}
	defer mqttDisconnect()

	mqttRouter := router.NewMQTTRouter(mqttClient, cfg.LogLevel)
	zRouter := router.NewZigbeeRouter(router.ZigbeeOptions{
		Configuration: configService,
		Database:      db1,
		Catalog:       registry,
		Session: session.Config{
			Registry: registry,
			Executor: actuation.NewExecutor(actuation.Options{
				AttemptTimeout: milliseconds(cfg.Actuation.AttemptTimeoutMs),
				SettleDelay:    milliseconds(cfg.Actuation.SettleDelayMs),
				Logger:         logger,
			}),
			Enrollment: session.EnrollmentConfig{
				ZoneID: cfg.Enrollment.ZoneID,
				Timeouts: map[enrollment.State]time.Duration{
					enrollment.Tier1: milliseconds(cfg.Enrollment.Tier1TimeoutMs),
					enrollment.Tier2: milliseconds(cfg.Enrollment.Tier2TimeoutMs),
					enrollment.Tier3: milliseconds(cfg.Enrollment.Tier3TimeoutMs),
				},
				PollInterval: milliseconds(cfg.Enrollment.PollIntervalMs),
			},
			LogLevel: cfg.LogLevel,
		},
		Capabilities: capability.NewStore(mqttClient, history, cfg.LogLevel),
		Journal:      reportJournal,
	})
	defer zRouter.Stop()

	setupSubscriptions(ctx, mqttRouter, zRouter, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return zRouter.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		waitForInterruptSignal(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("%v", err)
	}
	mqttRouter.Wait()

	logger.Info("exiting app...")
}

func setupSubscriptions(ctx context.Context, mqttRouter router.MQTTRouter, zRouter router.ZigbeeRouter, logger logger.Logger) {
	mqttRouter.SubscribeOnSetMessage(func(devCmd types.DeviceSetMessage) {
		result, err := zRouter.Sessions().SetCapability(ctx, devCmd.IEEEAddress, devCmd.Capability, devCmd.Value)
		if err == nil {
			logger.Debug("0x%016x %v set through %v", devCmd.IEEEAddress, devCmd.Capability, result.Winner)
			return
		}

		errMsg := mqtt.CapabilityErrorMessage{
			Capability: devCmd.Capability,
			Error:      err.Error(),
		}

		var exhausted *actuation.ExhaustedError
		if errors.As(err, &exhausted) {
			errMsg.Attempted = exhausted.Attempted
		}

		mqttRouter.PublishCapabilityError(devCmd.IEEEAddress, errMsg)
	})
	mqttRouter.SubscribeOnCalibrateMessage(func(devCmd types.DeviceCalibrateMessage) {
		if err := zRouter.Sessions().SetCalibration(devCmd.IEEEAddress, devCmd.Capability, devCmd.Offset); err != nil {
			mqttRouter.PublishCapabilityError(devCmd.IEEEAddress, mqtt.CapabilityErrorMessage{
				Capability: devCmd.Capability,
				Error:      err.Error(),
			})
		}
	})
	mqttRouter.SubscribeOnRemoveMessage(func(devCmd types.DeviceRemoveMessage) {
		zRouter.ProccessRemoveMessage(ctx, devCmd)
	})
	mqttRouter.SubscribeOnSetDeviceConfigMessage(func(devCmd types.DeviceConfigSetMessage) {
		zRouter.ProccessSetDeviceConfigMessage(ctx, devCmd)
	})
	zRouter.SubscribeOnDeviceDescription(func(devMsg mqtt.DeviceDescriptionMessage) {
		mqttRouter.PublishDeviceDescription(devMsg)
	})
}

func milliseconds(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func waitForInterruptSignal(ctx context.Context) {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigchan)
	}()

	select {
	case <-sigchan:
	case <-ctx.Done():
	}
}
