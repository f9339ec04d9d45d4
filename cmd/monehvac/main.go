package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Agrid-Dev/monehvac/cmd/app"
	"github.com/Agrid-Dev/monehvac/internal/climate"
	httpctrl "github.com/Agrid-Dev/monehvac/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/monehvac/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/monehvac/internal/controllers/mqtt"
	"github.com/Agrid-Dev/monehvac/internal/device"
	"github.com/Agrid-Dev/monehvac/internal/logging"
	"github.com/Agrid-Dev/monehvac/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "monehvac:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		printConfig bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json/.toml)")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if printConfig {
		return yaml.NewEncoder(os.Stdout).Encode(cfg.Redacted())
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	opts, err := cfg.ClimateOptions(logger.With("component", "climate"))
	if err != nil {
		return fmt.Errorf("climate config: %w", err)
	}
	c, err := climate.New(opts)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dev := device.New(cfg.DeviceID, cfg.Name, c, st, logger)
	defer dev.Close()
	if err := dev.Restore(ctx); err != nil {
		logger.Warn("restore failed, starting from defaults", "err", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Controllers.HTTP.Enabled {
		srv := httpctrl.New(dev, cfg.Controllers.HTTP.Addr, cfg.DeviceID, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.Controllers.MQTT.Enabled {
		mc := cfg.MQTTConfig()
		mc.Logger = logger
		ctrl, err := mqttctrl.New(dev, mc)
		if err != nil {
			return err
		}
		g.Go(func() error { return ctrl.Run(gctx) })
	}

	if cfg.Controllers.MODBUS.Enabled {
		ctrl, err := modbusctrl.New(dev, modbusctrl.Config{
			DeviceID: cfg.DeviceID,
			Addr:     cfg.Controllers.MODBUS.Addr,
			UnitID:   cfg.Controllers.MODBUS.UnitID,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return ctrl.Run(gctx) })
	}

	logger.Info("monehvac started", "device_id", cfg.DeviceID, "state", c.Get().JSON)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("monehvac stopped")
	return nil
}
