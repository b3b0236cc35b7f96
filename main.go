package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/llehouerou/remotehub/internal/ble"
	"github.com/llehouerou/remotehub/internal/config"
	"github.com/llehouerou/remotehub/internal/dispatch"
	"github.com/llehouerou/remotehub/internal/ha"
	"github.com/llehouerou/remotehub/internal/health"
	"github.com/llehouerou/remotehub/internal/input"
	"github.com/llehouerou/remotehub/internal/keymap"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Debug)
	slog.SetDefault(logger)

	token, err := cfg.LoadToken()
	if err != nil {
		logger.Error("cannot start without an access token", "error", err)
		return 1
	}

	km, err := keymap.Load(cfg.KeymapPath)
	if err != nil {
		logger.Error("keymap rejected", "error", err)
		return 1
	}
	logger.Info("keymap loaded",
		"activities", km.ActivityCount(), "scancodes", km.ScancodeCount())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := input.NewQueue(cfg.USB.QueueSize)

	transport := ble.NewTransport(ble.TransportConfig{
		Adapter:    cfg.BLE.Adapter,
		DeviceName: cfg.BLE.DeviceName,
		Logger:     logger,
	})
	hid := ble.NewClient(transport, logger)

	// The dispatcher and the bus client reference each other; the bus
	// callbacks only fire once Run starts, after both exist.
	var dispatcher *dispatch.Dispatcher

	bus := ha.NewClient(ha.ClientConfig{
		URL:            cfg.HA.URL,
		Token:          token,
		ActivityEntity: cfg.HA.ActivityEntity,
		EventName:      cfg.HA.CommandEvent,
		OnActivity:     func(activity string) { dispatcher.OnActivity(activity) },
		OnCommand:      makeCommandHandler(ctx, hid, logger),
		Logger:         logger,
	})

	dispatcher = dispatch.New(dispatch.Config{
		Keymap:        km,
		Sender:        bus,
		BLE:           hid,
		Queue:         queue,
		RepeatInitial: time.Duration(cfg.Repeat.InitialMs) * time.Millisecond,
		RepeatRate:    time.Duration(cfg.Repeat.RateMs) * time.Millisecond,
		Logger:        logger,
	})

	reader := input.NewReader(input.ReaderConfig{
		DevicePath:   cfg.USB.DevicePath,
		Scancodes:    km.Scancodes(),
		Queue:        queue,
		Grab:         cfg.USB.Grab,
		OnDeviceLoss: dispatcher.OnDeviceLoss,
		Logger:       logger,
		DebugInput:   cfg.USB.DebugInput,
		DebugUnknown: cfg.USB.DebugUnknown,
	})

	monitor := health.New(health.Config{
		Addr:   cfg.Health.Addr,
		WS:     bus,
		BLE:    hid,
		Reader: reader,
		Queue:  queue,
		Logger: logger,
	})

	logger.Info("starting",
		"ws", cfg.HA.URL,
		"event", cfg.HA.CommandEvent,
		"activity_entity", cfg.HA.ActivityEntity)

	if err := transport.Start(); err != nil {
		logger.Warn("ble unavailable; continuing without hid", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		bus.Run(ctx)
		if ctx.Err() == nil {
			logger.Error("event bus loop exited unexpectedly")
			stop()
		}
	}()
	go func() { defer wg.Done(); dispatcher.Run(ctx) }()
	go func() { defer wg.Done(); reader.Run(ctx) }()

	monitor.Start()

	<-ctx.Done()
	logger.Info("shutting down")
	stop()

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	monitor.Stop(shutdownCtx)

	hid.ReleaseAll()
	transport.Stop()
	return 0
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
