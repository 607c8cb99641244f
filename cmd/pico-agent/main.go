//go:build rp2040

// pico-agent runs the acquisition loop on an rp2040 with an ESP8266 on
// UART1 and analog inputs on ADC0..ADC2.
package main

import (
	"context"
	"log/slog"
	"machine"
	"os"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/tinyfs/littlefs"

	"sensorlink-go/bus"
	"sensorlink-go/services/backlog"
	"sensorlink-go/services/config"
	"sensorlink-go/services/esp"
	"sensorlink-go/services/poller"
	"sensorlink-go/services/ports"
	"sensorlink-go/services/sensors"
	"sensorlink-go/services/watchdog"
)

const (
	device      = "pico"
	espBaud     = 115200
	flashCap    = 256 << 10
	ramCap      = 64 << 10
	bootSettle  = 2 * time.Second
	haltBetween = 10 * time.Second
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(bootSettle)
	println("[main] boot …")
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	b := bus.NewBus(8)

	println("[main] loading board …")
	boardSvc := config.NewService("", logger)
	specs, err := boardSvc.Publish(context.WithValue(ctx, config.CtxDeviceKey, device), b.NewConnection("config"))
	if err != nil {
		halt("[main] board: " + err.Error())
	}

	println("[main] configuring uart1 for the esp8266 …")
	u := uartx.UART1
	if err := u.Configure(uartx.UARTConfig{BaudRate: espBaud, TX: machine.GP4, RX: machine.GP5}); err != nil {
		halt("[main] uart: " + err.Error())
	}
	mod := esp.New(u, esp.Config{
		Network: specs.Network,
		Remote:  specs.Remote,
		Board:   specs.TableName,
		Logger:  logger,
	})
	if err := mod.Init(ctx); err != nil {
		// Not fatal: every cycle retries the join through Connect.
		logger.Warn("esp init failed", "err", err)
	}

	println("[main] mounting flash …")
	fsys, limit := mountBacklog(logger)
	store, err := backlog.Open("/", backlog.WithFS(fsys),
		backlog.WithMaxBytes(limit),
		backlog.WithFallbackSize(ports.NewTable(specs.Ports).ActiveCount()),
		backlog.WithLogger(logger))
	if err != nil {
		halt("[main] backlog: " + err.Error())
	}
	logger.Info("backlog opened", "batches", store.Depth())

	watchdog.New(poller.DefaultInterval, func(reason string) {
		println("[watchdog]", reason, "- resetting")
		machine.CPUReset()
	}, watchdog.WithLogger(logger)).Start(ctx, b.NewConnection("watchdog"))

	ctrl := poller.New(specs, poller.Deps{
		Source:    sensors.NewADC(machine.ADC0, machine.ADC1, machine.ADC2),
		Store:     store,
		Transport: mod,
		Gate:      mod,
	}, poller.WithLogger(logger), poller.WithBus(b.NewConnection("poller")))

	println("[main] polling …")
	if err := ctrl.Run(ctx); err != nil {
		halt("[main] poller: " + err.Error())
	}
}

// mountBacklog mounts littlefs on the onboard flash, formatting it on
// first boot. If that fails the backlog lives in RAM until the next reset.
func mountBacklog(logger *slog.Logger) (backlog.FS, int64) {
	lfs := littlefs.New(machine.Flash)
	lfs.Configure(&littlefs.Config{CacheSize: 512, LookaheadSize: 512, BlockCycles: 100})
	if err := lfs.Mount(); err != nil {
		logger.Warn("flash mount failed, formatting", "err", err)
		if err := lfs.Format(); err != nil {
			logger.Error("flash format failed, backlog in RAM", "err", err)
			return backlog.Mem(), ramCap
		}
		if err := lfs.Mount(); err != nil {
			logger.Error("flash mount failed, backlog in RAM", "err", err)
			return backlog.Mem(), ramCap
		}
	}
	return backlog.Flash(lfs), flashCap
}

// halt reports a fatal boot error until the watchdog or a person resets
// the board.
func halt(msg string) {
	for {
		println(msg)
		time.Sleep(haltBetween)
	}
}
