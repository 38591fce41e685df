// Command hostkerneld runs the host kernel: the event loop, gesture engine,
// microtask scheduler, and guest lifecycle controller, wired to a WASM
// runtime and the default platform collaborators.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/paperportal/hostkernel/affinity"
	"github.com/paperportal/hostkernel/control"
	"github.com/paperportal/hostkernel/embedapp"
	"github.com/paperportal/hostkernel/eventloop"
	"github.com/paperportal/hostkernel/gesture"
	"github.com/paperportal/hostkernel/guest"
	"github.com/paperportal/hostkernel/hostevent"
	"github.com/paperportal/hostkernel/microtask"
	"github.com/paperportal/hostkernel/platform"
	"github.com/paperportal/hostkernel/pool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.App{
		Name:  "hostkerneld",
		Usage: "event loop host kernel for the e-ink appliance guest runtime",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mount", Value: "/sdcard/portal", Usage: "external filesystem mount root for apps and overrides"},
			&cli.IntFlag{Name: "api-version", Value: int(guest.ContractVersion), Usage: "guest init() api_version argument"},
			&cli.IntFlag{Name: "cpu", Value: -1, Usage: "pin the loop goroutine's OS thread to this CPU (-1 disables pinning)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "zerolog level: debug, info, warn, error"},
		},
		Action: action,
	}
	return app.Run(os.Args)
}

func action(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("hostkerneld: %w", err)
	}
	log := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	configStore := control.NewConfigStore()
	metrics := control.NewMetricsRegistry()
	probes := control.NewDebugProbes()
	settings := control.NewSettings(configStore)
	settings.Apply(eventloop.IdleSleepTimeoutMs, 50, 20, hostevent.HTTPMaxBodyBytes)
	counters := control.NewCounters(metrics)
	control.RegisterPlatformProbes(probes)

	queue := hostevent.New()
	pending := &hostevent.Pending{}

	gestures := gesture.New(log)
	scheduler := microtask.New(log)
	controller := guest.New(ctx, log)

	bodyPool := pool.NewSimpleBytePool(4, int(settings.HTTPMaxBodyBytes()))

	cfg := eventloop.DefaultConfig()
	cfg.Mount = c.String("mount")
	cfg.AppAPIVersion = int32(c.Int("api-version"))

	loop := eventloop.New(
		log, cfg,
		queue, pending,
		gestures, scheduler, controller,
		platform.NoTouch{},
		platform.LoggingPower{Log: log},
		platform.SystemClock{},
		platform.NoHTTPServer{},
		platform.NoWifi{},
		platform.NoDevServer{Log: log},
		platform.OSFilesystem{},
		embedapp.Modules{},
		bodyPool,
		counters,
	)

	control.RegisterKernelProbes(probes,
		func() any { return loop.DebugState() },
		func() any { return gestures.DebugState() },
		func() any { return scheduler.DebugState() },
		func() any { return controller.DebugState() },
	)

	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("hostkerneld: starting launcher: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if cpu := c.Int("cpu"); cpu >= 0 {
			runtime.LockOSThread()
			if err := affinity.SetAffinity(cpu); err != nil {
				log.Warn().Err(err).Int("cpu", cpu).Msg("failed to pin loop thread, continuing unpinned")
			}
		}
		loop.Run(ctx)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	loop.Stop()
	<-done
	return nil
}
