package main

import (
	"os"
	"os/signal"
	"sort"
	"syscall"

	"gsync/pkg/app"
	"gsync/pkg/app/config"

	"github.com/urfave/cli/v2"
	"github.com/womat/debug"
)

func main() {
	exitCode := 1
	defer func() {
		os.Exit(exitCode)
	}()

	// cfg holds the process configuration
	cfg := config.NewConfig()

	cliApp := &cli.App{
		Name:    string(app.Oscillator),
		Usage:   "GPIO based synchronizer (oscillator role)",
		Version: app.VERSION,
		Description: "Run a fixed-frequency task loop whose wakeups stay phase locked with a peer device." +
			"\n Each wakeup is signalled to the peer as a pulse on the output gpio line; the peer's" +
			"\n wakeups, recorded into the shared memory slot by the local gtimer process, feed the" +
			"\n Kuramoto model that computes the next wakeup time.",
		UsageText: "gsync --line <LINE> --key <KEY> [--frequency <HZ>] [--coupling-const <K>]" +
			"\n\nEXAMPLE:" +
			"\n\tpulse line 17 of gpiochip0 at 100Hz, exchanging timestamps over shm key 52" +
			"\n\t\tgsync --line 17 --key 52",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Destination: &cfg.Flag.ConfigFile, Usage: "load configuration from `FILE`"},
			&cli.StringFlag{Name: "log", Aliases: []string{"l"}, Destination: &cfg.Flag.LogLevel, Usage: "`LEVEL` defines the log level (fatal|info|warning|error|debug|trace)"},
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Destination: &cfg.Flag.Backend, Usage: "gpio `BACKEND` (chardev|sysfs|memmap)"},
			&cli.StringFlag{Name: "chip", Destination: &cfg.Flag.Chip, Usage: "gpio chip `NAME` for the chardev backend"},
			&cli.IntFlag{Name: "line", Destination: &cfg.Flag.Line, Usage: "output gpio `LINE` the wakeup pulse is sent on"},
			&cli.IntFlag{Name: "key", Destination: &cfg.Flag.ShmKey, Usage: "shared memory `KEY` of the peer timestamp slot"},
			&cli.IntFlag{Name: "frequency", Aliases: []string{"f"}, Destination: &cfg.Flag.Frequency, Usage: "sync task `FREQUENCY` in Hz"},
			&cli.Float64Flag{Name: "coupling-const", Aliases: []string{"k"}, Destination: &cfg.Flag.Coupling, Usage: "Kuramoto coupling `CONSTANT`"},
		},
		Action: func(ctx *cli.Context) error {
			if err := cfg.LoadConfig(); err != nil {
				return err
			}

			debug.SetDebug(cfg.Log.File, cfg.Log.Flag)

			a, err := app.New(cfg, app.Oscillator)
			if err != nil {
				return err
			}
			defer func() {
				debug.InfoLog.Printf("closing app %s", app.Version())
				_ = a.Close()
			}()

			debug.InfoLog.Printf("starting app %s", app.Version())
			if err = a.Run(); err != nil {
				return err
			}

			// capture exit signals to ensure resources are released on exit.
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case sig := <-quit:
				debug.InfoLog.Printf("got %s signal, exiting", sig)
				a.Stop()
				<-a.Done()
			case <-a.Done():
				// the loop ended on its own, with or without error
			}

			return a.Err()
		},
	}

	// we expect to have more command line flags in the future - sort them
	sort.Sort(cli.FlagsByName(cliApp.Flags))
	sort.Sort(cli.CommandsByName(cliApp.Commands))

	if err := cliApp.Run(os.Args); err != nil {
		debug.FatalLog.Print(err)
		exitCode = 1
		return
	}

	exitCode = 0
}
