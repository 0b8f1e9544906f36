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
		Name:    string(app.Recorder),
		Usage:   "GPIO signal time recorder",
		Version: app.VERSION,
		Description: "Wait for rising edges on the input gpio line and record the monotonic time of" +
			"\n each edge into the shared memory slot, where the local gsync process picks it up" +
			"\n as its peer's last reported wakeup.",
		UsageText: "gtimer --line <LINE> --key <KEY>" +
			"\n\nEXAMPLE:" +
			"\n\twatch line 27 of gpiochip0 and report edges over shm key 52" +
			"\n\t\tgtimer --line 27 --key 52",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Destination: &cfg.Flag.ConfigFile, Usage: "load configuration from `FILE`"},
			&cli.StringFlag{Name: "log", Aliases: []string{"l"}, Destination: &cfg.Flag.LogLevel, Usage: "`LEVEL` defines the log level (fatal|info|warning|error|debug|trace)"},
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Destination: &cfg.Flag.Backend, Usage: "gpio `BACKEND` (chardev|sysfs|memmap)"},
			&cli.StringFlag{Name: "chip", Destination: &cfg.Flag.Chip, Usage: "gpio chip `NAME` for the chardev backend"},
			&cli.IntFlag{Name: "line", Destination: &cfg.Flag.Line, Usage: "input gpio `LINE` watched for edges"},
			&cli.IntFlag{Name: "key", Destination: &cfg.Flag.ShmKey, Usage: "shared memory `KEY` of the peer timestamp slot"},
		},
		Action: func(ctx *cli.Context) error {
			if err := cfg.LoadConfig(); err != nil {
				return err
			}

			debug.SetDebug(cfg.Log.File, cfg.Log.Flag)

			a, err := app.New(cfg, app.Recorder)
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
