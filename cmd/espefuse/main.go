package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/efuse/cmd/espefuse/console"
)

var version string
var commit string
var date string

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	err := newApp().Run(args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			return exerr.ExitCode()
		}
		return console.ExitError
	}
	return 0
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "espefuse"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "read and burn ESP32-C2 efuses"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Value:   "/dev/ttyUSB0",
			EnvVars: []string{"ESPEFUSE_PORT"},
			Usage:   "serial port of the chip",
		},
		&cli.IntFlag{
			Name:    "baud",
			Aliases: []string{"b"},
			Value:   115200,
			EnvVars: []string{"ESPEFUSE_BAUD"},
			Usage:   "serial port baud rate",
		},
		&cli.BoolFlag{
			Name:  "virt",
			Usage: "use a virtual chip instead of a serial port",
		},
		&cli.StringFlag{
			Name:  "virt-file",
			Usage: "load and persist the virtual chip state in a file, implies --virt",
		},
		&cli.BoolFlag{
			Name:  "no-reset",
			Usage: "do not reset the chip before connecting",
		},
		&cli.StringFlag{
			Name:  "en-gpio",
			Usage: "host GPIO wired to the chip EN pin, enables strap reset",
		},
		&cli.StringFlag{
			Name:  "boot-gpio",
			Value: "GPIO27",
			Usage: "host GPIO wired to the chip boot strapping pin",
		},
		&cli.BoolFlag{
			Name:  "do-not-confirm",
			Usage: "burn without asking for confirmation",
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "enable debug logging and status dumps",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "dump every serial frame",
		},
	}
	// errors are reported here and turned into exit codes by run
	app.ExitErrHandler = func(_ *cli.Context, err error) {
		if err != nil {
			console.Error(err.Error())
		}
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("debug") || ctx.Bool("trace") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		&summaryCmd,
		&dumpCmd,
		&checkErrorCmd,
		&getCustomMACCmd,
		&burnCustomMACCmd,
		&burnEfuseCmd,
		&burnBlockDataCmd,
		&burnKeyCmd,
	}
	return app
}
