package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/efuse"
	"github.com/mklimuk/efuse/cmd/espefuse/console"
	"github.com/mklimuk/efuse/esp32c2"
)

var summaryCmd = cli.Command{
	Name:  "summary",
	Usage: "print every efuse field with its decoded value",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "format",
			Value: "text",
			Usage: "output format: text or yaml",
		},
		&cli.StringFlag{
			Name:  "file",
			Usage: "write the summary to a file instead of stdout",
		},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		w := console.Writer()
		if path := c.String("file"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return console.Exit(console.ExitError, "could not create %s: %s", path, console.Red(err))
			}
			defer func() { _ = f.Close() }()
			console.NoColor(true)
			w = f
		}
		var err error
		switch c.String("format") {
		case "yaml":
			err = writeYAMLSummary(w, s.Summary())
		case "text":
			err = writeTextSummary(w, s.Efuses)
		default:
			return console.Exit(console.ExitError, "unknown format %q", c.String("format"))
		}
		if err != nil {
			return console.Exit(console.ExitError, "could not write summary: %s", console.Red(err))
		}
		return nil
	}),
}

func writeYAMLSummary(w io.Writer, fields []esp32c2.FieldSummary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(fields); err != nil {
		return err
	}
	return enc.Close()
}

func writeTextSummary(w io.Writer, e *esp32c2.Efuses) error {
	var categories []string
	byCategory := map[string][]*efuse.Field{}
	for _, f := range e.Fields() {
		if _, ok := byCategory[f.Category]; !ok {
			categories = append(categories, f.Category)
		}
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}
	for _, category := range categories {
		if _, err := fmt.Fprintf(w, "%s fuses:\n", console.Bold(title(category))); err != nil {
			return err
		}
		for _, f := range byCategory[category] {
			access := "R/W"
			if f.WriteProtected() {
				access = "R/-"
			}
			if _, err := fmt.Fprintf(w, "%-50s %s = %s %s\n", console.Cyan(e.Info(f)), f.Description, console.White(f.String()), access); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func title(s string) string {
	if s == "" {
		return "Other"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
