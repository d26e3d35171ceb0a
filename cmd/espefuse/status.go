package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/efuse/cmd/espefuse/console"
)

var dumpCmd = cli.Command{
	Name:  "dump",
	Usage: "print the raw words of every block",
	Action: withSession(func(c *cli.Context, s *session) error {
		for _, b := range s.Blocks() {
			words := make([]string, 0, b.Words)
			for _, w := range b.ReadWords() {
				words = append(words, fmt.Sprintf("%08x", w))
			}
			console.Printf("%-15s (%-16s) [%-2d] read_regs: %s\n", b.Name, strings.Join(b.Aliases, " "), b.ID, strings.Join(words, " "))
		}
		if err := s.DumpStatus(c.Context, console.Writer()); err != nil {
			return console.ExitErr("could not dump status", err)
		}
		return nil
	}),
}

var checkErrorCmd = cli.Command{
	Name:  "check-error",
	Usage: "report coding errors in every block",
	Action: withSession(func(c *cli.Context, s *session) error {
		failed, err := s.CheckErrors(c.Context, false)
		if err != nil {
			return console.ExitErr("could not check errors", err)
		}
		for _, b := range s.Blocks() {
			n, fail := b.Errors()
			if n == 0 && !fail {
				continue
			}
			console.Warnf("%s: %d error(s), fail %t", b.Name, n, fail)
		}
		if failed {
			return console.Exit(console.ExitError, "%s", console.Red("efuse blocks contain uncorrectable errors"))
		}
		console.PInfof(console.PictoFinish, "%s", console.Green("No errors detected"))
		return nil
	}),
}
