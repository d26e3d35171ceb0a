package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/efuse/cmd/espefuse/console"
	"github.com/mklimuk/efuse/esp32c2"
)

var burnEfuseCmd = cli.Command{
	Name:      "burn-efuse",
	Usage:     "burn one or more fields by name",
	ArgsUsage: "NAME VALUE [NAME VALUE ...]",
	Action: withSession(func(c *cli.Context, s *session) error {
		args := c.Args().Slice()
		if len(args) == 0 || len(args)%2 != 0 {
			return console.Exit(console.ExitError, "expected NAME VALUE pairs")
		}
		for i := 0; i < len(args); i += 2 {
			if err := s.Save(args[i], args[i+1]); err != nil {
				s.Discard()
				return console.ExitErr(fmt.Sprintf("could not stage %s", args[i]), err)
			}
		}
		if err := s.Burn(c.Context); err != nil {
			return console.ExitErr("burn failed", err)
		}
		for i := 0; i < len(args); i += 2 {
			f, _ := s.Field(args[i])
			console.Infof("%s = %s", f.Name, f.String())
		}
		return nil
	}),
}

var burnBlockDataCmd = cli.Command{
	Name:      "burn-block-data",
	Usage:     "burn raw data from a file into a block",
	ArgsUsage: fmt.Sprintf("BLOCK FILE (BLOCK is one of %s)", strings.Join(esp32c2.BurnBlockDataNames(), ", ")),
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "offset",
			Usage: "byte offset of the data in the block",
		},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		if c.NArg() != 2 {
			return console.Exit(console.ExitError, "expected BLOCK and FILE")
		}
		data, err := os.ReadFile(c.Args().Get(1))
		if err != nil {
			return console.Exit(console.ExitError, "could not read data: %s", console.Red(err))
		}
		if err := s.StageBlockData(c.Args().First(), c.Int("offset"), data); err != nil {
			return console.ExitErr("could not stage block data", err)
		}
		if err := s.Burn(c.Context); err != nil {
			return console.ExitErr("burn failed", err)
		}
		return nil
	}),
}

var burnKeyCmd = cli.Command{
	Name:      "burn-key",
	Usage:     "burn a key or digest into a key block and set its purpose",
	ArgsUsage: fmt.Sprintf("BLOCK KEYFILE PURPOSE (BLOCK is one of %s)", strings.Join(keyBlockNames(), ", ")),
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "hex",
			Usage: "KEYFILE holds hex text instead of raw bytes",
		},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		if c.NArg() != 3 {
			return console.Exit(console.ExitError, "expected BLOCK KEYFILE PURPOSE, purpose is one of %s (digests: %s)",
				strings.Join(s.KeyPurposes().Names(), ", "), strings.Join(s.KeyPurposes().Digests(), ", "))
		}
		key, err := os.ReadFile(c.Args().Get(1))
		if err != nil {
			return console.Exit(console.ExitError, "could not read key: %s", console.Red(err))
		}
		if c.Bool("hex") {
			if key, err = hex.DecodeString(strings.TrimSpace(string(key))); err != nil {
				return console.Exit(console.ExitError, "invalid hex key: %s", console.Red(err))
			}
		}
		if err := s.StageKey(c.Args().First(), key, c.Args().Get(2)); err != nil {
			return console.ExitErr("could not stage key", err)
		}
		if err := s.Burn(c.Context); err != nil {
			return console.ExitErr("burn failed", err)
		}
		console.PInfof(console.PictoKey, "key burned into %s", c.Args().First())
		return nil
	}),
}

func keyBlockNames() []string {
	var names []string
	for _, b := range esp32c2.KeyBlocks() {
		names = append(names, b.Name)
	}
	return names
}
