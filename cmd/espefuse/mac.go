package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/efuse"
	"github.com/mklimuk/efuse/cmd/espefuse/console"
)

var getCustomMACCmd = cli.Command{
	Name:  "get-custom-mac",
	Usage: "print the custom MAC address",
	Action: withSession(func(c *cli.Context, s *session) error {
		f, err := s.Field(efuse.CustomMACName)
		if err != nil {
			return console.ExitErr("could not find custom MAC", err)
		}
		v, err := f.Get()
		if err != nil {
			return console.ExitErr("could not read custom MAC", err)
		}
		console.Printf("Custom MAC Address: %s\n", v)
		return nil
	}),
}

var burnCustomMACCmd = cli.Command{
	Name:      "burn-custom-mac",
	Usage:     "burn a custom MAC address into BLOCK1",
	ArgsUsage: "MAC",
	Action: withSession(func(c *cli.Context, s *session) error {
		if c.NArg() != 1 {
			return console.Exit(console.ExitError, "expected exactly one MAC address")
		}
		if err := s.Save(efuse.CustomMACName, c.Args().First()); err != nil {
			return console.ExitErr("invalid custom MAC", err)
		}
		used, err := s.Field("CUSTOM_MAC_USED")
		if err != nil {
			return console.ExitErr("could not find CUSTOM_MAC_USED", err)
		}
		if used.Raw() == 0 {
			if err := used.Save("true"); err != nil {
				return console.ExitErr("could not enable custom MAC", err)
			}
		}
		if err := s.Burn(c.Context); err != nil {
			return console.ExitErr("burn failed", err)
		}
		f, _ := s.Field(efuse.CustomMACName)
		console.Printf("Custom MAC Address: %s\n", f.String())
		return nil
	}),
}
