package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/efuse"
	"github.com/mklimuk/efuse/adapter"
	"github.com/mklimuk/efuse/cmd/espefuse/console"
	"github.com/mklimuk/efuse/esp32c2"
)

// session is an open connection to a real or virtual chip.
type session struct {
	*esp32c2.Efuses
	virt     *esp32c2.VirtualChip
	virtFile string
	closer   io.Closer
}

func withSession(action func(c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.ExitErr("could not connect", err)
		}
		err = action(c, s)
		if cerr := s.close(); cerr != nil && err == nil {
			err = console.ExitErr("could not close session", cerr)
		}
		return err
	}
}

func openSession(c *cli.Context) (*session, error) {
	ctx := c.Context
	logger := slog.Default()
	s := &session{}

	var chip efuse.Chip
	if c.Bool("virt") || c.String("virt-file") != "" {
		v, err := loadVirtual(c.String("virt-file"))
		if err != nil {
			return nil, err
		}
		s.virt = v
		s.virtFile = c.String("virt-file")
		chip = v
	} else {
		loader, err := connect(c, logger)
		if err != nil {
			return nil, err
		}
		s.closer = loader
		chip = loader
	}

	e, err := esp32c2.New(ctx, chip,
		esp32c2.WithLogger(logger),
		esp32c2.WithOutput(console.Writer()),
		esp32c2.WithDebug(c.Bool("debug")),
		esp32c2.WithDoNotConfirm(c.Bool("do-not-confirm")),
		esp32c2.WithConfirm(console.ConfirmBurn),
	)
	if err != nil {
		_ = s.close()
		return nil, err
	}
	s.Efuses = e
	return s, nil
}

func connect(c *cli.Context, logger *slog.Logger) (*adapter.Loader, error) {
	var reset adapter.Resetter = adapter.ClassicReset{}
	switch {
	case c.Bool("no-reset"):
		reset = adapter.NoReset{}
	case c.String("en-gpio") != "":
		strap, err := adapter.NewStrapReset(c.String("en-gpio"), c.String("boot-gpio"))
		if err != nil {
			return nil, err
		}
		reset = strap
	}
	port, err := adapter.OpenSerial(c.String("port"), c.Int("baud"))
	if err != nil {
		return nil, err
	}
	loader := adapter.NewLoader(port,
		adapter.WithResetter(reset),
		adapter.WithLoaderLogger(logger),
		adapter.WithTrace(c.Bool("trace")),
	)
	if err := loader.Connect(c.Context); err != nil {
		_ = port.Close()
		return nil, err
	}
	return loader, nil
}

func loadVirtual(path string) (*esp32c2.VirtualChip, error) {
	if path == "" {
		return esp32c2.NewVirtualChip(), nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("starting a fresh virtual chip", "file", path)
		return esp32c2.NewVirtualChip(), nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return esp32c2.LoadVirtualChip(f)
}

func (s *session) close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	if s.virtFile == "" {
		return nil
	}
	f, err := os.Create(s.virtFile)
	if err != nil {
		return fmt.Errorf("could not save virtual chip: %w", err)
	}
	if err := s.virt.Save(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("could not save virtual chip: %w", err)
	}
	return f.Close()
}
