package adapter

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// StrapReset drives the EN and boot strapping pins from host GPIOs, for chips
// wired directly to a single board computer.
type StrapReset struct {
	EN   gpio.PinIO
	Boot gpio.PinIO
}

// NewStrapReset looks up the pins by name, for example "GPIO17".
func NewStrapReset(en, boot string) (*StrapReset, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not initialize host: %w", err)
	}
	enPin := gpioreg.ByName(en)
	if enPin == nil {
		return nil, fmt.Errorf("unknown pin %q", en)
	}
	bootPin := gpioreg.ByName(boot)
	if bootPin == nil {
		return nil, fmt.Errorf("unknown pin %q", boot)
	}
	return &StrapReset{EN: enPin, Boot: bootPin}, nil
}

func (s *StrapReset) Reset(ctx context.Context, port Port) error {
	if err := s.Boot.Out(gpio.Low); err != nil {
		return fmt.Errorf("could not pull boot pin: %w", err)
	}
	if err := s.EN.Out(gpio.Low); err != nil {
		return fmt.Errorf("could not pull enable pin: %w", err)
	}
	if err := sleep(ctx, 100*time.Millisecond); err != nil {
		return err
	}
	if err := s.EN.Out(gpio.High); err != nil {
		return fmt.Errorf("could not release enable pin: %w", err)
	}
	if err := sleep(ctx, 50*time.Millisecond); err != nil {
		return err
	}
	return s.Boot.Out(gpio.High)
}
