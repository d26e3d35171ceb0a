package adapter

import (
	"context"
	"io"
	"time"
)

// Port is a serial line with modem control. Read returns 0 bytes and no error
// when nothing arrived within the port's read timeout.
type Port interface {
	io.ReadWriteCloser
	SetDTR(on bool) error
	SetRTS(on bool) error
	// Flush drops any unread input.
	Flush() error
	Baud() int
}

// Resetter puts the chip into its serial download mode.
type Resetter interface {
	Reset(ctx context.Context, port Port) error
}

// ClassicReset drives EN through RTS and GPIO9/IO0 through DTR, the wiring of
// most development boards.
type ClassicReset struct {
	Delay time.Duration
}

func (r ClassicReset) Reset(ctx context.Context, port Port) error {
	delay := r.Delay
	if delay == 0 {
		delay = 50 * time.Millisecond
	}
	// boot pin high, chip in reset
	if err := port.SetDTR(false); err != nil {
		return err
	}
	if err := port.SetRTS(true); err != nil {
		return err
	}
	if err := sleep(ctx, 100*time.Millisecond); err != nil {
		return err
	}
	// boot pin low, chip out of reset
	if err := port.SetDTR(true); err != nil {
		return err
	}
	if err := port.SetRTS(false); err != nil {
		return err
	}
	if err := sleep(ctx, delay); err != nil {
		return err
	}
	return port.SetDTR(false)
}

// NoReset leaves the chip alone, for boards already in download mode.
type NoReset struct{}

func (NoReset) Reset(ctx context.Context, port Port) error { return nil }

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
