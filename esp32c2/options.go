package esp32c2

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// ConfirmFunc asks the operator to approve a burn. Returning false aborts it.
type ConfirmFunc func(ctx context.Context, summary string) (bool, error)

type Options struct {
	// Timeout bounds every idle wait of the controller.
	Timeout time.Duration
	// PollInterval is the pause between two status register reads.
	PollInterval time.Duration
	Now          func() time.Time
	Sleep        func(time.Duration)
	Logger       *slog.Logger
	// Output receives status register dumps.
	Output io.Writer

	Debug        bool
	DoNotConfirm bool
	Confirm      ConfirmFunc
	// SkipConnect builds the session without touching the device. Blocks read
	// as zero until Refresh is called.
	SkipConnect bool
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Timeout:      BurnTimeout,
		PollInterval: 0,
		Now:          time.Now,
		Sleep:        time.Sleep,
		Logger:       slog.Default(),
		Output:       os.Stderr,
	}
}

func newOptions(opts []Option) Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.PollInterval = d
	}
}

// WithClock replaces the wall clock and sleep used by idle waits.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(o *Options) {
		o.Now = now
		o.Sleep = sleep
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// WithDebug dumps the status registers after every error check.
func WithDebug(debug bool) Option {
	return func(o *Options) {
		o.Debug = debug
	}
}

func WithDoNotConfirm(v bool) Option {
	return func(o *Options) {
		o.DoNotConfirm = v
	}
}

func WithConfirm(fn ConfirmFunc) Option {
	return func(o *Options) {
		o.Confirm = fn
	}
}

func WithSkipConnect(v bool) Option {
	return func(o *Options) {
		o.SkipConnect = v
	}
}
