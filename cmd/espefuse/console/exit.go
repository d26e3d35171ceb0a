package console

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/efuse"
)

const (
	ExitError   = 1
	ExitFatal   = 2
	ExitAborted = 3
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// ExitErr maps a session error to an exit code: aborted burns, fatal device
// states and everything else.
func ExitErr(msg string, err error) cli.ExitCoder {
	code := ExitError
	switch {
	case errors.Is(err, efuse.ErrAborted):
		code = ExitAborted
	case efuse.IsFatal(err):
		code = ExitFatal
	}
	return Exit(code, "%s: %s", msg, Red(err))
}
