package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
)

// BurnWord must be typed verbatim to confirm a burn.
const BurnWord = "BURN"

func Prompt(question string) (string, error) {
	rl, err := readline.New(question)
	if err != nil {
		return "", err
	}
	defer func() { _ = rl.Close() }()
	return rl.Readline()
}

// ConfirmBurn prints the burn summary and asks the operator to type BurnWord.
func ConfirmBurn(ctx context.Context, summary string) (bool, error) {
	Print(summary)
	PInfof(PictoFire, "%s", Yellow("This is an irreversible operation!"))
	answer, err := Prompt(fmt.Sprintf("Type '%s' (all capitals) to continue: ", BurnWord))
	if err != nil {
		if err == readline.ErrInterrupt {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(answer) == BurnWord, nil
}
