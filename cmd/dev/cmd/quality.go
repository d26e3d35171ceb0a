package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Test()
			if err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func LintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Lint()
			if err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
	return cmd
}

// smokeSteps burn and read back fuses on a virtual chip persisted between runs.
var smokeSteps = [][]string{
	{"burn-custom-mac", "AA:CD:EF:01:02:03"},
	{"get-custom-mac"},
	{"burn-efuse", "WDT_DELAY_SEL", "1"},
	{"check-error"},
	{"summary"},
	{"dump"},
}

func SmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run the built espefuse binary against a virtual chip",
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := cmd.Flags().GetString("binary")
			if err != nil {
				return fmt.Errorf("could not get binary flag: %w", err)
			}
			dir, err := os.MkdirTemp("", "espefuse-smoke")
			if err != nil {
				return fmt.Errorf("could not create work dir: %w", err)
			}
			defer func() { _ = os.RemoveAll(dir) }()
			state := filepath.Join(dir, "chip.yaml")

			for _, step := range smokeSteps {
				slog.Info("running step", "args", step)
				run := exec.CommandContext(cmd.Context(), bin, append([]string{"--virt-file", state, "--do-not-confirm"}, step...)...)
				run.Stdout = os.Stdout
				run.Stderr = os.Stderr
				if err := run.Run(); err != nil {
					return fmt.Errorf("step %v failed: %w", step, err)
				}
			}
			slog.Info("smoke test passed", "steps", len(smokeSteps))
			return nil
		},
	}
	cmd.Flags().String("binary", Binary, "espefuse binary to run")
	return cmd
}
