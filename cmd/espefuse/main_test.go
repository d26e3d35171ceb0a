package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/efuse/cmd/espefuse/console"
	"github.com/mklimuk/efuse/esp32c2"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	console.SetOutput(&out, &out)
	t.Cleanup(func() { console.SetOutput(os.Stdout, os.Stderr) })
	return &out
}

func TestCLI_CustomMAC(t *testing.T) {
	out := captureOutput(t)
	state := filepath.Join(t.TempDir(), "chip.yaml")

	code := run([]string{"espefuse", "--virt-file", state, "--do-not-confirm", "burn-custom-mac", "AA:CD:EF:01:02:03"})
	require.Equal(t, 0, code, out.String())
	require.FileExists(t, state)

	out.Reset()
	code = run([]string{"espefuse", "--virt-file", state, "get-custom-mac"})
	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "Custom MAC Address: aa:cd:ef:01:02:03 (OK)")
}

func TestCLI_Errors(t *testing.T) {
	out := captureOutput(t)

	code := run([]string{"espefuse", "--virt", "--do-not-confirm", "burn-custom-mac", "01:00:00:00:00:00"})
	assert.Equal(t, console.ExitError, code)
	assert.Contains(t, out.String(), "invalid custom MAC")

	code = run([]string{"espefuse", "--virt", "--do-not-confirm", "burn-efuse", "WDT_DELAY_SEL"})
	assert.Equal(t, console.ExitError, code)

	code = run([]string{"espefuse", "--virt", "--do-not-confirm", "burn-efuse", "NO_SUCH_FIELD", "1"})
	assert.Equal(t, console.ExitError, code)

	out.Reset()
	code = run([]string{"espefuse", "--virt", "burn-key", "BLOCK_KEY0"})
	assert.Equal(t, console.ExitError, code)
	assert.Contains(t, out.String(), "digests: SECURE_BOOT_DIGEST")
}

func TestCLI_CheckError(t *testing.T) {
	out := captureOutput(t)

	code := run([]string{"espefuse", "--virt", "check-error"})
	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "No errors detected")
}

func TestCLI_SummaryYAML(t *testing.T) {
	out := captureOutput(t)
	dir := t.TempDir()
	state := filepath.Join(dir, "chip.yaml")
	summary := filepath.Join(dir, "summary.yaml")

	code := run([]string{"espefuse", "--virt-file", state, "--do-not-confirm", "burn-efuse", "WDT_DELAY_SEL", "2", "DIS_PAD_JTAG", "true"})
	require.Equal(t, 0, code, out.String())

	code = run([]string{"espefuse", "--virt-file", state, "summary", "--format", "yaml", "--file", summary})
	require.Equal(t, 0, code, out.String())

	raw, err := os.ReadFile(summary)
	require.NoError(t, err)
	var fields []esp32c2.FieldSummary
	require.NoError(t, yaml.Unmarshal(raw, &fields))
	values := map[string]string{}
	for _, f := range fields {
		values[f.Name] = f.Value
	}
	assert.Equal(t, "2", values["WDT_DELAY_SEL"])
	assert.Equal(t, "true", values["DIS_PAD_JTAG"])
	assert.NotContains(t, values, "TEMP_CALIB")
}

func TestCLI_Dump(t *testing.T) {
	out := captureOutput(t)

	code := run([]string{"espefuse", "--virt", "dump"})
	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "BLOCK_KEY0")
	assert.Contains(t, out.String(), "EFUSE_RD_RS_ERR_REG")
}
