package esp32c2

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/efuse"
)

func confirmAll(ctx context.Context, summary string) (bool, error) { return true, nil }

func newSession(t *testing.T, chip efuse.Chip, opts ...Option) *Efuses {
	t.Helper()
	opts = append([]Option{WithOutput(&bytes.Buffer{}), WithConfirm(confirmAll)}, opts...)
	e, err := New(context.Background(), chip, opts...)
	require.NoError(t, err)
	return e
}

func TestNew_ChipChecks(t *testing.T) {
	ctx := context.Background()

	chip := NewVirtualChip()
	chip.Name = "ESP32-C3"
	_, err := New(ctx, chip)
	var mismatch *efuse.ChipMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "ESP32-C3", mismatch.Actual)
	assert.True(t, efuse.IsFatal(err))

	chip = NewVirtualChip()
	chip.Security = SecureDownloadFlag
	_, err = New(ctx, chip)
	assert.True(t, errors.Is(err, efuse.ErrSecureDownload))

	// skip connect does not query the security flags
	e, err := New(ctx, chip, WithSkipConnect(true))
	require.NoError(t, err)
	assert.NotEmpty(t, e.Fields())
}

func TestEfuses_FieldListing(t *testing.T) {
	chip := NewVirtualChip()
	e := newSession(t, chip)

	_, err := e.Field("TEMP_CALIB")
	require.NoError(t, err, "calibration fields are always resolvable")
	for _, f := range e.Fields() {
		assert.False(t, f.Calibration, "%s listed without calibration data", f.Name)
	}
	_, err = e.Field("NOPE")
	assert.True(t, errors.Is(err, efuse.ErrUnknownField))

	// BLOCK2_VERSION = 1 lives at bits 57..59 of BLOCK2
	words := make([]uint32, 8)
	words[1] = 1 << 25
	stageRaw(t, chip, 2, words)

	e = newSession(t, chip)
	listed := false
	for _, f := range e.Fields() {
		listed = listed || f.Name == "TEMP_CALIB"
	}
	assert.True(t, listed)

	e = newSession(t, NewVirtualChip(), WithSkipConnect(true))
	listed = false
	for _, f := range e.Fields() {
		listed = listed || f.Name == "ADC1_INIT_CODE_ATTEN0"
	}
	assert.True(t, listed)
}

func TestEfuses_BurnCustomMAC(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	e := newSession(t, chip)

	require.NoError(t, e.Save("CUSTOM_MAC", "AA:CD:EF:01:02:03"))
	require.NoError(t, e.Save("CUSTOM_MAC_USED", "true"))
	require.NoError(t, e.Burn(ctx))
	assert.Empty(t, e.Pending())

	f, err := e.Field("CUSTOM_MAC")
	require.NoError(t, err)
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "aa:cd:ef:01:02:03 (OK)", v)

	used, err := e.Field("CUSTOM_MAC_USED")
	require.NoError(t, err)
	v, err = used.Get()
	require.NoError(t, err)
	assert.Equal(t, true, v)

	// a fresh session sees the burned value
	e = newSession(t, chip)
	f, err = e.Field("CUSTOM_MAC")
	require.NoError(t, err)
	v, err = f.Get()
	require.NoError(t, err)
	assert.Equal(t, "aa:cd:ef:01:02:03 (OK)", v)

	// reed-solomon blocks can only be written once
	err = e.Save("CUSTOM_MAC", "AA:CD:EF:01:02:07")
	assert.True(t, errors.Is(err, efuse.ErrRSReburn))
}

func TestEfuses_BurnOrderDescending(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	var order []int
	bus := &programSpy{VirtualChip: chip, onProgram: func(id int) { order = append(order, id) }}
	e := newSession(t, bus)

	require.NoError(t, e.Save("DIS_PAD_JTAG", "1"))
	require.NoError(t, e.StageKey("BLOCK_KEY0", bytes.Repeat([]byte{0x11}, 16), "SECURE_BOOT_DIGEST"))
	require.NoError(t, e.StageBlockData("BLOCK1", 0, []byte{0xDE, 0xAD}))
	require.NoError(t, e.Burn(ctx))
	assert.Equal(t, []int{3, 1, 0}, order)

	purpose, err := e.Field("KEY_PURPOSE_0")
	require.NoError(t, err)
	v, err := purpose.Get()
	require.NoError(t, err)
	assert.Equal(t, "SECURE_BOOT_DIGEST", v)

	key, err := e.Field("BLOCK_KEY0")
	require.NoError(t, err)
	assert.Equal(t, "BLOCK_KEY0 (BLOCK3)\n  Purpose: SECURE_BOOT_DIGEST\n ", e.Info(key))
}

func TestEfuses_StageKeyXTSReversed(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	e := newSession(t, chip)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	require.NoError(t, e.StageKey("KEY0", key, "XTS_AES_128_KEY"))
	require.NoError(t, e.Burn(ctx))

	b, err := e.Block(3)
	require.NoError(t, err)
	// the key file bytes land in memory order
	assert.Empty(t, cmp.Diff(key, b.Data()))
	assert.Empty(t, cmp.Diff(chip.Fuses(3)[:8], b.ReadWords()))
}

func TestEfuses_StageKeyErrors(t *testing.T) {
	e := newSession(t, NewVirtualChip())
	assert.True(t, errors.Is(e.StageKey("BLOCK1", make([]byte, 32), "USER"), efuse.ErrUnknownBlock))
	assert.True(t, errors.Is(e.StageKey("BLOCK_KEY0", make([]byte, 32), "HMAC"), efuse.ErrUnknownKeyPurpose))
	err := e.StageKey("BLOCK_KEY0", make([]byte, 8), "USER")
	var verr *efuse.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Empty(t, e.Pending())
}

func TestEfuses_BurnAborted(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	deny := func(ctx context.Context, summary string) (bool, error) {
		assert.Contains(t, summary, "BLOCK0")
		return false, nil
	}
	e := newSession(t, chip, WithConfirm(deny))
	require.NoError(t, e.Save("DIS_PAD_JTAG", "1"))
	writes := chip.Writes()
	assert.True(t, errors.Is(e.Burn(ctx), efuse.ErrAborted))
	assert.Equal(t, writes, chip.Writes())
	assert.Len(t, e.Pending(), 1)

	e = newSession(t, chip, WithConfirm(nil), WithDoNotConfirm(true))
	require.NoError(t, e.Save("DIS_PAD_JTAG", "1"))
	require.NoError(t, e.Burn(ctx))
}

func TestEfuses_WriteProtected(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	e := newSession(t, chip)
	// WR_DIS bit 1 guards DIS_PAD_JTAG
	require.NoError(t, e.Save("WR_DIS", "2"))
	require.NoError(t, e.Burn(ctx))

	err := e.Save("DIS_PAD_JTAG", "1")
	assert.True(t, errors.Is(err, efuse.ErrWriteProtected))
	f, err := e.Field("DIS_PAD_JTAG")
	require.NoError(t, err)
	assert.True(t, f.WriteProtected())
}

func TestEfuses_ErrorAccounting(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	var logs bytes.Buffer
	var dump bytes.Buffer
	e, err := New(ctx, chip,
		WithConfirm(confirmAll),
		WithOutput(&dump),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	require.NoError(t, err)
	require.NoError(t, e.StageBlockData("BLOCK2", 0, bytes.Repeat([]byte{0xA5}, 32)))
	require.NoError(t, e.Burn(ctx))
	assert.False(t, e.Failed())

	// one corrupted byte is corrected and counted
	require.NoError(t, chip.FlipBit(2, 9))
	require.NoError(t, e.Refresh(ctx))
	n, fail, err := e.BlockErrors(2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, fail)
	assert.False(t, e.Failed())
	b2, _ := e.Block(2)
	assert.Equal(t, bytes.Repeat([]byte{0xA5}, 32), b2.Data())
	assert.Contains(t, logs.String(), "error(s) in block")

	mac, err := e.Field("MAC")
	require.NoError(t, err)
	v, err := mac.Get()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(v.(string), "(Block2 has ERRORS:1 FAIL:0)"))
	assert.Equal(t, "MAC (BLOCK2)[ERRS:1 FAIL:0]", e.Info(mac))

	// repeat errors fail block 0 and dump the status registers
	chip.SetRepeatErrors(0x3)
	require.NoError(t, e.Refresh(ctx))
	n, fail, err = e.BlockErrors(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, fail)
	assert.True(t, e.Failed())
	assert.Contains(t, dump.String(), "EFUSE_RD_RS_ERR_REG         0x00000010")
	assert.Contains(t, dump.String(), "err__regs: 00000000 00000003")
}

func TestEfuses_FailedBlock(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	e := newSession(t, chip)
	require.NoError(t, e.StageBlockData("BLOCK2", 0, bytes.Repeat([]byte{0x5A}, 32)))
	require.NoError(t, e.Burn(ctx))
	for byteIdx := 0; byteIdx < 7; byteIdx++ {
		require.NoError(t, chip.FlipBit(2, byteIdx*8))
	}
	require.NoError(t, e.Refresh(ctx))
	_, fail, err := e.BlockErrors(2)
	require.NoError(t, err)
	assert.True(t, fail)
	assert.True(t, e.Failed())
}

func TestEfuses_VerifyFailure(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	bus := &programSpy{VirtualChip: chip, drop: true}
	e := newSession(t, bus)
	require.NoError(t, e.Save("DIS_PAD_JTAG", "1"))
	err := e.Burn(ctx)
	var verr *efuse.VerifyError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 0, verr.Block)
	assert.Equal(t, 1, verr.Missing)
	assert.True(t, IsVerifyError(err))
}

func TestEfuses_BurnNewFailFlag(t *testing.T) {
	ctx := context.Background()
	// BLOCK1 fail bit
	bus := &programSpy{VirtualChip: NewVirtualChip(), rsErr: 1 << 3}
	var logs bytes.Buffer
	e := newSession(t, bus, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	require.NoError(t, e.StageBlockData("BLOCK1", 0, []byte{1, 2, 3}))
	err := e.Burn(ctx)
	assert.True(t, errors.Is(err, efuse.ErrBurnFailed))
	assert.True(t, efuse.IsFatal(err))
	assert.True(t, e.Failed())
	n, fail, err := e.BlockErrors(1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, fail)
	assert.NotContains(t, logs.String(), "burn completed")
}

func TestEfuses_BurnKeepsKnownErrors(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	e := newSession(t, chip)
	chip.SetRepeatErrors(0x1)
	require.NoError(t, e.Refresh(ctx))
	require.True(t, e.Failed())

	// block 0 errors predate the burn and BLOCK1 stays clean
	require.NoError(t, e.StageBlockData("BLOCK1", 0, []byte{1, 2, 3}))
	require.NoError(t, e.Burn(ctx))
	n, fail, err := e.BlockErrors(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, fail)
}

func TestEfuses_StageKeyRestoresStagedBits(t *testing.T) {
	ctx := context.Background()
	e := newSession(t, NewVirtualChip())
	// WR_DIS bit 4 guards KEY_PURPOSE_0
	require.NoError(t, e.Save("WR_DIS", "16"))
	require.NoError(t, e.Burn(ctx))

	require.NoError(t, e.StageBlockData("BLOCK_KEY0", 0, []byte{0xAA}))
	err := e.StageKey("BLOCK_KEY0", bytes.Repeat([]byte{0x11}, 16), "SECURE_BOOT_DIGEST")
	assert.True(t, errors.Is(err, efuse.ErrWriteProtected))

	b, err := e.BlockByName("BLOCK_KEY0")
	require.NoError(t, err)
	assert.Equal(t, 4, b.PendingBits())
	assert.Equal(t, byte(0xAA), b.Payload()[0])
}

func TestEfuses_BurnWrongCrystal(t *testing.T) {
	chip := NewVirtualChip()
	e := newSession(t, chip)
	chip.Crystal = 26 * physic.MegaHertz
	require.NoError(t, e.Save("DIS_PAD_JTAG", "1"))
	writes := chip.Writes()
	err := e.Burn(context.Background())
	assert.True(t, efuse.IsFatal(err))
	assert.Equal(t, writes, chip.Writes())
}

func TestEfuses_Summary(t *testing.T) {
	e := newSession(t, NewVirtualChip())
	require.NoError(t, e.Save("SPI_BOOT_CRYPT_CNT", "1"))
	require.NoError(t, e.Burn(context.Background()))
	var found bool
	for _, s := range e.Summary() {
		if s.Name == "SPI_BOOT_CRYPT_CNT" {
			found = true
			assert.Equal(t, "Enable (1)", s.Value)
			assert.Equal(t, 0, s.Block)
		}
	}
	assert.True(t, found)
}

func TestVirtualChip_SaveLoad(t *testing.T) {
	ctx := context.Background()
	chip := NewVirtualChip()
	e := newSession(t, chip)
	require.NoError(t, e.Save("CUSTOM_MAC", "AA:CD:EF:01:02:03"))
	require.NoError(t, e.Burn(ctx))

	var buf bytes.Buffer
	require.NoError(t, chip.Save(&buf))
	restored, err := LoadVirtualChip(&buf)
	require.NoError(t, err)
	assert.Equal(t, chip.Fuses(1), restored.Fuses(1))

	e = newSession(t, restored)
	f, err := e.Field("CUSTOM_MAC")
	require.NoError(t, err)
	assert.Equal(t, "aa:cd:ef:01:02:03 (OK)", f.String())

	_, err = LoadVirtualChip(strings.NewReader("blocks: [[1, 2, 3]]"))
	assert.Error(t, err)
}

// programSpy observes program commands and can drop them to simulate fuses that
// do not take.
type programSpy struct {
	*VirtualChip
	onProgram func(id int)
	drop      bool
	// rsErr is ORed into the RS error register once a block was programmed
	rsErr      uint32
	programmed bool
}

func (p *programSpy) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	v, err := p.VirtualChip.ReadReg(ctx, addr)
	if addr == RegRdRSErr && p.programmed {
		v |= p.rsErr
	}
	return v, err
}

func (p *programSpy) WriteReg(ctx context.Context, addr, value uint32, delay time.Duration) error {
	if addr == RegCmd && value&0x3 == CmdPgm {
		p.programmed = true
		if p.onProgram != nil {
			p.onProgram(int(value>>2) & 0xF)
		}
		if p.drop {
			return nil
		}
	}
	return p.VirtualChip.WriteReg(ctx, addr, value, delay)
}

func (p *programSpy) UpdateReg(ctx context.Context, addr, mask, value uint32) error {
	return efuse.UpdateField(ctx, p, addr, mask, value)
}

// stageRaw burns words directly into the chip storage of an RS block.
func stageRaw(t *testing.T, chip *VirtualChip, block int, words []uint32) {
	t.Helper()
	encoded, err := efuse.Encode(efuse.WordBytes(words), efuse.CodingReedSolomon, BurnUnit)
	require.NoError(t, err)
	chip.mx.Lock()
	copy(chip.fuses[block], encoded)
	chip.reload()
	chip.mx.Unlock()
}
