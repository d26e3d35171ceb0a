package adapter

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/efuse"
	"github.com/mklimuk/efuse/esp32c2"
)

// fakeROM emulates the boot ROM on the far side of a serial port. Registers
// it does not know about are served by an optional register file.
type fakeROM struct {
	mx       sync.Mutex
	dec      slipDecoder
	out      bytes.Buffer
	baud     int
	regs     map[uint32]uint32
	file     efuse.Registers
	security uint32
	// number of sync requests to ignore
	deaf     int
	failOp   byte
	failCode byte
	lines    []string
	writes   [][]uint32
}

func newFakeROM() *fakeROM {
	f := &fakeROM{
		baud: 115200,
		regs: map[uint32]uint32{
			chipMagicAddr: 0x6F51306F,
			uartClkDiv:    347,
		},
	}
	f.out.WriteString("ESP-ROM:esp8684-api2\r\nwaiting for download\r\n")
	return f
}

func (f *fakeROM) Read(p []byte) (int, error) {
	f.mx.Lock()
	if f.out.Len() == 0 {
		f.mx.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer f.mx.Unlock()
	return f.out.Read(p)
}

func (f *fakeROM) Write(p []byte) (int, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.dec.write(p)
	for {
		frame, ok := f.dec.next()
		if !ok {
			return len(p), nil
		}
		f.handle(frame)
	}
}

func (f *fakeROM) handle(req []byte) {
	op := req[1]
	data := req[headerLen:]
	if op == f.failOp {
		f.respond(op, 0, nil, 1, f.failCode)
		return
	}
	ctx := context.Background()
	switch op {
	case opSync:
		if f.deaf > 0 {
			f.deaf--
			return
		}
		for i := 0; i < 3; i++ {
			f.respond(op, 0, nil, 0, 0)
		}
	case opReadReg:
		addr := binary.LittleEndian.Uint32(data)
		value, ok := f.regs[addr]
		if !ok && f.file != nil {
			var err error
			if value, err = f.file.ReadReg(ctx, addr); err != nil {
				f.respond(op, 0, nil, 1, 0x06)
				return
			}
		}
		f.respond(op, value, nil, 0, 0)
	case opWriteReg:
		words := []uint32{
			binary.LittleEndian.Uint32(data[0:]),
			binary.LittleEndian.Uint32(data[4:]),
			binary.LittleEndian.Uint32(data[8:]),
			binary.LittleEndian.Uint32(data[12:]),
		}
		f.writes = append(f.writes, words)
		if f.file != nil {
			delay := time.Duration(words[3]) * time.Microsecond
			if err := f.file.WriteReg(ctx, words[0], words[1], delay); err != nil {
				f.respond(op, 0, nil, 1, 0x06)
				return
			}
		} else {
			f.regs[words[0]] = words[1]
		}
		f.respond(op, 0, nil, 0, 0)
	case opGetSecurityInfo:
		info := binary.LittleEndian.AppendUint32(nil, f.security)
		info = append(info, make([]byte, 8)...)
		f.respond(op, 0, info, 0, 0)
	default:
		f.respond(op, 0, nil, 1, 0x05)
	}
}

func (f *fakeROM) respond(op byte, value uint32, data []byte, status, code byte) {
	body := append(append([]byte{}, data...), status, code, 0, 0)
	frame := make([]byte, headerLen, headerLen+len(body))
	frame[0] = directionResponse
	frame[1] = op
	binary.LittleEndian.PutUint16(frame[2:], uint16(len(body)))
	binary.LittleEndian.PutUint32(frame[4:], value)
	f.out.Write(slipEncode(append(frame, body...)))
}

func (f *fakeROM) SetDTR(on bool) error {
	f.lines = append(f.lines, fmt.Sprintf("dtr=%t", on))
	return nil
}

func (f *fakeROM) SetRTS(on bool) error {
	f.lines = append(f.lines, fmt.Sprintf("rts=%t", on))
	return nil
}

func (f *fakeROM) Flush() error { return nil }

func (f *fakeROM) Baud() int { return f.baud }

func (f *fakeROM) Close() error { return nil }

func connectedLoader(t *testing.T, rom *fakeROM, opts ...LoaderOpt) *Loader {
	t.Helper()
	opts = append([]LoaderOpt{WithResetter(NoReset{}), WithCommandTimeout(200 * time.Millisecond)}, opts...)
	l := NewLoader(rom, opts...)
	require.NoError(t, l.Connect(context.Background()))
	return l
}

func TestLoader_Connect(t *testing.T) {
	rom := newFakeROM()
	l := connectedLoader(t, rom)

	name, err := l.ChipName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ESP32-C2", name)
}

func TestLoader_UnknownChip(t *testing.T) {
	rom := newFakeROM()
	rom.regs[chipMagicAddr] = 0xDEADBEEF
	l := NewLoader(rom, WithResetter(NoReset{}), WithCommandTimeout(200*time.Millisecond))
	err := l.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrUnknownChip))
}

func TestLoader_SyncRetries(t *testing.T) {
	rom := newFakeROM()
	rom.deaf = 2
	connectedLoader(t, rom, WithSyncAttempts(3))

	rom = newFakeROM()
	rom.deaf = 2
	l := NewLoader(rom, WithResetter(NoReset{}), WithSyncAttempts(2))
	err := l.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrNoResponse))
}

func TestLoader_Registers(t *testing.T) {
	ctx := context.Background()
	rom := newFakeROM()
	l := connectedLoader(t, rom)

	require.NoError(t, l.WriteReg(ctx, 0x60008894, 0x1, time.Millisecond))
	require.Len(t, rom.writes, 1)
	assert.Equal(t, []uint32{0x60008894, 0x1, 0xFFFFFFFF, 1000}, rom.writes[0])

	rom.regs[0x60008918] = 0xABCD0000
	require.NoError(t, l.UpdateReg(ctx, 0x60008918, 0xFFFF, 0x190))
	v, err := l.ReadReg(ctx, 0x60008918)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xABCD0190), v)
}

func TestLoader_CrystalFrequency(t *testing.T) {
	ctx := context.Background()
	rom := newFakeROM()
	l := connectedLoader(t, rom)

	f, err := l.CrystalFrequency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40*physic.MegaHertz, f)

	rom.regs[uartClkDiv] = 225
	f, err = l.CrystalFrequency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 26*physic.MegaHertz, f)
}

func TestLoader_SecurityFlags(t *testing.T) {
	rom := newFakeROM()
	rom.security = esp32c2.SecureDownloadFlag
	l := connectedLoader(t, rom)

	flags, err := l.SecurityFlags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(esp32c2.SecureDownloadFlag), flags)
}

func TestLoader_ROMError(t *testing.T) {
	rom := newFakeROM()
	l := connectedLoader(t, rom)
	rom.failOp = opReadReg
	rom.failCode = 0x05

	_, err := l.ReadReg(context.Background(), 0x60008800)
	var romErr *ROMError
	require.True(t, errors.As(err, &romErr))
	assert.Equal(t, byte(0x05), romErr.Code)
	assert.Contains(t, err.Error(), "received message is invalid")
}

func TestLoader_Cancelled(t *testing.T) {
	rom := newFakeROM()
	l := connectedLoader(t, rom)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.ReadReg(ctx, chipMagicAddr)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClassicReset(t *testing.T) {
	rom := newFakeROM()
	require.NoError(t, ClassicReset{Delay: time.Millisecond}.Reset(context.Background(), rom))
	assert.Equal(t, []string{"dtr=false", "rts=true", "dtr=true", "rts=false", "dtr=false"}, rom.lines)
}

func TestLoader_BurnCustomMAC(t *testing.T) {
	ctx := context.Background()
	rom := newFakeROM()
	rom.file = esp32c2.NewVirtualChip()
	l := connectedLoader(t, rom)

	e, err := esp32c2.New(ctx, l,
		esp32c2.WithOutput(&bytes.Buffer{}),
		esp32c2.WithDoNotConfirm(true),
		esp32c2.WithTimeout(time.Second),
	)
	require.NoError(t, err)
	require.NoError(t, e.Save("CUSTOM_MAC", "AA:CD:EF:01:02:03"))
	require.NoError(t, e.Burn(ctx))

	f, err := e.Field("CUSTOM_MAC")
	require.NoError(t, err)
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "aa:cd:ef:01:02:03 (OK)", v)
}
