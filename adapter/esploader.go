package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/efuse"
)

const (
	directionRequest  = 0x00
	directionResponse = 0x01

	opSync            = 0x08
	opWriteReg        = 0x09
	opReadReg         = 0x0A
	opGetSecurityInfo = 0x14

	chipMagicAddr = 0x40001000
	uartClkDiv    = 0x60000014
	clkDivMask    = 0xFFFFF

	romStatusLen = 4
	headerLen    = 8
)

var ErrNoResponse = errors.New("no response from chip")
var ErrBadResponse = errors.New("malformed response")
var ErrUnknownChip = errors.New("unknown chip")

var chipMagic = map[uint32]string{
	0x00F01D83: "ESP32",
	0x000007C6: "ESP32-S2",
	0x00000009: "ESP32-S3",
	0x6921506F: "ESP32-C3",
	0x1B31506F: "ESP32-C3",
	0x6F51306F: "ESP32-C2",
	0x7C41A06F: "ESP32-C2",
	0xFFF0C101: "ESP8266",
}

var romErrors = map[byte]string{
	0x05: "received message is invalid",
	0x06: "failed to act on received message",
	0x07: "invalid crc in message",
	0x08: "flash write error",
	0x09: "flash read error",
	0x0A: "flash read length error",
	0x0B: "deflate error",
}

// ROMError is a failure status reported by the boot ROM.
type ROMError struct {
	Command byte
	Code    byte
}

func (e *ROMError) Error() string {
	msg, ok := romErrors[e.Code]
	if !ok {
		msg = "unknown error"
	}
	return fmt.Sprintf("command 0x%02x failed with 0x%02x: %s", e.Command, e.Code, msg)
}

type LoaderOpts struct {
	Timeout      time.Duration
	SyncAttempts int
	Reset        Resetter
	Logger       *slog.Logger
	// Trace dumps every frame at debug level.
	Trace bool
}

type LoaderOpt func(*LoaderOpts)

func WithCommandTimeout(d time.Duration) LoaderOpt {
	return func(o *LoaderOpts) { o.Timeout = d }
}

func WithSyncAttempts(n int) LoaderOpt {
	return func(o *LoaderOpts) { o.SyncAttempts = n }
}

func WithResetter(r Resetter) LoaderOpt {
	return func(o *LoaderOpts) { o.Reset = r }
}

func WithLoaderLogger(l *slog.Logger) LoaderOpt {
	return func(o *LoaderOpts) {
		if l != nil {
			o.Logger = l
		}
	}
}

func WithTrace(trace bool) LoaderOpt {
	return func(o *LoaderOpts) { o.Trace = trace }
}

var _ efuse.Chip = &Loader{}

// Loader talks to the serial download mode of the boot ROM.
type Loader struct {
	mx      sync.Mutex
	port    Port
	opts    LoaderOpts
	dec     slipDecoder
	readBuf []byte
	chip    string
}

func NewLoader(port Port, opts ...LoaderOpt) *Loader {
	o := LoaderOpts{
		Timeout:      3 * time.Second,
		SyncAttempts: 7,
		Reset:        ClassicReset{},
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader{port: port, opts: o, readBuf: make([]byte, 256)}
}

// Connect resets the chip into download mode, syncs with the ROM and detects
// the chip family.
func (l *Loader) Connect(ctx context.Context) error {
	if err := l.opts.Reset.Reset(ctx, l.port); err != nil {
		return fmt.Errorf("could not reset chip: %w", err)
	}
	if err := l.Sync(ctx); err != nil {
		return err
	}
	name, err := l.detect(ctx)
	if err != nil {
		return err
	}
	l.opts.Logger.Info("connected", "chip", name, "baud", l.port.Baud())
	return nil
}

func (l *Loader) Sync(ctx context.Context) error {
	payload := make([]byte, 36)
	copy(payload, []byte{0x07, 0x07, 0x12, 0x20})
	for i := 4; i < len(payload); i++ {
		payload[i] = 0x55
	}
	var lastErr error
	for attempt := 0; attempt < l.opts.SyncAttempts; attempt++ {
		if err := l.port.Flush(); err != nil {
			return fmt.Errorf("could not flush port: %w", err)
		}
		l.mx.Lock()
		l.dec.reset()
		l.mx.Unlock()
		_, _, err := l.command(ctx, opSync, payload, 0, 100*time.Millisecond)
		if err == nil {
			// the ROM answers every sync packet, drain the extra responses
			l.drain(ctx, 100*time.Millisecond)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.opts.Logger.Debug("sync failed", "attempt", attempt+1, "err", err)
		lastErr = err
	}
	return fmt.Errorf("could not sync with chip: %w", lastErr)
}

func (l *Loader) detect(ctx context.Context) (string, error) {
	magic, err := l.ReadReg(ctx, chipMagicAddr)
	if err != nil {
		return "", fmt.Errorf("could not read chip magic: %w", err)
	}
	name, ok := chipMagic[magic]
	if !ok {
		return "", fmt.Errorf("%w: magic 0x%08x", ErrUnknownChip, magic)
	}
	l.chip = name
	return name, nil
}

func (l *Loader) ChipName(ctx context.Context) (string, error) {
	if l.chip != "" {
		return l.chip, nil
	}
	return l.detect(ctx)
}

// CrystalFrequency estimates the crystal from the UART divider the ROM
// configured for the current baud rate.
func (l *Loader) CrystalFrequency(ctx context.Context) (physic.Frequency, error) {
	div, err := l.ReadReg(ctx, uartClkDiv)
	if err != nil {
		return 0, fmt.Errorf("could not read uart divider: %w", err)
	}
	est := float64(l.port.Baud()) * float64(div&clkDivMask) / 1e6
	if est > 33 {
		return 40 * physic.MegaHertz, nil
	}
	return 26 * physic.MegaHertz, nil
}

func (l *Loader) SecurityFlags(ctx context.Context) (uint32, error) {
	_, data, err := l.command(ctx, opGetSecurityInfo, nil, 0, l.opts.Timeout)
	if err != nil {
		return 0, fmt.Errorf("could not get security info: %w", err)
	}
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: security info of %d bytes", ErrBadResponse, len(data))
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (l *Loader) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	payload := binary.LittleEndian.AppendUint32(nil, addr)
	value, _, err := l.command(ctx, opReadReg, payload, 0, l.opts.Timeout)
	if err != nil {
		return 0, fmt.Errorf("could not read register 0x%08x: %w", addr, err)
	}
	return value, nil
}

func (l *Loader) WriteReg(ctx context.Context, addr, value uint32, delay time.Duration) error {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint32(payload[0:], addr)
	binary.LittleEndian.PutUint32(payload[4:], value)
	binary.LittleEndian.PutUint32(payload[8:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(payload[12:], uint32(delay.Microseconds()))
	if _, _, err := l.command(ctx, opWriteReg, payload, 0, l.opts.Timeout+delay); err != nil {
		return fmt.Errorf("could not write register 0x%08x: %w", addr, err)
	}
	return nil
}

func (l *Loader) UpdateReg(ctx context.Context, addr, mask, value uint32) error {
	return efuse.UpdateField(ctx, l, addr, mask, value)
}

func (l *Loader) Close() error {
	return l.port.Close()
}

// command sends one request and waits for the matching response. It returns the
// response value word and the payload without the status bytes.
func (l *Loader) command(ctx context.Context, op byte, data []byte, chk uint32, timeout time.Duration) (uint32, []byte, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	req := make([]byte, headerLen, headerLen+len(data))
	req[0] = directionRequest
	req[1] = op
	binary.LittleEndian.PutUint16(req[2:], uint16(len(data)))
	binary.LittleEndian.PutUint32(req[4:], chk)
	req = append(req, data...)
	if l.opts.Trace {
		l.opts.Logger.Debug("sending request", "op", fmt.Sprintf("0x%02x", op), "dump", "\n"+hex.Dump(req))
	}
	if _, err := l.port.Write(slipEncode(req)); err != nil {
		return 0, nil, fmt.Errorf("could not write request: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		frame, err := l.readFrame(ctx, deadline)
		if err != nil {
			return 0, nil, err
		}
		if l.opts.Trace {
			l.opts.Logger.Debug("read response", "dump", "\n"+hex.Dump(frame))
		}
		if len(frame) < headerLen || frame[0] != directionResponse || frame[1] != op {
			// stale response to an earlier command
			continue
		}
		return parseResponse(op, frame)
	}
}

func parseResponse(op byte, frame []byte) (uint32, []byte, error) {
	size := int(binary.LittleEndian.Uint16(frame[2:]))
	value := binary.LittleEndian.Uint32(frame[4:])
	body := frame[headerLen:]
	if size > len(body) {
		return 0, nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrBadResponse, size, len(body))
	}
	body = body[:size]
	statusLen := romStatusLen
	if len(body) < statusLen {
		statusLen = 2
	}
	if len(body) < statusLen {
		return 0, nil, fmt.Errorf("%w: missing status bytes", ErrBadResponse)
	}
	status := body[len(body)-statusLen:]
	if status[0] != 0 {
		return 0, nil, &ROMError{Command: op, Code: status[1]}
	}
	return value, body[:len(body)-statusLen], nil
}

func (l *Loader) readFrame(ctx context.Context, deadline time.Time) ([]byte, error) {
	for {
		if frame, ok := l.dec.next(); ok {
			return frame, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrNoResponse
		}
		n, err := l.port.Read(l.readBuf)
		if err != nil {
			return nil, fmt.Errorf("could not read response: %w", err)
		}
		l.dec.write(l.readBuf[:n])
	}
}

func (l *Loader) drain(ctx context.Context, d time.Duration) {
	l.mx.Lock()
	defer l.mx.Unlock()
	deadline := time.Now().Add(d)
	for {
		if _, err := l.readFrame(ctx, deadline); err != nil {
			return
		}
	}
}
