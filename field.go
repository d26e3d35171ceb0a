package efuse

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CustomMACName is the only MAC field that may be written.
const CustomMACName = "CUSTOM_MAC"

// FieldType selects the value logic bound to a field.
type FieldType int

const (
	FieldPlain FieldType = iota
	FieldMAC
	FieldKeyPurpose
	FieldTempSensor
	FieldADCCalibration
)

func (t FieldType) String() string {
	switch t {
	case FieldPlain:
		return "plain"
	case FieldMAC:
		return "mac"
	case FieldKeyPurpose:
		return "keypurpose"
	case FieldTempSensor:
		return "t_sensor"
	case FieldADCCalibration:
		return "adc_tp"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// ParseFieldType maps a field table class tag to its type. An empty tag is plain.
func ParseFieldType(class string) (FieldType, error) {
	switch class {
	case "", "plain":
		return FieldPlain, nil
	case "mac":
		return FieldMAC, nil
	case "keypurpose":
		return FieldKeyPurpose, nil
	case "t_sensor":
		return FieldTempSensor, nil
	case "adc_tp":
		return FieldADCCalibration, nil
	}
	return 0, fmt.Errorf("unknown field class %q", class)
}

// FieldDescriptor is one entry of a chip's static field table.
type FieldDescriptor struct {
	Name         string            `yaml:"name"`
	Category     string            `yaml:"category"`
	Block        int               `yaml:"block"`
	Word         int               `yaml:"word"`
	Pos          int               `yaml:"pos"`
	Type         string            `yaml:"type"`
	WriteDisable *int              `yaml:"wr_dis,omitempty"`
	Class        string            `yaml:"class,omitempty"`
	Description  string            `yaml:"description"`
	Dictionary   map[uint64]string `yaml:"dictionary,omitempty"`
	// Calibration fields are only listed when the chip carries calibration data.
	Calibration bool `yaml:"calibration,omitempty"`
}

type valueKind int

const (
	kindBool valueKind = iota
	kindUint
	kindBytes
)

func parseValueType(s string) (valueKind, int, error) {
	if s == "bool" {
		return kindBool, 1, nil
	}
	name, size, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid field type %q", s)
	}
	n, err := strconv.Atoi(size)
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("invalid field length in %q", s)
	}
	switch name {
	case "uint":
		if n > 64 {
			return 0, 0, fmt.Errorf("uint field %q wider than 64 bits", s)
		}
		return kindUint, n, nil
	case "bytes":
		return kindBytes, n * 8, nil
	}
	return 0, 0, fmt.Errorf("invalid field type %q", s)
}

// Field is a named bit range of a block. It holds no value of its own; every read
// decodes the block's current bits.
type Field struct {
	Name        string
	Category    string
	Description string
	Type        FieldType
	Offset      int
	Length      int
	Calibration bool

	kind       valueKind
	block      *Block
	protect    *Block
	wrDis      int
	dictionary map[uint64]string
	codec      fieldCodec
}

type FieldOption func(*Field)

// WithWriteProtection checks the field's write-disable bit in block before
// accepting writes.
func WithWriteProtection(block *Block) FieldOption {
	return func(f *Field) {
		f.protect = block
	}
}

// NewField binds a descriptor to its block and to the value logic of its class.
func NewField(d FieldDescriptor, block *Block, purposes KeyPurposes, opts ...FieldOption) (*Field, error) {
	if block == nil || block.ID != d.Block {
		return nil, fmt.Errorf("field %s: block %d not provided", d.Name, d.Block)
	}
	kind, length, err := parseValueType(d.Type)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", d.Name, err)
	}
	offset := d.Word*32 + d.Pos
	if offset+length > block.BitLen() {
		return nil, fmt.Errorf("field %s: bits [%d,%d) outside BLOCK%d", d.Name, offset, offset+length, block.ID)
	}
	typ, err := ParseFieldType(d.Class)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", d.Name, err)
	}
	f := &Field{
		Name:        d.Name,
		Category:    d.Category,
		Description: d.Description,
		Type:        typ,
		Offset:      offset,
		Length:      length,
		Calibration: d.Calibration,
		kind:        kind,
		block:       block,
		wrDis:       -1,
		dictionary:  d.Dictionary,
	}
	if d.WriteDisable != nil {
		f.wrDis = *d.WriteDisable
	}
	for _, opt := range opts {
		opt(f)
	}
	switch typ {
	case FieldPlain:
		f.codec = plainCodec{}
	case FieldMAC:
		if length != 48 {
			return nil, fmt.Errorf("field %s: MAC fields are 48 bits, got %d", d.Name, length)
		}
		f.codec = macCodec{custom: d.Name == CustomMACName}
	case FieldKeyPurpose:
		f.codec = keyPurposeCodec{purposes: purposes}
	case FieldTempSensor:
		f.codec = signMagnitudeCodec{step: 0.1}
	case FieldADCCalibration:
		f.codec = signMagnitudeCodec{step: 4}
	}
	if (typ == FieldTempSensor || typ == FieldADCCalibration) && (kind != kindUint || length < 2) {
		return nil, fmt.Errorf("field %s: sign-magnitude fields need a uint of at least 2 bits", d.Name)
	}
	return f, nil
}

func (f *Field) Block() *Block { return f.block }

// Get decodes the field value. Plain fields return bool, uint64 or []byte, MAC
// fields a formatted string with the block status, key purposes their name and
// calibration fields a float64.
func (f *Field) Get() (any, error) {
	return f.codec.decode(f)
}

// Save validates value and stages it for the next burn of the owning block.
func (f *Field) Save(value string) error {
	if f.WriteProtected() {
		return invalid(f.Name, ErrWriteProtected)
	}
	enc, err := f.codec.encode(f, value)
	if err != nil {
		return invalid(f.Name, err)
	}
	if enc.raw != nil {
		err = f.block.StageBytes(f.Offset, enc.raw)
	} else {
		err = f.block.Stage(f.Offset, f.Length, enc.value)
	}
	if err != nil {
		return invalid(f.Name, err)
	}
	return nil
}

// SaveBytes stages a byte field value given most significant byte first.
func (f *Field) SaveBytes(raw []byte) error {
	if f.WriteProtected() {
		return invalid(f.Name, ErrWriteProtected)
	}
	if f.kind != kindBytes || f.Type != FieldPlain {
		return invalid(f.Name, fmt.Errorf("%w: not a plain byte field", ErrValueRange))
	}
	if len(raw)*8 != f.Length {
		return invalid(f.Name, fmt.Errorf("%w: expected %d bytes, got %d", ErrValueRange, f.Length/8, len(raw)))
	}
	if err := f.block.StageBytes(f.Offset, raw); err != nil {
		return invalid(f.Name, err)
	}
	return nil
}

// Raw returns the field bits as an unsigned integer. Fields wider than 64 bits
// are truncated to their low 64 bits.
func (f *Field) Raw() uint64 {
	return f.block.Uint(f.Offset, min(f.Length, 64))
}

// Bytes returns a byte-aligned field most significant byte first.
func (f *Field) Bytes() []byte {
	return f.block.BigEndian(f.Offset, f.Length)
}

func (f *Field) WriteProtected() bool {
	return f.protect != nil && f.wrDis >= 0 && f.protect.Bit(f.wrDis)
}

// Status returns "(OK)" or the block error counters in parentheses.
func (f *Field) Status() string {
	errs, fail := f.block.Errors()
	if errs != 0 || fail {
		return fmt.Sprintf("(Block%d has ERRORS:%d FAIL:%d)", f.block.ID, errs, btoi(fail))
	}
	return "(OK)"
}

// Info returns the field name with its block and any error counters.
func (f *Field) Info() string {
	out := fmt.Sprintf("%s (BLOCK%d)", f.Name, f.block.ID)
	errs, fail := f.block.Errors()
	if errs != 0 || fail {
		if f.block.ID == 0 {
			out += fmt.Sprintf("[FAIL:%d]", btoi(fail))
		} else {
			out += fmt.Sprintf("[ERRS:%d FAIL:%d]", errs, btoi(fail))
		}
	}
	return out
}

// String renders the current value for summaries.
func (f *Field) String() string {
	v, err := f.Get()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	switch val := v.(type) {
	case []byte:
		return hex.EncodeToString(val)
	case uint64:
		if name, ok := f.dictionary[val]; ok {
			return fmt.Sprintf("%s (%d)", name, val)
		}
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

type encoded struct {
	value uint64
	raw   []byte
}

type fieldCodec interface {
	decode(f *Field) (any, error)
	encode(f *Field, value string) (encoded, error)
}

type plainCodec struct{}

func (plainCodec) decode(f *Field) (any, error) {
	switch f.kind {
	case kindBool:
		return f.block.Bit(f.Offset), nil
	case kindUint:
		return f.block.Uint(f.Offset, f.Length), nil
	default:
		return f.block.BigEndian(f.Offset, f.Length), nil
	}
}

func (plainCodec) encode(f *Field, value string) (encoded, error) {
	switch f.kind {
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return encoded{}, fmt.Errorf("%w: %q is not a boolean", ErrValueRange, value)
		}
		return encoded{value: uint64(btoi(b))}, nil
	case kindUint:
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return encoded{}, fmt.Errorf("%w: %q is not an unsigned integer", ErrValueRange, value)
		}
		if f.Length < 64 && v>>f.Length != 0 {
			return encoded{}, fmt.Errorf("%w: %d needs more than %d bits", ErrValueRange, v, f.Length)
		}
		return encoded{value: v}, nil
	default:
		raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
		if err != nil {
			return encoded{}, fmt.Errorf("%w: %v", ErrValueRange, err)
		}
		if len(raw)*8 != f.Length {
			return encoded{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrValueRange, f.Length/8, len(raw))
		}
		return encoded{raw: raw}, nil
	}
}

// macCodec handles factory and custom MAC fields. The custom MAC is stored with
// its bytes reversed.
type macCodec struct {
	custom bool
}

func (c macCodec) decode(f *Field) (any, error) {
	mac := f.block.BigEndian(f.Offset, f.Length)
	if c.custom {
		mac = reverseBytes(mac)
	}
	return FormatMAC(mac) + " " + f.Status(), nil
}

func (c macCodec) encode(f *Field, value string) (encoded, error) {
	if !c.custom {
		return encoded{}, fmt.Errorf("%w: writing factory MAC address is not supported", ErrReadOnly)
	}
	mac, err := ParseMAC(value)
	if err != nil {
		return encoded{}, err
	}
	return encoded{raw: reverseBytes(mac)}, nil
}

type keyPurposeCodec struct {
	purposes KeyPurposes
}

func (c keyPurposeCodec) decode(f *Field) (any, error) {
	code := f.block.Uint(f.Offset, f.Length)
	p, ok := c.purposes.ByCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: code %d", ErrUnknownKeyPurpose, code)
	}
	return p.Name, nil
}

func (c keyPurposeCodec) encode(f *Field, value string) (encoded, error) {
	p, ok := c.purposes.ByName(value)
	if !ok {
		return encoded{}, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownKeyPurpose, value, strings.Join(c.purposes.Names(), ", "))
	}
	if f.Length < 64 && p.Code>>f.Length != 0 {
		return encoded{}, fmt.Errorf("%w: purpose code %d needs more than %d bits", ErrValueRange, p.Code, f.Length)
	}
	return encoded{value: p.Code}, nil
}

// signMagnitudeCodec decodes calibration values: the most significant stored bit
// is the sign and the remaining bits count steps.
type signMagnitudeCodec struct {
	step float64
}

func (c signMagnitudeCodec) decode(f *Field) (any, error) {
	raw := f.block.Uint(f.Offset, f.Length)
	return DecodeSignMagnitude(raw, f.Length, c.step), nil
}

func (c signMagnitudeCodec) encode(f *Field, value string) (encoded, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return encoded{}, fmt.Errorf("%w: %q is not a number", ErrValueRange, value)
	}
	raw, err := EncodeSignMagnitude(v, f.Length, c.step)
	if err != nil {
		return encoded{}, err
	}
	return encoded{value: raw}, nil
}

func DecodeSignMagnitude(raw uint64, length int, step float64) float64 {
	sign := 1.0
	if raw&(1<<(length-1)) != 0 {
		sign = -1
	}
	magnitude := raw &^ (1 << (length - 1))
	return sign * float64(magnitude) * step
}

func EncodeSignMagnitude(v float64, length int, step float64) (uint64, error) {
	magnitude := math.Round(math.Abs(v) / step)
	if magnitude >= float64(uint64(1)<<(length-1)) {
		return 0, fmt.Errorf("%w: %v exceeds %d magnitude bits", ErrValueRange, v, length-1)
	}
	raw := uint64(magnitude)
	if v < 0 && raw != 0 {
		raw |= 1 << (length - 1)
	}
	return raw, nil
}
