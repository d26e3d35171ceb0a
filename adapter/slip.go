package adapter

const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

// slipEncode wraps p in a SLIP frame.
func slipEncode(p []byte) []byte {
	out := make([]byte, 0, len(p)+2)
	out = append(out, slipEnd)
	for _, b := range p {
		switch b {
		case slipEnd:
			out = append(out, slipEsc, slipEscEnd)
		case slipEsc:
			out = append(out, slipEsc, slipEscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, slipEnd)
}

// slipDecoder reassembles frames from a byte stream. Bytes outside a frame are
// dropped, which skips the boot messages printed by the ROM.
type slipDecoder struct {
	frame   []byte
	inFrame bool
	escaped bool
	frames  [][]byte
}

func (d *slipDecoder) write(p []byte) {
	for _, b := range p {
		d.feed(b)
	}
}

func (d *slipDecoder) feed(b byte) {
	if !d.inFrame {
		if b == slipEnd {
			d.inFrame = true
			d.frame = d.frame[:0]
		}
		return
	}
	if d.escaped {
		d.escaped = false
		switch b {
		case slipEscEnd:
			d.frame = append(d.frame, slipEnd)
		case slipEscEsc:
			d.frame = append(d.frame, slipEsc)
		default:
			// invalid escape, drop the frame
			d.inFrame = false
		}
		return
	}
	switch b {
	case slipEsc:
		d.escaped = true
	case slipEnd:
		if len(d.frame) == 0 {
			// back to back delimiters, stay in frame
			return
		}
		frame := make([]byte, len(d.frame))
		copy(frame, d.frame)
		d.frames = append(d.frames, frame)
		d.inFrame = false
	default:
		d.frame = append(d.frame, b)
	}
}

// next pops the oldest complete frame.
func (d *slipDecoder) next() ([]byte, bool) {
	if len(d.frames) == 0 {
		return nil, false
	}
	f := d.frames[0]
	d.frames = d.frames[1:]
	return f, true
}

func (d *slipDecoder) reset() {
	*d = slipDecoder{}
}
