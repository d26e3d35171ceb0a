package reedsolo

// Arithmetic over GF(2^8) with the primitive polynomial x^8+x^4+x^3+x^2+1 (0x11d)
// and generator 2. Polynomials are stored highest degree first.

const primitive = 0x11d

var (
	gfExp [512]byte
	gfLog [256]int
)

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		gfExp[i] = byte(x)
		gfLog[x] = i
		x <<= 1
		if x&0x100 != 0 {
			x ^= primitive
		}
	}
	for i := 255; i < 512; i++ {
		gfExp[i] = gfExp[i-255]
	}
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[gfLog[a]+gfLog[b]]
}

func gfDiv(a, b byte) byte {
	if b == 0 {
		panic("reedsolo: division by zero")
	}
	if a == 0 {
		return 0
	}
	return gfExp[(gfLog[a]+255-gfLog[b])%255]
}

func gfPow(a byte, n int) byte {
	if a == 0 {
		return 0
	}
	e := (gfLog[a] * n) % 255
	if e < 0 {
		e += 255
	}
	return gfExp[e]
}

func gfInverse(a byte) byte {
	return gfExp[255-gfLog[a]]
}

func polyScale(p []byte, x byte) []byte {
	out := make([]byte, len(p))
	for i, c := range p {
		out[i] = gfMul(c, x)
	}
	return out
}

func polyAdd(p, q []byte) []byte {
	n := max(len(p), len(q))
	out := make([]byte, n)
	for i, c := range p {
		out[i+n-len(p)] = c
	}
	for i, c := range q {
		out[i+n-len(q)] ^= c
	}
	return out
}

func polyMul(p, q []byte) []byte {
	out := make([]byte, len(p)+len(q)-1)
	for j, qc := range q {
		for i, pc := range p {
			out[i+j] ^= gfMul(pc, qc)
		}
	}
	return out
}

// polyEval evaluates p at x with Horner's scheme.
func polyEval(p []byte, x byte) byte {
	y := p[0]
	for _, c := range p[1:] {
		y = gfMul(y, x) ^ c
	}
	return y
}

// polyDiv divides by a monic divisor and returns quotient and remainder.
func polyDiv(dividend, divisor []byte) ([]byte, []byte) {
	out := make([]byte, len(dividend))
	copy(out, dividend)
	for i := 0; i < len(dividend)-(len(divisor)-1); i++ {
		coef := out[i]
		if coef == 0 {
			continue
		}
		for j := 1; j < len(divisor); j++ {
			if divisor[j] != 0 {
				out[i+j] ^= gfMul(divisor[j], coef)
			}
		}
	}
	sep := len(out) - (len(divisor) - 1)
	return out[:sep], out[sep:]
}

func reversed(p []byte) []byte {
	out := make([]byte, len(p))
	for i, c := range p {
		out[len(p)-1-i] = c
	}
	return out
}
