// Package reedsolo implements the systematic Reed-Solomon code used by the eFuse
// controller to protect key and data blocks.
//
// The code works over GF(2^8) (primitive 0x11d, generator 2, first consecutive
// root 0). A codeword is the message followed by nsym parity bytes; up to nsym/2
// corrupted bytes can be corrected.
package reedsolo

import (
	"errors"
	"fmt"
)

// MaxCodewordLength is the longest codeword the field allows.
const MaxCodewordLength = 255

var (
	ErrTooManyErrors = errors.New("reedsolo: too many errors to correct")
	ErrUncorrectable = errors.New("reedsolo: could not correct message")
)

type Codec struct {
	nsym int
	gen  []byte
}

func New(nsym int) *Codec {
	if nsym <= 0 || nsym >= MaxCodewordLength {
		panic(fmt.Sprintf("reedsolo: invalid number of parity symbols %d", nsym))
	}
	gen := []byte{1}
	for i := 0; i < nsym; i++ {
		gen = polyMul(gen, []byte{1, gfPow(2, i)})
	}
	return &Codec{nsym: nsym, gen: gen}
}

// ParityLength returns the number of parity bytes appended by Encode.
func (c *Codec) ParityLength() int { return c.nsym }

// Encode returns msg followed by its parity bytes.
func (c *Codec) Encode(msg []byte) ([]byte, error) {
	if len(msg)+c.nsym > MaxCodewordLength {
		return nil, fmt.Errorf("reedsolo: message of %d bytes is too long (max %d)", len(msg), MaxCodewordLength-c.nsym)
	}
	out := make([]byte, len(msg)+c.nsym)
	copy(out, msg)
	for i := range msg {
		coef := out[i]
		if coef == 0 {
			continue
		}
		for j := 1; j < len(c.gen); j++ {
			out[i+j] ^= gfMul(c.gen[j], coef)
		}
	}
	copy(out, msg)
	return out, nil
}

// Check reports whether codeword has all-zero syndromes.
func (c *Codec) Check(codeword []byte) bool {
	for _, s := range c.syndromes(codeword) {
		if s != 0 {
			return false
		}
	}
	return true
}

// Decode returns the corrected message part of codeword and the number of bytes
// that had to be corrected.
func (c *Codec) Decode(codeword []byte) ([]byte, int, error) {
	if len(codeword) <= c.nsym || len(codeword) > MaxCodewordLength {
		return nil, 0, fmt.Errorf("reedsolo: invalid codeword length %d", len(codeword))
	}
	msg := make([]byte, len(codeword))
	copy(msg, codeword)
	synd := c.syndromes(msg)
	if isZero(synd) {
		return msg[:len(msg)-c.nsym], 0, nil
	}
	errLoc, err := c.errorLocator(synd)
	if err != nil {
		return nil, 0, err
	}
	errPos, err := findErrors(reversed(errLoc), len(msg))
	if err != nil {
		return nil, 0, err
	}
	msg, err = correctErrata(msg, synd, errPos)
	if err != nil {
		return nil, 0, err
	}
	if !isZero(c.syndromes(msg)) {
		return nil, 0, ErrUncorrectable
	}
	return msg[:len(msg)-c.nsym], len(errPos), nil
}

// syndromes are padded with a leading zero so that synd[k] is the k-th syndrome
// in the Berlekamp-Massey recurrence.
func (c *Codec) syndromes(msg []byte) []byte {
	synd := make([]byte, c.nsym+1)
	for i := 0; i < c.nsym; i++ {
		synd[i+1] = polyEval(msg, gfPow(2, i))
	}
	return synd
}

func (c *Codec) errorLocator(synd []byte) ([]byte, error) {
	errLoc := []byte{1}
	oldLoc := []byte{1}
	shift := len(synd) - c.nsym
	for i := 0; i < c.nsym; i++ {
		k := i + shift
		delta := synd[k]
		for j := 1; j < len(errLoc); j++ {
			delta ^= gfMul(errLoc[len(errLoc)-1-j], synd[k-j])
		}
		oldLoc = append(oldLoc, 0)
		if delta != 0 {
			if len(oldLoc) > len(errLoc) {
				newLoc := polyScale(oldLoc, delta)
				oldLoc = polyScale(errLoc, gfInverse(delta))
				errLoc = newLoc
			}
			errLoc = polyAdd(errLoc, polyScale(oldLoc, delta))
		}
	}
	for len(errLoc) > 0 && errLoc[0] == 0 {
		errLoc = errLoc[1:]
	}
	if (len(errLoc)-1)*2 > c.nsym {
		return nil, ErrTooManyErrors
	}
	return errLoc, nil
}

// findErrors runs a Chien search over the reversed locator polynomial.
func findErrors(errLoc []byte, n int) ([]int, error) {
	errs := len(errLoc) - 1
	var pos []int
	for i := 0; i < n; i++ {
		if polyEval(errLoc, gfPow(2, i)) == 0 {
			pos = append(pos, n-1-i)
		}
	}
	if len(pos) != errs {
		return nil, ErrTooManyErrors
	}
	return pos, nil
}

// correctErrata applies Forney's algorithm for the error positions found.
func correctErrata(msg, synd []byte, errPos []int) ([]byte, error) {
	coefPos := make([]int, len(errPos))
	for i, p := range errPos {
		coefPos[i] = len(msg) - 1 - p
	}
	errLoc := []byte{1}
	for _, p := range coefPos {
		errLoc = polyMul(errLoc, polyAdd([]byte{1}, []byte{gfPow(2, p), 0}))
	}
	divisor := make([]byte, len(errLoc)+1)
	divisor[0] = 1
	_, rem := polyDiv(polyMul(reversed(synd), errLoc), divisor)
	errEval := reversed(rem)

	x := make([]byte, len(coefPos))
	for i, p := range coefPos {
		x[i] = gfPow(2, -(255 - p))
	}
	e := make([]byte, len(msg))
	for i, xi := range x {
		xiInv := gfInverse(xi)
		prime := byte(1)
		for j, xj := range x {
			if j != i {
				prime = gfMul(prime, 1^gfMul(xiInv, xj))
			}
		}
		if prime == 0 {
			return nil, ErrUncorrectable
		}
		y := gfMul(xi, polyEval(reversed(errEval), xiInv))
		e[errPos[i]] = gfDiv(y, prime)
	}
	return polyAdd(msg, e), nil
}

func isZero(p []byte) bool {
	for _, c := range p {
		if c != 0 {
			return false
		}
	}
	return true
}
