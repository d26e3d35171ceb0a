package adapter

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ReadTimeout bounds a single Read on a Serial port.
const ReadTimeout = 100 * time.Millisecond

var _ Port = &Serial{}

// Serial is an 8N1 serial port with modem control lines.
type Serial struct {
	port serial.Port
	baud int
}

func OpenSerial(name string, baud int) (*Serial, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		// keep EN released until a Resetter drives the lines
		InitialStatusBits: &serial.ModemOutputBits{DTR: false, RTS: false},
	})
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("could not set read timeout on %s: %w", name, err)
	}
	return &Serial{port: port, baud: baud}, nil
}

func (s *Serial) Read(p []byte) (int, error) { return s.port.Read(p) }

func (s *Serial) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *Serial) Close() error { return s.port.Close() }

func (s *Serial) Baud() int { return s.baud }

func (s *Serial) SetDTR(on bool) error {
	if err := s.port.SetDTR(on); err != nil {
		return fmt.Errorf("could not set DTR: %w", err)
	}
	return nil
}

func (s *Serial) SetRTS(on bool) error {
	if err := s.port.SetRTS(on); err != nil {
		return fmt.Errorf("could not set RTS: %w", err)
	}
	return nil
}

func (s *Serial) Flush() error { return s.port.ResetInputBuffer() }
