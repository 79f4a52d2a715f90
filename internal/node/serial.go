package node

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// maxLineLength bounds a line from a serial peripheral.
const maxLineLength = 128

// OpenSerial opens a UART peripheral at the configured baud rate, 8N1, with
// the configured read timeout so reads never block the node indefinitely.
func OpenSerial(cfg config.SerialConfig) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	return port, nil
}

// lineReader splits a timeout-bounded byte stream into lines.
// A Read returning no data is treated as a timeout.
type lineReader struct {
	r       io.Reader
	pending []byte
	buf     [64]byte
}

// readLine returns the next non-empty line, or ok=false if the underlying
// read timed out first.
func (l *lineReader) readLine() (line string, ok bool, err error) {
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(l.pending[:i]))
			l.pending = l.pending[i+1:]
			if line == "" {
				continue
			}
			return line, true, nil
		}
		if len(l.pending) > maxLineLength {
			l.pending = l.pending[:0]
		}

		n, err := l.r.Read(l.buf[:])
		l.pending = append(l.pending, l.buf[:n]...)
		if err != nil {
			return "", false, err
		}
		if n == 0 {
			return "", false, nil
		}
	}
}

// LineTokenReader reads one token per line, as sent by UART RFID readers.
// It works over a serial port or any other io.Reader.
type LineTokenReader struct {
	lines lineReader
}

// NewLineTokenReader creates a token reader on r.
func NewLineTokenReader(r io.Reader) *LineTokenReader {
	return &LineTokenReader{lines: lineReader{r: r}}
}

// ReadToken returns the next token, or ErrNoToken if the read timed out.
func (t *LineTokenReader) ReadToken() (string, error) {
	line, ok, err := t.lines.readLine()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoToken
	}
	return line, nil
}

// SerialSensor polls a UART environment sensor. Each Read writes "R\n" and
// expects one "<temperature>,<humidity>" line back.
type SerialSensor struct {
	mu    sync.Mutex
	port  io.ReadWriter
	lines lineReader
}

// NewSerialSensor creates a sensor on port.
func NewSerialSensor(port io.ReadWriter) *SerialSensor {
	return &SerialSensor{port: port, lines: lineReader{r: port}}
}

// Read requests and parses one sample.
func (s *SerialSensor) Read(ctx context.Context) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if _, err := s.port.Write([]byte("R\n")); err != nil {
		return 0, 0, fmt.Errorf("requesting sample: %w", err)
	}
	line, ok, err := s.lines.readLine()
	if err != nil {
		return 0, 0, fmt.Errorf("reading sample: %w", err)
	}
	if !ok {
		return 0, 0, fmt.Errorf("%w: sensor timed out", ErrInvalidReading)
	}
	return ParseSensorLine(line)
}

// ParseSensorLine parses "<temperature>,<humidity>".
func ParseSensorLine(line string) (temperature, humidity float64, err error) {
	t, h, found := strings.Cut(strings.TrimSpace(line), ",")
	if !found {
		return 0, 0, fmt.Errorf("%w: malformed line %q", ErrInvalidReading, line)
	}
	temperature, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: temperature %q", ErrInvalidReading, t)
	}
	humidity, err = strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: humidity %q", ErrInvalidReading, h)
	}
	if err := ValidateReading(temperature, humidity); err != nil {
		return 0, 0, err
	}
	return temperature, humidity, nil
}
