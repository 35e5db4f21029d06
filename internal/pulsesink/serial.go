package pulsesink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"

	"motioncore/internal/logger"
)

// Frame constants, adapted from the teacher's ACE communication protocol
// (project/extras_ace_commun.go): a two-byte start sequence, a length
// prefix, a CRC-16 trailer, and a single end byte.
const (
	frameStart1  = 0xFF
	frameStart2  = 0xAA
	frameEnd     = 0xFE
	minFrameSize = 7 // start(2) + len(2) + crc(2) + end(1)
)

var errNotOpen = errors.New("pulsesink: serial port not open")

// calcCRC is the CRC-16 variant used by the teacher's ACE protocol.
func calcCRC(buf []byte) uint16 {
	var crc uint16 = 0xffff
	for i := 0; i < len(buf); i++ {
		data := uint16(buf[i])
		data ^= crc & 0xff
		data ^= (data & 0x0f) << 4
		crc = ((data << 8) | (crc >> 8)) ^ (data >> 4) ^ (data << 3)
	}
	return crc
}

// SerialPulseSink frames StepCommand blocks onto a github.com/tarm/serial
// byte stream bound for an external pulse generator. Each pushed block
// becomes one frame: start(2) + len(2) + payload + crc(2) + end(1), where
// the payload is the command slice serialized as fixed-width little-endian
// records (step, direction, cancellableMask, options, delay uint32).
type SerialPulseSink struct {
	name string
	baud int
	port *serial.Port

	lowWaterTicks int
	pending       int // commands pushed but not yet acknowledged drained
}

// NewSerialPulseSink opens the named serial device at baud. It does not
// start delivery; call Run for that.
func NewSerialPulseSink(name string, baud int) (*SerialPulseSink, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: 50 * time.Millisecond}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		logger.Errorf("pulsesink: open %s: %v", name, err)
		return nil, fmt.Errorf("pulsesink: open %s: %w", name, err)
	}
	return &SerialPulseSink{name: name, baud: baud, port: port}, nil
}

func encodeCommand(buf []byte, c StepCommand) []byte {
	buf = append(buf, c.Step, c.Direction, c.CancellableMask, c.Options)
	var d [4]byte
	binary.LittleEndian.PutUint32(d[:], c.Delay)
	return append(buf, d[:]...)
}

func (s *SerialPulseSink) PushBlock(commands []StepCommand) error {
	if s.port == nil {
		return errNotOpen
	}
	payload := make([]byte, 0, len(commands)*8)
	for _, c := range commands {
		payload = encodeCommand(payload, c)
	}

	frame := make([]byte, 0, minFrameSize+len(payload))
	frame = append(frame, frameStart1, frameStart2)
	var length [2]byte
	binary.LittleEndian.PutUint16(length[:], uint16(len(payload)))
	frame = append(frame, length[:]...)
	frame = append(frame, payload...)
	crc := calcCRC(payload)
	var crcBytes [2]byte
	binary.LittleEndian.PutUint16(crcBytes[:], crc)
	frame = append(frame, crcBytes[:]...)
	frame = append(frame, frameEnd)

	if _, err := s.port.Write(frame); err != nil {
		return fmt.Errorf("pulsesink: write frame: %w", err)
	}
	s.pending += len(commands)
	return nil
}

func (s *SerialPulseSink) WaitUntilLowMoveTime(ctx context.Context, lowWaterTicks int) error {
	s.lowWaterTicks = lowWaterTicks
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for s.pending > lowWaterTicks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.drainAcks()
		}
	}
	return nil
}

func (s *SerialPulseSink) WaitUntilFinished(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for s.pending > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.drainAcks()
		}
	}
	return nil
}

// drainAcks reads whatever single-byte acknowledgements the controller has
// produced since the last poll, decrementing pending for each.
func (s *SerialPulseSink) drainAcks() {
	if s.port == nil {
		return
	}
	buf := make([]byte, 64)
	n, err := s.port.Read(buf)
	if err != nil || n == 0 {
		return
	}
	if s.pending >= n {
		s.pending -= n
	} else {
		s.pending = 0
	}
}

func (s *SerialPulseSink) Run() error {
	if s.port == nil {
		return errNotOpen
	}
	return nil
}

func (s *SerialPulseSink) Stop() error {
	return nil
}

func (s *SerialPulseSink) Reset() error {
	s.pending = 0
	if s.port == nil {
		return nil
	}
	return s.port.Flush()
}

func (s *SerialPulseSink) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
