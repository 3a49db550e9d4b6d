package heartrate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"go.bug.st/serial"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture"
)

// DefaultBaudRate is what most hobby pulse sensor sketches use.
const DefaultBaudRate = 115200

// opener opens a port; swapped out in tests.
type opener func(path string, baud int) (io.ReadCloser, error)

func openSerial(path string, baud int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(path, mode)
}

// SerialSource reads one heart-rate reading per line from a serial port.
type SerialSource struct {
	path           string
	baud           int
	sink           capture.HeartRateSink
	open           opener
	reconnectDelay time.Duration
}

// NewSerialSource creates a source for the sensor at path.
func NewSerialSource(path string, baud int, sink capture.HeartRateSink) *SerialSource {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &SerialSource{
		path:           path,
		baud:           baud,
		sink:           sink,
		open:           openSerial,
		reconnectDelay: DefaultReconnectDelay,
	}
}

// Name returns the source name.
func (s *SerialSource) Name() string {
	return "heartrate-serial"
}

// Available checks that the port is listed by the OS.
func (s *SerialSource) Available() bool {
	if s.path == "" {
		return false
	}
	ports, err := serial.GetPortsList()
	if err != nil {
		return false
	}
	for _, p := range ports {
		if p == s.path {
			return true
		}
	}
	return false
}

// Run reads the port and reopens it after failures until ctx is cancelled.
func (s *SerialSource) Run(ctx context.Context) error {
	for {
		err := s.stream(ctx)
		s.sink.SetAuxiliarySignal(0)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("[heartrate] Serial sensor %s lost: %v (retrying in %s)", s.path, err, s.reconnectDelay)

		if !sleepCtx(ctx, s.reconnectDelay) {
			return nil
		}
	}
}

func (s *SerialSource) stream(ctx context.Context) error {
	port, err := s.open(s.path, s.baud)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer port.Close()

	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()

	log.Printf("[heartrate] Reading sensor on %s at %d baud", s.path, s.baud)
	return readLines(port, s.sink)
}

// readLines delivers every parseable line until r fails or ends.
func readLines(r io.Reader, sink capture.HeartRateSink) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		bpm, err := ParseReading(scanner.Bytes())
		if err != nil {
			continue
		}
		sink.SetAuxiliarySignal(bpm)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
