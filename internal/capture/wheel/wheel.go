// Package wheel reads scroll-wheel motion straight from evdev.
//
// Requires the user to be in the 'input' group:
//
//	sudo usermod -aG input $USER
//
// We track only relative wheel axes (REL_WHEEL, REL_WHEEL_HI_RES) and turn
// them into an absolute scroll offset. Event timestamps come from the
// kernel, so samples carry the time the wheel actually moved rather than the
// time we got around to reading it.
//
// Privacy note: pointer position and buttons are ignored.
package wheel

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture"
)

// Linux input event structure (from linux/input.h)
// struct input_event {
//     struct timeval time;
//     __u16 type;
//     __u16 code;
//     __s32 value;
// }
const (
	eventSize = 24 // timeval (16 bytes) + type (2) + code (2) + value (4)

	evSyn = 0x00 // EV_SYN
	evRel = 0x02 // EV_REL

	synReport = 0x00

	relWheel      = 0x08
	relWheelHiRes = 0x0b

	// hiResPerDetent is the REL_WHEEL_HI_RES value of one notch.
	hiResPerDetent = 120

	// DefaultPixelsPerDetent matches common desktop scroll step sizes.
	DefaultPixelsPerDetent = 53.0
)

// Event is a decoded input_event.
type Event struct {
	Time  time.Time
	Type  uint16
	Code  uint16
	Value int32
}

// ParseEvent decodes one 24-byte input_event.
func ParseEvent(buf []byte) (Event, error) {
	if len(buf) < eventSize {
		return Event{}, fmt.Errorf("short input event: %d bytes", len(buf))
	}
	sec := int64(binary.LittleEndian.Uint64(buf[0:8]))
	usec := int64(binary.LittleEndian.Uint64(buf[8:16]))
	return Event{
		Time:  time.Unix(sec, usec*int64(time.Microsecond)),
		Type:  binary.LittleEndian.Uint16(buf[16:18]),
		Code:  binary.LittleEndian.Uint16(buf[18:20]),
		Value: int32(binary.LittleEndian.Uint32(buf[20:24])),
	}, nil
}

// Tracker converts wheel events into motion samples.
type Tracker struct {
	devicePath      string
	pixelsPerDetent float64
	feeder          *capture.OffsetFeeder

	// Frame state: events between two SYN_REPORTs belong together
	offset     float64
	pending    float64
	pendingLo  float64
	sawHiRes   bool
	frameMoved bool
}

// New creates a wheel tracker. An empty device path means auto-detect.
func New(device string, pixelsPerDetent float64, sink capture.SampleSink) *Tracker {
	if pixelsPerDetent <= 0 {
		pixelsPerDetent = DefaultPixelsPerDetent
	}
	return &Tracker{
		devicePath:      device,
		pixelsPerDetent: pixelsPerDetent,
		feeder:          capture.NewOffsetFeeder(sink),
	}
}

// Name returns the source name.
func (t *Tracker) Name() string {
	return "wheel"
}

// Device returns the configured or detected device path.
func (t *Tracker) Device() string {
	return t.devicePath
}

// Available checks that a pointer device exists and is readable.
func (t *Tracker) Available() bool {
	if t.devicePath == "" {
		t.devicePath = FindPointerDevice()
	}
	if t.devicePath == "" {
		return false
	}

	f, err := os.Open(t.devicePath)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Run reads events until ctx is cancelled or the device goes away.
func (t *Tracker) Run(ctx context.Context) error {
	if t.devicePath == "" {
		return errors.New("no pointer device")
	}

	f, err := os.Open(t.devicePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.devicePath, err)
	}
	defer f.Close()

	// Closing the file is the only way to unblock a pending read.
	stop := context.AfterFunc(ctx, func() { f.Close() })
	defer stop()

	log.Printf("[wheel] Reading scroll events from %s", t.devicePath)

	buf := make([]byte, eventSize)
	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", t.devicePath, err)
		}

		ev, err := ParseEvent(buf)
		if err != nil {
			continue
		}
		t.Handle(ev)
	}
}

// Handle processes a single event. Wheel deltas are collected until the
// frame's SYN_REPORT, then the new offset is observed once.
func (t *Tracker) Handle(ev Event) {
	switch ev.Type {
	case evRel:
		switch ev.Code {
		case relWheelHiRes:
			t.sawHiRes = true
			t.pending += float64(ev.Value) / hiResPerDetent
			t.frameMoved = true
		case relWheel:
			t.pendingLo += float64(ev.Value)
			t.frameMoved = true
		}

	case evSyn:
		if ev.Code != synReport || !t.frameMoved {
			return
		}
		detents := t.pendingLo
		if t.sawHiRes {
			detents = t.pending
		}
		// Wheel up is positive; scrolling down grows the offset.
		t.offset -= detents * t.pixelsPerDetent
		t.feeder.Observe(ev.Time, t.offset)

		t.pending, t.pendingLo = 0, 0
		t.sawHiRes, t.frameMoved = false, false
	}
}

// Offset returns the accumulated scroll offset in pixels.
func (t *Tracker) Offset() float64 {
	return t.offset
}

// FindPointerDevice finds the primary mouse/touchpad event device.
func FindPointerDevice() string {
	// Look in /dev/input/by-id for a mouse first
	matches, _ := filepath.Glob("/dev/input/by-id/*-event-mouse")
	if len(matches) > 0 {
		return matches[0]
	}

	// Fallback: scan /proc/bus/input/devices for a handler list with a mouse
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return ""
	}
	defer f.Close()

	return findInDeviceList(f)
}

// findInDeviceList parses /proc/bus/input/devices. A device qualifies when
// its handlers include a mouseN node; its eventN node is what we read.
func findInDeviceList(r io.Reader) string {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "H: Handlers=") {
			continue
		}

		var isMouse bool
		var event string
		for _, p := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
			switch {
			case strings.HasPrefix(p, "mouse"):
				isMouse = true
			case strings.HasPrefix(p, "event"):
				event = "/dev/input/" + p
			}
		}
		if isMouse && event != "" {
			return event
		}
	}
	return ""
}
