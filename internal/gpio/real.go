//go:build linux

package gpio

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/treadmill/internal/logic"
)

const consumer = "treadmill"

// RealReader polls the input lines using the Linux GPIO character device.
type RealReader struct {
	chip    *gpiocdev.Chip
	speed   *gpiocdev.Line
	incline *gpiocdev.Line
	safety  *gpiocdev.Line
}

// NewRealReader requests the speed, incline and safety lines as inputs.
// Inputs are pulled high; the motor controller pulls the sensor lines low to
// signal, and the inserted key closes the safety switch to ground.
func NewRealReader(pins Pins) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(pins.Chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealReader{chip: chip}
	r.speed, err = chip.RequestLine(pins.Speed, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("request speed pin %d: %w", pins.Speed, err)
	}
	r.incline, err = chip.RequestLine(pins.Incline, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("request incline pin %d: %w", pins.Incline, err)
	}
	r.safety, err = chip.RequestLine(pins.Safety, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("request safety pin %d: %w", pins.Safety, err)
	}
	return r, nil
}

// Read returns the raw levels of all inputs.
func (r *RealReader) Read() (Levels, error) {
	speed, err := r.speed.Value()
	if err != nil {
		return Levels{}, fmt.Errorf("read speed pin: %w", err)
	}
	incline, err := r.incline.Value()
	if err != nil {
		return Levels{}, fmt.Errorf("read incline pin: %w", err)
	}
	safety, err := r.safety.Value()
	if err != nil {
		return Levels{}, fmt.Errorf("read safety pin: %w", err)
	}
	return Levels{Speed: speed == 1, Incline: incline == 1, Safety: safety == 1}, nil
}

// Close releases GPIO resources.
func (r *RealReader) Close() error {
	return closeLines(r.chip, r.speed, r.incline, r.safety)
}

// RealEdges reports input transitions from kernel edge events.
type RealEdges struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
	pins  map[int]logic.Pin
	ch    chan logic.Edge

	// epoch maps kernel event timestamps onto wall time; the first event
	// fixes it so periods keep kernel precision.
	epochOnce sync.Once
	epoch     time.Time

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewRealEdges requests the input lines with edge detection on both edges.
func NewRealEdges(pins Pins, buffer int) (*RealEdges, error) {
	chip, err := gpiocdev.NewChip(pins.Chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	e := &RealEdges{
		chip: chip,
		pins: map[int]logic.Pin{
			pins.Speed:   logic.PinSpeed,
			pins.Incline: logic.PinIncline,
			pins.Safety:  logic.PinSafety,
		},
		ch: make(chan logic.Edge, buffer),
	}
	for _, offset := range []int{pins.Speed, pins.Incline, pins.Safety} {
		l, err := chip.RequestLine(offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(e.handle))
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("request edge pin %d: %w", offset, err)
		}
		e.lines = append(e.lines, l)
	}
	return e, nil
}

func (e *RealEdges) handle(evt gpiocdev.LineEvent) {
	e.epochOnce.Do(func() {
		e.epoch = time.Now().Add(-evt.Timestamp)
	})

	edge := logic.Edge{
		Pin:  e.pins[evt.Offset],
		High: evt.Type == gpiocdev.LineEventRisingEdge,
		Time: e.epoch.Add(evt.Timestamp),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- edge:
	default:
		if e.dropped == 0 {
			log.Printf("gpio: edge buffer full, dropping edges")
		}
		e.dropped++
	}
}

// Initial reads the current input levels, for establishing a baseline
// before edges arrive.
func (e *RealEdges) Initial() (Levels, error) {
	var lv [3]int
	for i, l := range e.lines {
		v, err := l.Value()
		if err != nil {
			return Levels{}, fmt.Errorf("read initial level: %w", err)
		}
		lv[i] = v
	}
	return Levels{Speed: lv[0] == 1, Incline: lv[1] == 1, Safety: lv[2] == 1}, nil
}

// Edges returns the edge stream.
func (e *RealEdges) Edges() <-chan logic.Edge {
	return e.ch
}

// Close releases the lines and closes the edge stream.
func (e *RealEdges) Close() error {
	err := closeLines(e.chip, e.lines...)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
	return err
}

// RealOutput drives a single output line.
type RealOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	pin  int
}

// NewRealOutput requests pin as an output, initially low.
func NewRealOutput(chipName string, pin int) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	return &RealOutput{chip: chip, line: line, pin: pin}, nil
}

// Set drives the line.
func (o *RealOutput) Set(high bool) error {
	v := 0
	if high {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", o.pin, err)
	}
	return nil
}

// Close drives the line low, then returns it to an input with pull-down
// (matching Pi boot defaults) so the incline motor cannot be left running.
func (o *RealOutput) Close() error {
	var errs []error
	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("deassert pin %d: %w", o.pin, err))
	}
	if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", o.pin, err))
	}
	if err := closeLines(o.chip, o.line); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func closeLines(chip *gpiocdev.Chip, lines ...*gpiocdev.Line) error {
	var errs []error
	for _, l := range lines {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if chip != nil {
		if err := chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
