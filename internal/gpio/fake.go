package gpio

import (
	"errors"
	"sync"
	"time"

	"github.com/sweeney/treadmill/internal/logic"
)

// FakeReader is a test double that returns scripted input levels.
type FakeReader struct {
	mu sync.Mutex

	// Samples contains scripted levels to return.
	// Each call to Read() consumes the next sample.
	Samples []Levels

	// index tracks current position in Samples
	index int

	// Reads counts calls to Read
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []Levels) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (Levels, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++

	if f.ReadError != nil {
		return Levels{}, f.ReadError
	}

	if len(f.Samples) == 0 {
		return Levels{}, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.Reads = 0
	f.Closed = false
}

// FakeEdges is an EdgeSource fed by the test.
type FakeEdges struct {
	ch     chan logic.Edge
	once   sync.Once
	Closed bool
}

// NewFakeEdges creates a FakeEdges with the given buffer.
func NewFakeEdges(buffer int) *FakeEdges {
	return &FakeEdges{ch: make(chan logic.Edge, buffer)}
}

// Push queues an edge for the consumer.
func (f *FakeEdges) Push(e logic.Edge) {
	f.ch <- e
}

// Edges returns the edge stream.
func (f *FakeEdges) Edges() <-chan logic.Edge {
	return f.ch
}

// Close closes the edge stream.
func (f *FakeEdges) Close() error {
	f.once.Do(func() {
		f.Closed = true
		close(f.ch)
	})
	return nil
}

// FakeOutput records the levels written to it.
type FakeOutput struct {
	mu sync.Mutex

	// History contains every value written, in order.
	History []bool

	// SetError, if set, will be returned by Set.
	SetError error

	Closed bool
}

// NewFakeOutput creates a FakeOutput that starts low.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the level.
func (f *FakeOutput) Set(high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.History = append(f.History, high)
	return nil
}

// High reports the last level written.
func (f *FakeOutput) High() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.History) > 0 && f.History[len(f.History)-1]
}

// Close drives the output low and marks it closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.History = append(f.History, false)
	f.Closed = true
	return nil
}

// FakePWM records PWM state.
type FakePWM struct {
	mu sync.Mutex

	Period  time.Duration
	Duty    float64
	Enabled bool
	Closed  bool

	// Writes contains every duty cycle written, in order.
	Writes []float64

	// Errors injected per operation, keyed by "period", "duty",
	// "read_duty", "enable", "disable" and "is_enabled".
	Errors map[string]error
}

// NewFakePWM creates a disabled FakePWM.
func NewFakePWM() *FakePWM {
	return &FakePWM{Errors: make(map[string]error)}
}

// Fail makes the named operation return err until cleared with nil.
func (f *FakePWM) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, op)
		return
	}
	f.Errors[op] = err
}

// SetPeriod records the period.
func (f *FakePWM) SetPeriod(period time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["period"]; err != nil {
		return err
	}
	f.Period = period
	return nil
}

// SetDutyCycle records the duty cycle.
func (f *FakePWM) SetDutyCycle(duty float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["duty"]; err != nil {
		return err
	}
	f.Duty = duty
	f.Writes = append(f.Writes, duty)
	return nil
}

// DutyCycle returns the last duty cycle written.
func (f *FakePWM) DutyCycle() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["read_duty"]; err != nil {
		return 0, err
	}
	return f.Duty, nil
}

// Enable turns the output on.
func (f *FakePWM) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["enable"]; err != nil {
		return err
	}
	f.Enabled = true
	return nil
}

// Disable turns the output off.
func (f *FakePWM) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["disable"]; err != nil {
		return err
	}
	f.Enabled = false
	return nil
}

// IsEnabled reports whether the output is on.
func (f *FakePWM) IsEnabled() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["is_enabled"]; err != nil {
		return false, err
	}
	return f.Enabled, nil
}

// Close disables the output and marks it closed.
func (f *FakePWM) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Enabled = false
	f.Closed = true
	return nil
}

// State returns duty and enabled under the lock.
func (f *FakePWM) State() (duty float64, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Duty, f.Enabled
}
