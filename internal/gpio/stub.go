//go:build !linux

package gpio

import (
	"errors"
	"time"

	"github.com/sweeney/treadmill/internal/logic"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(Pins) (*RealReader, error) { return nil, errUnsupported }

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (Levels, error) { return Levels{}, errUnsupported }

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error { return nil }

// RealEdges is not available on non-Linux platforms.
type RealEdges struct{}

// NewRealEdges returns an error on non-Linux platforms.
func NewRealEdges(Pins, int) (*RealEdges, error) { return nil, errUnsupported }

// Initial is not implemented on non-Linux platforms.
func (e *RealEdges) Initial() (Levels, error) { return Levels{}, errUnsupported }

// Edges returns nil on non-Linux platforms.
func (e *RealEdges) Edges() <-chan logic.Edge { return nil }

// Close is not implemented on non-Linux platforms.
func (e *RealEdges) Close() error { return nil }

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(string, int) (*RealOutput, error) { return nil, errUnsupported }

// Set is not implemented on non-Linux platforms.
func (o *RealOutput) Set(bool) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (o *RealOutput) Close() error { return nil }

// SysfsPWM is not available on non-Linux platforms.
type SysfsPWM struct{}

// NewSysfsPWM returns an error on non-Linux platforms.
func NewSysfsPWM(string, int) (*SysfsPWM, error) { return nil, errUnsupported }

// SetPeriod is not implemented on non-Linux platforms.
func (p *SysfsPWM) SetPeriod(time.Duration) error { return errUnsupported }
func (p *SysfsPWM) SetDutyCycle(float64) error    { return errUnsupported }
func (p *SysfsPWM) DutyCycle() (float64, error)   { return 0, errUnsupported }
func (p *SysfsPWM) Enable() error                 { return errUnsupported }
func (p *SysfsPWM) Disable() error                { return errUnsupported }
func (p *SysfsPWM) IsEnabled() (bool, error)      { return false, errUnsupported }
func (p *SysfsPWM) Close() error                  { return nil }
