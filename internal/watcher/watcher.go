// Package watcher runs the input side of the treadmill: it samples or
// receives pin transitions, debounces them with a logic.Detector and hands
// the resulting InputEvents to the controller.
package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sweeney/treadmill/internal/gpio"
	"github.com/sweeney/treadmill/internal/logic"
	"github.com/sweeney/treadmill/internal/treadmill"
)

// Config holds watcher settings.
type Config struct {
	// Poll is the sampling interval in polling mode.
	Poll time.Duration
	// Detector holds the debounce thresholds.
	Detector logic.Config
}

// DefaultConfig returns polling at 10ms with the stock debounce thresholds.
func DefaultConfig() Config {
	return Config{
		Poll:     10 * time.Millisecond,
		Detector: logic.DefaultConfig(),
	}
}

// Watcher owns the input pins for the lifetime of Run. Pulse sends never
// block: a full channel drops the pulse. Safety key transitions wait for
// the controller until ctx is done.
type Watcher struct {
	cfg      Config
	detector *logic.Detector
	now      func() time.Time

	mu      sync.Mutex
	counts  logic.Counts
	dropped int
}

// New creates a Watcher.
func New(cfg Config) *Watcher {
	return &Watcher{
		cfg:      cfg,
		detector: logic.NewDetector(cfg.Detector),
		now:      time.Now,
	}
}

// Poll samples reader on every tick until ctx is done. out is closed when
// Poll returns. Read errors are logged and the sample skipped.
func (w *Watcher) Poll(ctx context.Context, reader gpio.Reader, tick <-chan time.Time, out chan<- treadmill.InputEvent) error {
	defer close(out)
	log.Printf("watcher: polling every %v", w.cfg.Poll)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			lv, err := reader.Read()
			if err != nil {
				log.Printf("watcher: gpio read error: %v", err)
				continue
			}
			events := w.detector.Process(logic.Sample{
				Speed:   lv.Speed,
				Incline: lv.Incline,
				Safety:  lv.Safety,
				Time:    w.now(),
			})
			w.emit(ctx, events, out)
		}
	}
}

// Run polls reader at the configured interval.
func (w *Watcher) Run(ctx context.Context, reader gpio.Reader, out chan<- treadmill.InputEvent) error {
	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()
	return w.Poll(ctx, reader, ticker.C, out)
}

// Edges consumes interrupt-reported transitions until ctx is done or the
// source closes. initial seeds the baseline. out is closed on return.
func (w *Watcher) Edges(ctx context.Context, initial gpio.Levels, src gpio.EdgeSource, out chan<- treadmill.InputEvent) error {
	defer close(out)
	log.Printf("watcher: using edge interrupts")

	w.emit(ctx, w.detector.Baseline(logic.Sample{
		Speed:   initial.Speed,
		Incline: initial.Incline,
		Safety:  initial.Safety,
		Time:    w.now(),
	}), out)

	edges := src.Edges()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-edges:
			if !ok {
				log.Printf("watcher: edge source closed")
				return nil
			}
			w.emit(ctx, w.detector.Edge(e), out)
		}
	}
}

func (w *Watcher) emit(ctx context.Context, events []treadmill.InputEvent, out chan<- treadmill.InputEvent) {
	dropped := 0
	for _, e := range events {
		if isSafety(e.Kind) {
			select {
			case out <- e:
			case <-ctx.Done():
				dropped++
			}
			continue
		}
		select {
		case out <- e:
		default:
			dropped++
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts = w.detector.Counts()
	if dropped > 0 {
		if w.dropped == 0 {
			log.Printf("watcher: controller not keeping up, dropping input events")
		}
		w.dropped += dropped
	}
}

func isSafety(k treadmill.InputKind) bool {
	return k == treadmill.InputSafetyKeyRemoved || k == treadmill.InputSafetyKeyInserted
}

// Counts returns detector activity since startup.
func (w *Watcher) Counts() logic.Counts {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts
}

// Dropped returns how many input events were discarded on a full channel.
func (w *Watcher) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}
