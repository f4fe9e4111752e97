//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWatcher watches a line of a Linux GPIO character device.
type RealWatcher struct {
	line *gpiocdev.Line
	pin  int
}

// NewRealWatcher requests pin on chip as a pulled-up input with edge
// detection and calls h for every event.
func NewRealWatcher(chip string, pin int, opts Options, h Handler) (*RealWatcher, error) {
	reqOpts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			h(Edge{
				Rising:    evt.Type == gpiocdev.LineEventRisingEdge,
				Timestamp: evt.Timestamp,
			})
		}),
	}

	switch opts.Edges {
	case RisingEdge:
		reqOpts = append(reqOpts, gpiocdev.WithRisingEdge)
	case BothEdges:
		reqOpts = append(reqOpts, gpiocdev.WithBothEdges)
	default:
		reqOpts = append(reqOpts, gpiocdev.WithFallingEdge)
	}
	if opts.ActiveLow {
		reqOpts = append(reqOpts, gpiocdev.AsActiveLow)
	}
	if opts.Debounce > 0 {
		reqOpts = append(reqOpts, gpiocdev.WithDebounce(opts.Debounce))
	}

	line, err := gpiocdev.RequestLine(chip, pin, reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("request pin %d on %s: %w", pin, chip, err)
	}
	return &RealWatcher{line: line, pin: pin}, nil
}

// Close releases the line.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing so the sensor does not hold it in an unexpected state at
// the next boot.
func (w *RealWatcher) Close() error {
	if w.line == nil {
		return nil
	}
	var errs []error
	if err := w.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", w.pin, err))
	}
	if err := w.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", w.pin, err))
	}
	w.line = nil

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
