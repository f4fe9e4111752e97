package buttons

import "time"

// Timing configures a Classifier. Zero values select the defaults.
type Timing struct {
	Debounce   time.Duration
	LongPress  time.Duration
	HoldRepeat time.Duration
}

// Classifier turns sampled button levels into click and long-press events.
type Classifier struct {
	timing  Timing
	buttons map[Button]*buttonState
	counts  EventCounts
}

// NewClassifier creates a classifier for the three buttons.
func NewClassifier(timing Timing) *Classifier {
	if timing.Debounce <= 0 {
		timing.Debounce = DefaultDebounce
	}
	if timing.LongPress <= 0 {
		timing.LongPress = DefaultLongPress
	}
	if timing.HoldRepeat <= 0 {
		timing.HoldRepeat = DefaultHoldRepeat
	}
	return &Classifier{
		timing: timing,
		buttons: map[Button]*buttonState{
			Increment: {},
			Decrement: {},
			Menu:      {},
		},
	}
}

// Process takes a new sample and returns the events it completes, in
// INC, DEC, MENU order.
func (c *Classifier) Process(in Input) []Event {
	var events []Event
	for _, b := range []struct {
		id      Button
		pressed bool
	}{
		{Increment, in.Inc},
		{Decrement, in.Dec},
		{Menu, in.Menu},
	} {
		for _, t := range c.processButton(c.buttons[b.id], b.pressed, in.Time) {
			events = append(events, Event{Timestamp: in.Time, Button: b.id, Type: t})
		}
	}

	for _, e := range events {
		switch e.Type {
		case EventClick:
			c.counts.Clicks++
		case EventLongStart:
			c.counts.LongStarts++
		case EventLongHold:
			c.counts.LongHolds++
		}
	}
	return events
}

// processButton debounces one level and classifies the press.
func (c *Classifier) processButton(b *buttonState, pressed bool, now time.Time) []EventType {
	if !b.Baselined {
		// A button held at start-up is ignored until it is released.
		if pressed {
			b.PendingSince = time.Time{}
			return nil
		}
		if b.PendingSince.IsZero() {
			b.PendingSince = now
			return nil
		}
		if now.Sub(b.PendingSince) >= c.timing.Debounce {
			b.Baselined = true
			b.PendingSince = time.Time{}
		}
		return nil
	}

	if pressed != b.Stable {
		if b.PendingSince.IsZero() || b.Pending != pressed {
			b.Pending = pressed
			b.PendingSince = now
		}
		if now.Sub(b.PendingSince) >= c.timing.Debounce {
			b.Stable = pressed
			b.PendingSince = time.Time{}
			return c.transition(b, now)
		}
	} else {
		b.PendingSince = time.Time{}
	}

	if b.Stable {
		return c.held(b, now)
	}
	return nil
}

func (c *Classifier) transition(b *buttonState, now time.Time) []EventType {
	if b.Stable {
		b.PressedAt = now
		b.Long = false
		return nil
	}
	// Released.
	if b.Long {
		b.Long = false
		return nil
	}
	return []EventType{EventClick}
}

func (c *Classifier) held(b *buttonState, now time.Time) []EventType {
	if !b.Long {
		if now.Sub(b.PressedAt) >= c.timing.LongPress {
			b.Long = true
			b.LastRepeat = now
			return []EventType{EventLongStart}
		}
		return nil
	}
	if now.Sub(b.LastRepeat) >= c.timing.HoldRepeat {
		b.LastRepeat = now
		return []EventType{EventLongHold}
	}
	return nil
}

// IsBaselined returns whether every button has been seen released.
func (c *Classifier) IsBaselined() bool {
	for _, b := range c.buttons {
		if !b.Baselined {
			return false
		}
	}
	return true
}

// Counts returns the number of events classified since creation.
func (c *Classifier) Counts() EventCounts {
	return c.counts
}
