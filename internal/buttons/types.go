// Package buttons classifies button presses and maps them to store actions.
// Classification is pure logic: no GPIO and no time.Sleep. Time is always
// injected via time.Time parameters.
package buttons

import "time"

// Button identifies a physical button.
type Button string

const (
	Increment Button = "INC"
	Decrement Button = "DEC"
	Menu      Button = "MENU"
)

// EventType is a classified press.
type EventType string

const (
	// EventClick is a press released before the long-press threshold.
	EventClick EventType = "CLICK"
	// EventLongStart fires once when a press reaches the long-press threshold.
	EventLongStart EventType = "LONG_START"
	// EventLongHold repeats while a long press is held.
	EventLongHold EventType = "LONG_HOLD"
)

// Event is one classified press of one button.
type Event struct {
	Timestamp time.Time
	Button    Button
	Type      EventType
}

// Timing of the classifier.
const (
	DefaultDebounce   = 30 * time.Millisecond
	DefaultLongPress  = 800 * time.Millisecond
	DefaultHoldRepeat = 200 * time.Millisecond

	// SampleInterval is how often button levels are sampled.
	SampleInterval = 10 * time.Millisecond
)

// Input is a single sample of the button levels (true = pressed).
type Input struct {
	Inc  bool
	Dec  bool
	Menu bool
	Time time.Time
}

// buttonState tracks debounce and press state for one button.
type buttonState struct {
	// Current stable (debounced) level
	Stable bool
	// Pending level during debounce
	Pending bool
	// Time when the pending level was first observed; zero when none
	PendingSince time.Time
	// Whether a released baseline was established
	Baselined bool

	PressedAt  time.Time
	Long       bool
	LastRepeat time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Clicks     int
	LongStarts int
	LongHolds  int
}
