package buttons

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/trip-computer/internal/state"
)

// StepMeters is the stage distance adjustment of one INC/DEC step.
const StepMeters = 10.0

// Store is the part of the state store the buttons act on.
type Store interface {
	AddToStageDistance(m float64)
	ResetStageDistance()
	Page() uint8
	SetPage(p uint8)
}

// Levels reports whether a button is currently pressed.
type Levels interface {
	Pressed() bool
}

// Controller applies classified presses to the store.
//
//	INC  click / long start / hold   stage +10 m
//	DEC  click / long start / hold   stage -10 m
//	MENU click                       next page
//	MENU long start                  reset stage distance
type Controller struct {
	store Store

	mu         sync.Mutex // guards classifier; Counts is read by the status loop
	classifier *Classifier
}

// NewController creates a controller.
func NewController(store Store, timing Timing) *Controller {
	return &Controller{store: store, classifier: NewClassifier(timing)}
}

// Process classifies one sample and applies the resulting events.
func (c *Controller) Process(in Input) []Event {
	c.mu.Lock()
	events := c.classifier.Process(in)
	c.mu.Unlock()
	for _, e := range events {
		c.Apply(e)
	}
	return events
}

// Apply performs the store action of one event.
func (c *Controller) Apply(e Event) {
	switch e.Button {
	case Increment:
		c.store.AddToStageDistance(StepMeters)
	case Decrement:
		c.store.AddToStageDistance(-StepMeters)
	case Menu:
		switch e.Type {
		case EventClick:
			c.store.SetPage((c.store.Page() + 1) % state.PageCount)
		case EventLongStart:
			c.store.ResetStageDistance()
		}
	}
}

// Counts returns the number of events classified since creation.
func (c *Controller) Counts() EventCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Counts()
}

// Run samples the three buttons on every tick until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, tick <-chan time.Time, inc, dec, menu Levels) {
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick:
			c.Process(Input{
				Inc:  inc.Pressed(),
				Dec:  dec.Pressed(),
				Menu: menu.Pressed(),
				Time: now,
			})
		}
	}
}
