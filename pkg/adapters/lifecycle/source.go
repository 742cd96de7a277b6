// Package lifecycle bridges engine events to the generic lifecycle event
// stream.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/YusukeImai797/Gitnote/pkg/engine"
)

type engineSource struct {
	events <-chan engine.Event
	filter func(engine.Event) bool
	out    chan lifecycle.Event
}

// NewSource creates a lifecycle.Source that emits engine events. A nil
// filter forwards everything.
func NewSource(events <-chan engine.Event, filter func(engine.Event) bool) lifecycle.Source {
	return &engineSource{
		events: events,
		filter: filter,
		out:    make(chan lifecycle.Event),
	}
}

func (s *engineSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *engineSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.events:
				if !ok {
					return nil
				}
				if s.filter != nil && !s.filter(e) {
					continue
				}
				// engine.Event implements lifecycle.Event (has String())
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
