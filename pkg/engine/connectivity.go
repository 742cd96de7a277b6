package engine

import (
	"context"

	"github.com/aretw0/lifecycle"
)

// handleConnectivity reacts to connectivity transitions. Coming back
// online flushes unsynced metadata immediately and re-arms repository
// timers; going offline needs nothing since every flush checks first.
func (e *Engine) handleConnectivity(online bool) {
	if !online {
		e.logger.Info("offline, remote syncing suspended")
		return
	}
	e.logger.Info("online, flushing unsynced notes")

	for _, s := range e.openSessions() {
		s.mu.Lock()
		meta, repo := s.metaDirty, s.repoDirty
		s.mu.Unlock()

		if repo {
			e.repoTimers.Reset(s.id)
		}
		if meta {
			e.metaTimers.Cancel(s.id)
			lifecycle.Go(e.ctx, func(ctx context.Context) error {
				s.flushMetadata(ctx)
				return nil
			})
		}
	}
}
