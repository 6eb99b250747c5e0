// Package extensions provides optional, opt-in observability for
// reactiveq query values: a logging subscriber and a slog.Handler that
// renders the query derivation graph on errors. Neither is wired into the
// core — QueryValue stays log-agnostic, matching spec.md §1's framing of
// logging as an external collaborator.
package extensions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ducklens/reactiveq"
)

// NewLoggingSubscriber returns a Subscribe-compatible callback that logs
// every facet state transition at Debug level: hash, whether each facet
// is ready, and how long has elapsed since the facade last changed.
// Directly adapted from LoggingExtension.Wrap's timing/outcome logging in
// the teacher, converted from a middleware "wrap a call" model to this
// library's publish/subscribe model. Distinct facets of the same query
// can settle on distinct goroutines (resolveMaybeDeferred spawns one per
// deferred facet), so the same subscriber closure may be entered
// concurrently for the same facade; lastSeen is guarded accordingly.
func NewLoggingSubscriber(logger *slog.Logger) func(*reactiveq.Facade) {
	var mu sync.Mutex
	lastSeen := map[string]time.Time{}

	return func(f *reactiveq.Facade) {
		now := time.Now()
		since := time.Duration(0)

		mu.Lock()
		if prev, ok := lastSeen[f.Hash()]; ok {
			since = now.Sub(prev)
		}
		lastSeen[f.Hash()] = now
		mu.Unlock()

		logger.Debug("reactiveq state change",
			"hash", f.Hash(),
			"id", f.ID(),
			"ready", f.Ready(),
			"loading", f.Loading(),
			"columnsLoaded", f.ColumnsLoaded(),
			"lengthLoaded", f.LengthLoaded(),
			"dataLoaded", f.DataLoaded(),
			"sinceLast", since,
		)

		if err := f.Err(); err != nil {
			logger.Error("reactiveq facet error", "hash", f.Hash(), "error", err)
		}
	}
}
