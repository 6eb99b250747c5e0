// Package reactiveq provides a reactive, lazily-evaluated SQL query value for
// embedded analytical workloads (DuckDB in mind, any database/sql-shaped
// Runner in practice).
//
// # Overview
//
// A QueryValue has three independently-fetched facets:
//
//  1. Columns: the DESCRIBE output for the query
//  2. Length: the row count
//  3. Data: the rows themselves
//
// Each facet is a SharedPromise: concurrent callers observing the same facet
// share one in-flight runner call. Callers normally never see a QueryValue
// directly — Create returns a *Facade, an array-like wrapper that triggers
// the right fetch on the right access.
//
// # Basic Usage
//
//	cache := reactiveq.NewCache()
//	q, err := cache.Create("SELECT * FROM events", runner)
//	if err != nil {
//	    // construction error: bad query argument
//	}
//
//	n := q.Len()          // triggers the length fetch, returns the current snapshot (non-blocking)
//	row := q.At(0)         // triggers the data fetch, returns a mockRow placeholder until it settles
//	rows, err := q.Rows()  // triggers the data fetch and blocks until it settles
//
// # Subscribing
//
// Facade is a reactive store: Subscribe is called once per facet state
// transition, delivering the same *Facade back to the callback.
//
//	unsubscribe := q.Subscribe(func(f *reactiveq.Facade) {
//	    fmt.Println("state changed:", f.Ready())
//	})
//	defer unsubscribe()
//
// # Events
//
// Facade is also an event emitter for dataReady, error, and the reserved
// (unused) highScore event:
//
//	q.On(reactiveq.EventDataReady, func(any) {
//	    fmt.Println("data ready")
//	})
//
// # Derived queries
//
// Where/Limit/Offset/Paginate clone the underlying Builder, refine it, and
// delegate to Create with the current columns passed as knownColumns, so a
// derived query never re-issues a DESCRIBE for schema already known:
//
//	recent := q.Where(reactiveq.Raw("ts > ?", cutoff)).Limit(100)
package reactiveq
