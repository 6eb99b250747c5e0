package reactiveq

import (
	"context"
	"fmt"
	"sync"
)

// ColumnInfo describes one column of a query's schema, as produced by a
// DESCRIBE fetch. Extra carries whatever additional fields the Runner's
// DESCRIBE rows included beyond column_name/column_type.
type ColumnInfo struct {
	Name  string
	Type  string
	Extra Row
}

// EventKind identifies one of the events a QueryValue emits.
type EventKind string

const (
	EventDataReady EventKind = "dataReady"
	// EventHighScore is reserved; nothing in this module ever emits it.
	EventHighScore EventKind = "highScore"
	EventError     EventKind = "error"
)

// MaxPublications guards against a subscriber loop that mutates observable
// state and re-triggers publication. Exposed as a variable (not a
// hardcoded constant) so tests can lower it.
var MaxPublications = 100000

// queryValue is the core reactive query entity: three SharedPromise
// facets, a sticky terminal error, subscribers, event handlers, and the
// fluent builder surface. Callers never see *queryValue directly — Create
// returns it wrapped in a *Facade.
type queryValue struct {
	originalText string
	builder      Builder
	id           string
	hash         string

	columns *SharedPromise[[]ColumnInfo]
	length  *SharedPromise[int]
	data    *SharedPromise[Rows]

	runner    Runner
	cache     *Cache
	noResolve bool

	facade *Facade

	mu           sync.Mutex
	err          error
	mockRow      Row
	subscribers  map[int]func(*Facade)
	subToken     int
	handlers     map[EventKind]map[int]func(any)
	handlerToken int
	publishCount int
}

// buildQueryValue constructs a queryValue. It never fails: the only
// failure mode (an invalid query argument) is validated by the caller
// (Cache.Create) before this is reached.
func buildQueryValue(originalText string, builder Builder, runner Runner, cache *Cache, opts ...Option) *queryValue {
	cfg := &Options{}
	for _, opt := range opts {
		opt(cfg)
	}

	hash := Fingerprint(originalText)
	id := cfg.id
	if id == "" {
		id = hash
	}

	qv := &queryValue{
		originalText: originalText,
		builder:      builder,
		id:           id,
		hash:         hash,
		runner:       runner,
		cache:        cache,
		noResolve:    cfg.noResolve,
		subscribers:  make(map[int]func(*Facade)),
		handlers:     make(map[EventKind]map[int]func(any)),
	}

	qv.columns = NewSharedPromise[[]ColumnInfo](func(s PromiseState) {
		qv.publish(fmt.Sprintf("columns promise (%s)", s))
	})
	qv.length = NewSharedPromise[int](func(s PromiseState) {
		qv.publish(fmt.Sprintf("length promise (%s)", s))
	})
	qv.data = NewSharedPromise[Rows](func(s PromiseState) {
		qv.publish(fmt.Sprintf("data promise (%s)", s))
	})

	if cfg.initialError != nil {
		qv.setError(cfg.initialError)
		return qv
	}

	if cfg.initialData != nil {
		qv.data.Start()
		qv.data.Resolve(cfg.initialData)
	}

	if cfg.knownColumns != nil {
		qv.mu.Lock()
		qv.mockRow = buildMockRow(cfg.knownColumns)
		qv.mu.Unlock()
		qv.columns.Start()
		qv.columns.Resolve(cfg.knownColumns)
	} else {
		qv.fetchColumns()
	}

	// Data is never scheduled here: it stays deferred until demanded by
	// facade access or Fetch(). Length is always scheduled, but
	// fetchLength itself skips the COUNT query when data has already
	// resolved (the WithInitialData path above).
	qv.fetchLength()

	return qv
}

func buildMockRow(cols []ColumnInfo) Row {
	row := make(Row, len(cols))
	for _, c := range cols {
		row[c.Name] = nil
	}
	return row
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (q *queryValue) refused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err != nil || q.noResolve
}

func (q *queryValue) setError(err error) {
	q.mu.Lock()
	if q.err != nil {
		q.mu.Unlock()
		return
	}
	q.err = err
	q.mu.Unlock()

	// Once an error is sticky, no facet may ever legitimately resolve:
	// force every facet that hasn't already settled onto the rejected
	// path now, so a caller blocked in Await (or one that calls it later,
	// after refused() has permanently stopped fetchColumns/fetchLength/
	// fetchData from ever starting their promise) is never left waiting
	// on a promise that would otherwise sit in init forever.
	forceReject(q.columns, err)
	forceReject(q.length, err)
	forceReject(q.data, err)

	q.emit(EventError, err)
}

// publish delivers the facade to every subscriber, outside any lock, per
// spec.md §9's re-entrancy concern: a subscriber may safely call back into
// the facade without deadlocking.
func (q *queryValue) publish(reason string) {
	q.mu.Lock()
	q.publishCount++
	if q.publishCount > MaxPublications {
		count := q.publishCount
		q.mu.Unlock()
		q.setError(&SanityLimitError{Hash: q.hash, Count: count})
		return
	}

	subs := make([]func(*Facade), 0, len(q.subscribers))
	for _, fn := range q.subscribers {
		subs = append(subs, fn)
	}
	facade := q.facade
	q.mu.Unlock()

	if facade == nil {
		return
	}
	for _, fn := range subs {
		fn(facade)
	}
}

func (q *queryValue) emit(kind EventKind, payload any) {
	q.mu.Lock()
	handlers := q.handlers[kind]
	fns := make([]func(any), 0, len(handlers))
	for _, fn := range handlers {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// fetchColumns is idempotent: it returns the existing SharedPromise
// unchanged unless it is still in init.
func (q *queryValue) fetchColumns() *SharedPromise[[]ColumnInfo] {
	if q.refused() {
		return q.columns
	}
	if !q.columns.Start() {
		return q.columns
	}

	sql := fmt.Sprintf("-- Columns %s (%s)\nDESCRIBE %s\n", q.id, q.hash, q.builder.String())
	resolveMaybeDeferred(q.runner(sql, "columns"),
		func(rows Rows, _ bool) {
			cols := make([]ColumnInfo, 0, len(rows))
			for _, r := range rows {
				ci := ColumnInfo{Extra: r}
				if n, ok := r["column_name"].(string); ok {
					ci.Name = n
				}
				if t, ok := r["column_type"].(string); ok {
					ci.Type = t
				}
				cols = append(cols, ci)
			}
			q.mu.Lock()
			q.mockRow = buildMockRow(cols)
			q.mu.Unlock()
			q.columns.Resolve(cols)
		},
		func(err error, _ bool) {
			q.setError(&RunnerError{Facet: FacetColumns, Cause: err})
		},
	)
	return q.columns
}

// fetchLength is idempotent and skips the COUNT query entirely when data
// has already resolved, per spec.md §3's length-shortcut invariant.
func (q *queryValue) fetchLength() *SharedPromise[int] {
	if q.refused() {
		return q.length
	}
	if !q.length.Start() {
		return q.length
	}

	if rows, ok := q.data.Value(); ok {
		q.length.Resolve(len(rows))
		return q.length
	}

	sql := fmt.Sprintf("-- Length %s (%s)\nSELECT COUNT(*) AS rowCount FROM (%s)\n", q.id, q.hash, q.builder.String())
	resolveMaybeDeferred(q.runner(sql, "length"),
		func(rows Rows, _ bool) {
			n := 0
			if len(rows) > 0 {
				n = toInt(rows[0]["rowCount"])
			}
			q.length.Resolve(n)
		},
		func(err error, _ bool) {
			q.setError(&RunnerError{Facet: FacetLength, Cause: err})
		},
	)
	return q.length
}

// fetchData is idempotent. Unlike columns/length it is never scheduled at
// construction; only facade access or Fetch() trigger it.
func (q *queryValue) fetchData() *SharedPromise[Rows] {
	if q.refused() {
		return q.data
	}
	if !q.data.Start() {
		return q.data
	}

	sql := fmt.Sprintf("-- Data %s %s\n%s\n", q.id, q.hash, q.builder.String())
	resolveMaybeDeferred(q.runner(sql, "data"),
		func(rows Rows, _ bool) {
			q.data.Resolve(rows)
			q.emit(EventDataReady, nil)
		},
		func(err error, _ bool) {
			q.setError(&RunnerError{Facet: FacetData, Cause: err})
		},
	)
	return q.data
}

// Fetch triggers (if not already in flight or settled) and awaits the
// data facet. Data is the one facet never scheduled at construction, so
// Fetch is how a caller demands it without going through the facade.
func (q *queryValue) Fetch() error {
	q.fetchData()
	if q.noResolve && q.Err() == nil {
		return nil
	}
	_, err := q.data.Await(context.Background())
	return err
}

// Value triggers and awaits the data facet, returning the rows or the
// terminal error. WithNoResolve without a sticky error is the one case
// fetchData leaves the data promise permanently in init (refused() is
// true but nothing will ever settle it), so Value short-circuits to the
// facet's current value rather than awaiting a promise that never
// settles; a sticky error is always handled by Await, since setError
// force-rejects every facet that hasn't already settled.
func (q *queryValue) Value() (Rows, error) {
	q.fetchData()
	if q.noResolve && q.Err() == nil {
		rows, _ := q.data.Value()
		return rows, nil
	}
	return q.data.Await(context.Background())
}

func (q *queryValue) OriginalText() string { return q.originalText }
func (q *queryValue) Text() string         { return q.builder.String() }
func (q *queryValue) ID() string           { return q.id }
func (q *queryValue) Hash() string         { return q.hash }

func (q *queryValue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *queryValue) Columns() ([]ColumnInfo, bool) { return q.columns.Value() }
func (q *queryValue) Length() (int, bool)           { return q.length.Value() }
func (q *queryValue) Data() (Rows, bool)            { return q.data.Value() }

func loadedOrRejected(s PromiseState) bool {
	return s == StateResolved || s == StateRejected
}

func (q *queryValue) ColumnsLoaded() bool  { return loadedOrRejected(q.columns.State()) }
func (q *queryValue) ColumnsLoading() bool { return q.columns.State() == StateLoading }
func (q *queryValue) LengthLoaded() bool   { return loadedOrRejected(q.length.State()) }
func (q *queryValue) LengthLoading() bool  { return q.length.State() == StateLoading }
func (q *queryValue) DataLoaded() bool     { return loadedOrRejected(q.data.State()) }
func (q *queryValue) DataLoading() bool    { return q.data.State() == StateLoading }

// Ready reports whether all three facets have resolved.
func (q *queryValue) Ready() bool {
	return q.columns.State() == StateResolved &&
		q.length.State() == StateResolved &&
		q.data.State() == StateResolved
}

// Loading reports whether any facet is currently in flight.
func (q *queryValue) Loading() bool {
	return q.columns.State() == StateLoading ||
		q.length.State() == StateLoading ||
		q.data.State() == StateLoading
}

// IsQuery is the structural identity marker named in spec.md §4.5.
func (q *queryValue) IsQuery() bool { return true }

// Subscribe registers fn for every facet state transition; it is called
// with the facade, never the bare queryValue. Returns an unsubscribe
// function.
func (q *queryValue) Subscribe(fn func(*Facade)) func() {
	q.mu.Lock()
	token := q.subToken
	q.subToken++
	q.subscribers[token] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subscribers, token)
		q.mu.Unlock()
	}
}

// On registers fn for the given event and returns a token for Off.
func (q *queryValue) On(kind EventKind, fn func(any)) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	token := q.handlerToken
	q.handlerToken++
	if q.handlers[kind] == nil {
		q.handlers[kind] = make(map[int]func(any))
	}
	q.handlers[kind][token] = fn
	return token
}

// Off removes the handler registered under token for kind.
func (q *queryValue) Off(kind EventKind, token int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.handlers[kind], token)
}

func (q *queryValue) AddEventListener(kind EventKind, fn func(any)) int { return q.On(kind, fn) }
func (q *queryValue) RemoveEventListener(kind EventKind, token int)     { q.Off(kind, token) }

// Where clones the underlying builder, applies cond, and delegates to the
// cache with the currently known columns (if any) as knownColumns.
func (q *queryValue) Where(cond any, args ...any) *Facade {
	return q.derive(func(b Builder) Builder { return b.Where(cond, args...) })
}

// Limit clones the underlying builder, applies n, and delegates to the
// cache the same way Where does.
func (q *queryValue) Limit(n uint64) *Facade {
	return q.derive(func(b Builder) Builder { return b.Limit(n) })
}

// Offset clones the underlying builder, applies n, and delegates to the
// cache the same way Where does.
func (q *queryValue) Offset(n uint64) *Facade {
	return q.derive(func(b Builder) Builder { return b.Offset(n) })
}

// Paginate is Offset(offset).Limit(n) collapsed into a single derived
// query.
func (q *queryValue) Paginate(offset, n uint64) *Facade {
	return q.derive(func(b Builder) Builder { return b.Offset(offset).Limit(n) })
}

func (q *queryValue) derive(refine func(Builder) Builder) *Facade {
	refined := refine(q.builder.Clone())

	var opts []Option
	if cols, ok := q.columns.Value(); ok {
		opts = append(opts, WithKnownColumns(cols))
	}

	// refined is always a Builder, so Create cannot hit the
	// ConstructionError branch here.
	facade, _ := q.cache.Create(refined, q.runner, opts...)
	q.cache.recordDerivation(q.hash, facade.Hash())
	return facade
}
