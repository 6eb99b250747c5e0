package reactiveq

import (
	"fmt"
	"iter"
)

// Facade is the array-like wrapper Create returns. It embeds *queryValue,
// so every exported method on queryValue (Subscribe, On/Off, Where/Limit/
// Offset/Paginate, Ready/Loading, the *Loaded/*Loading accessors, Value,
// Fetch, ...) is available directly on *Facade. This file adds the
// indexable/iterable surface spec.md §4.5 describes as property
// interception: Go has no such mechanism, so it is rendered as the two
// coherent interfaces spec.md §9 calls for — an indexable view that
// triggers lazy loads, plus the explicit API above.
type Facade struct {
	*queryValue
}

// Len triggers the length fetch if it hasn't started, then returns the
// currently known length (0 if it hasn't resolved yet). It never blocks:
// like property access on the JS source, it is a snapshot, not an await.
func (f *Facade) Len() int {
	f.queryValue.fetchLength()
	n, _ := f.queryValue.length.Value()
	return n
}

// At triggers the data fetch if it hasn't started, then returns:
//   - the real row, if data has resolved and i is in range
//   - the mockRow placeholder, if i is within the known length but data
//     has not resolved yet
//   - nil (the Go analogue of undefined), otherwise
//
// It never waits on a deferred fetch, matching spec.md §8's mockRow
// testable property. With a Runner that settles immediately, the first
// call runs the data query inline and returns the real row.
func (f *Facade) At(i int) Row {
	f.queryValue.fetchData()

	if rows, ok := f.queryValue.data.Value(); ok {
		if i >= 0 && i < len(rows) {
			return rows[i]
		}
		return nil
	}

	if n, ok := f.queryValue.length.Value(); ok && i >= 0 && i < n {
		return f.queryValue.mockRowSnapshot()
	}

	return nil
}

// Rows triggers the data fetch and blocks until it settles, returning the
// full row set or the terminal error. This is the explicit "await" entry
// point the facade's non-blocking Len/At deliberately avoid being.
func (f *Facade) Rows() (Rows, error) {
	return f.queryValue.Value()
}

// All ranges over the resolved rows, blocking on first iteration exactly
// as Rows does.
func (f *Facade) All() iter.Seq2[int, Row] {
	return func(yield func(int, Row) bool) {
		rows, err := f.queryValue.Value()
		if err != nil {
			return
		}
		for i, row := range rows {
			if !yield(i, row) {
				return
			}
		}
	}
}

// String renders whatever rows are currently resolved, without triggering
// a fetch — the facade rule for the "toString" key (spec.md §4.5 rule 4).
func (f *Facade) String() string {
	rows, _ := f.queryValue.data.Value()
	return fmt.Sprintf("%v", rows)
}

func (q *queryValue) mockRowSnapshot() Row {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(Row, len(q.mockRow))
	for k, v := range q.mockRow {
		out[k] = v
	}
	return out
}

// queryIdentifier is the structural marker IsQuery checks for, per
// spec.md §4.5's instruction that identity be duck-typed rather than
// relying on a concrete type assertion.
type queryIdentifier interface {
	IsQuery() bool
}

// IsQuery reports whether x is a reactiveq query value, checked
// structurally so it survives boundary-crossing between packages.
func IsQuery(x any) bool {
	q, ok := x.(queryIdentifier)
	return ok && q.IsQuery()
}
