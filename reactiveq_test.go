package reactiveq

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// awaitWithTimeout runs fn and fails the test if it hasn't returned within
// d, so a regression that reintroduces a hang fails fast instead of
// blocking the test run forever.
func awaitWithTimeout(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("timed out after %s, expected fn to return", d)
	}
}

// stubRunner returns a Runner that answers each facet immediately (no
// deferral) from the given rows/errors, and counts how many times each
// label was invoked so coalescing can be asserted on.
func stubRunner(columnsRows, lengthRows, dataRows Rows, columnsErr, lengthErr, dataErr error) (Runner, *callCounts) {
	counts := &callCounts{}
	runner := func(sqlText, label string) RunnerResult {
		switch label {
		case "columns":
			counts.columns.Add(1)
			return Immediate(columnsRows, columnsErr)
		case "length":
			counts.length.Add(1)
			return Immediate(lengthRows, lengthErr)
		case "data":
			counts.data.Add(1)
			return Immediate(dataRows, dataErr)
		default:
			return Immediate(nil, nil)
		}
	}
	return runner, counts
}

type callCounts struct {
	columns atomic.Int32
	length  atomic.Int32
	data    atomic.Int32
}

func TestEmptyResult(t *testing.T) {
	runner, counts := stubRunner(
		Rows{{"column_name": "?column?", "column_type": "INTEGER"}},
		Rows{{"rowCount": 0}},
		Rows{},
		nil, nil, nil,
	)

	q, err := NewDirect("SELECT 1 WHERE FALSE", runner)
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}

	if err := q.Fetch(); err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if !q.Ready() {
		t.Fatalf("expected query to be ready")
	}
	if n := q.Len(); n != 0 {
		t.Fatalf("expected length 0, got %d", n)
	}
	cols, _ := q.Columns()
	if len(cols) != 1 {
		t.Fatalf("expected 1 column, got %d", len(cols))
	}
	rows, err := q.Rows()
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected 0 rows, got %v err=%v", rows, err)
	}
	if counts.columns.Load() != 1 || counts.length.Load() != 1 || counts.data.Load() != 1 {
		t.Fatalf("expected exactly one call per facet, got %+v", counts)
	}
}

func TestSynchronousRunnerSettlesAtConstruction(t *testing.T) {
	runner, _ := stubRunner(
		Rows{{"column_name": "a", "column_type": "INTEGER"}},
		Rows{{"rowCount": 2}},
		Rows{{"a": 1}, {"a": 2}},
		nil, nil, nil,
	)

	q, err := NewDirect("SELECT a FROM t", runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !q.ColumnsLoaded() || !q.LengthLoaded() {
		t.Fatalf("expected columns and length already resolved synchronously at construction")
	}
	if q.Len() != 2 {
		t.Fatalf("expected length 2, got %d", q.Len())
	}
	cols, _ := q.Columns()
	if cols[0].Name != "a" {
		t.Fatalf("expected column a, got %+v", cols)
	}

	row := q.At(0)
	if row == nil || row["a"] != 1 {
		t.Fatalf("expected row {a:1}, got %v", row)
	}
}

func TestDeferredDataTriggersMockRowThenSettles(t *testing.T) {
	pending := make(chan RunnerOutcome, 1)
	runner := func(sqlText, label string) RunnerResult {
		switch label {
		case "columns":
			return Immediate(Rows{{"column_name": "a", "column_type": "INTEGER"}}, nil)
		case "length":
			return Immediate(Rows{{"rowCount": 1}}, nil)
		case "data":
			return Deferred(pending)
		}
		return Immediate(nil, nil)
	}

	q, err := NewDirect("SELECT a FROM t", runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var dataReadyCount int32
	q.On(EventDataReady, func(any) {
		atomic.AddInt32(&dataReadyCount, 1)
	})

	row := q.At(0) // triggers the data fetch, data not yet resolved
	if row == nil || row["a"] != nil {
		t.Fatalf("expected mockRow with nil value, got %v", row)
	}
	if !q.DataLoading() {
		t.Fatalf("expected dataLoading true before settlement")
	}

	pending <- RunnerOutcome{Rows: Rows{{"a": 1}}}
	rows, err := q.Rows()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0]["a"] != 1 {
		t.Fatalf("expected [{a:1}], got %v", rows)
	}
	if atomic.LoadInt32(&dataReadyCount) != 1 {
		t.Fatalf("expected dataReady to fire exactly once, got %d", dataReadyCount)
	}
}

func TestInitialDataSkipsDataAndLengthQueries(t *testing.T) {
	runner, counts := stubRunner(
		Rows{{"column_name": "a", "column_type": "INTEGER"}},
		Rows{{"rowCount": 999}}, // would prove the length query ran, if it did
		Rows{{"a": "should not be used"}},
		nil, nil, nil,
	)

	q, err := NewDirect("SELECT a FROM t", runner, WithInitialData(Rows{{"a": 1}, {"a": 2}}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !q.DataLoaded() {
		t.Fatalf("expected data already loaded")
	}
	if n := q.Len(); n != 2 {
		t.Fatalf("expected length 2 from initialData, got %d", n)
	}
	if counts.length.Load() != 0 {
		t.Fatalf("expected zero length queries, got %d", counts.length.Load())
	}
	if counts.data.Load() != 0 {
		t.Fatalf("expected zero data queries, got %d", counts.data.Load())
	}
	if q.At(0)["a"] != 1 {
		t.Fatalf("expected row 0 a=1, got %v", q.At(0))
	}
}

func TestErrorPropagationAndStickiness(t *testing.T) {
	cause := errors.New("runner exploded")
	runner, counts := stubRunner(
		Rows{{"column_name": "a", "column_type": "INTEGER"}},
		Rows{{"rowCount": 1}},
		nil, nil, nil, cause,
	)

	q, err := NewDirect("SELECT a FROM t", runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var errEvents int32
	q.On(EventError, func(any) { atomic.AddInt32(&errEvents, 1) })

	fetchErr := q.Fetch()
	if fetchErr == nil {
		t.Fatalf("expected fetch error")
	}
	if !q.DataLoaded() {
		t.Fatalf("expected dataLoaded true even though rejected")
	}
	if q.Err() == nil {
		t.Fatalf("expected q.Err() to be set")
	}
	if atomic.LoadInt32(&errEvents) != 1 {
		t.Fatalf("expected exactly one error event, got %d", errEvents)
	}

	secondErr := q.Fetch()
	if !errors.Is(secondErr, cause) {
		t.Fatalf("expected second fetch to surface the same sticky error, got %v", secondErr)
	}
	if counts.data.Load() != 1 {
		t.Fatalf("expected exactly one data call despite two Fetch calls, got %d", counts.data.Load())
	}
}

func TestWithInitialErrorNeverHangsFetch(t *testing.T) {
	cause := errors.New("precomputed failure")
	runner, counts := stubRunner(
		Rows{{"column_name": "a", "column_type": "INTEGER"}},
		Rows{{"rowCount": 1}},
		Rows{{"a": 1}},
		nil, nil, nil,
	)

	q, err := NewDirect("SELECT a FROM t", runner, WithInitialError(cause))
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}

	awaitWithTimeout(t, time.Second, func() {
		if fetchErr := q.Fetch(); !errors.Is(fetchErr, cause) {
			t.Errorf("expected Fetch to surface %v, got %v", cause, fetchErr)
		}
	})

	awaitWithTimeout(t, time.Second, func() {
		rows, rowsErr := q.Rows()
		if !errors.Is(rowsErr, cause) {
			t.Errorf("expected Rows to surface %v, got %v", cause, rowsErr)
		}
		if rows != nil {
			t.Errorf("expected no rows, got %v", rows)
		}
	})

	if counts.columns.Load() != 0 || counts.length.Load() != 0 || counts.data.Load() != 0 {
		t.Fatalf("expected zero runner calls when constructed with an initial error, got %+v", counts)
	}
}

func TestErrorOnOneFacetUnblocksFetchOnAnother(t *testing.T) {
	cause := errors.New("DESCRIBE failed")
	runner := func(sqlText, label string) RunnerResult {
		switch label {
		case "columns":
			return Immediate(nil, cause)
		case "length":
			return Immediate(Rows{{"rowCount": 0}}, nil)
		default:
			// data is never answered: if the sticky error from columns
			// didn't force-reject it, awaiting it here would hang forever.
			return Deferred(make(chan RunnerOutcome))
		}
	}

	q, err := NewDirect("SELECT a FROM t", runner)
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}

	if q.Err() == nil {
		t.Fatalf("expected the columns failure to have set a sticky error already")
	}

	awaitWithTimeout(t, time.Second, func() {
		if _, rowsErr := q.Rows(); !errors.Is(rowsErr, cause) {
			t.Errorf("expected Rows to surface the columns facet's error, got %v", rowsErr)
		}
	})

	awaitWithTimeout(t, time.Second, func() {
		if fetchErr := q.Fetch(); !errors.Is(fetchErr, cause) {
			t.Errorf("expected Fetch to surface the columns facet's error, got %v", fetchErr)
		}
	})
}

func TestWithNoResolveNeverHangsFetch(t *testing.T) {
	runner, counts := stubRunner(
		Rows{{"column_name": "a", "column_type": "INTEGER"}},
		Rows{{"rowCount": 1}},
		Rows{{"a": 1}},
		nil, nil, nil,
	)

	q, err := NewDirect("SELECT a FROM t", runner, WithNoResolve())
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}

	awaitWithTimeout(t, time.Second, func() {
		if fetchErr := q.Fetch(); fetchErr != nil {
			t.Errorf("expected a nil-error no-op, got %v", fetchErr)
		}
	})

	if counts.columns.Load() != 0 || counts.data.Load() != 0 {
		t.Fatalf("expected WithNoResolve to prevent every fetch, got %+v", counts)
	}
}

func TestDerivedQuerySchemaReuse(t *testing.T) {
	cache := NewCache()
	runner, counts := stubRunner(
		Rows{{"column_name": "x", "column_type": "INTEGER"}},
		Rows{{"rowCount": 5}},
		Rows{{"x": 1}},
		nil, nil, nil,
	)

	q, err := cache.Create("SELECT x FROM t", runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := q.Columns(); !ok {
		t.Fatalf("expected columns resolved before deriving")
	}

	derived := q.Where(Raw("x > ?", 0)).Limit(10)

	if counts.columns.Load() != 1 {
		t.Fatalf("expected zero additional DESCRIBE calls for the derived query, columns called %d times", counts.columns.Load())
	}
	derivedCols, ok := derived.Columns()
	if !ok {
		t.Fatalf("expected derived query's columns to already be resolved")
	}
	origCols, _ := q.Columns()
	if len(derivedCols) != len(origCols) || derivedCols[0].Name != origCols[0].Name {
		t.Fatalf("expected derived columns to equal original, got %+v vs %+v", derivedCols, origCols)
	}
	if derived.Hash() == q.Hash() {
		t.Fatalf("expected derived query to have a different hash")
	}
}

func TestCacheIdentity(t *testing.T) {
	cache := NewCache()
	runner, counts := stubRunner(
		Rows{{"column_name": "a", "column_type": "INTEGER"}},
		Rows{{"rowCount": 1}},
		Rows{{"a": 1}},
		nil, nil, nil,
	)

	a, _ := cache.Create("SELECT a FROM t", runner)
	b, _ := cache.Create("SELECT a FROM t", runner)

	if a != b {
		t.Fatalf("expected identical facade pointers for identical query text")
	}
	if counts.columns.Load() != 1 {
		t.Fatalf("expected the second Create to reuse the cached query, columns called %d times", counts.columns.Load())
	}
}

func TestDisableCacheBypassesReuse(t *testing.T) {
	cache := NewCache()
	runner, _ := stubRunner(
		Rows{{"column_name": "a", "column_type": "INTEGER"}},
		Rows{{"rowCount": 1}},
		Rows{{"a": 1}},
		nil, nil, nil,
	)

	a, _ := cache.Create("SELECT a FROM t", runner, WithDisableCache())
	b, _ := cache.Create("SELECT a FROM t", runner, WithDisableCache())

	if a == b {
		t.Fatalf("expected distinct facades when cache is disabled")
	}
}

func TestCoalescingAcrossConcurrentFetchers(t *testing.T) {
	pending := make(chan RunnerOutcome, 1)
	var dataCalls atomic.Int32

	runner := func(sqlText, label string) RunnerResult {
		switch label {
		case "columns":
			return Immediate(Rows{{"column_name": "a", "column_type": "INTEGER"}}, nil)
		case "length":
			return Immediate(Rows{{"rowCount": 1}}, nil)
		case "data":
			dataCalls.Add(1)
			return Deferred(pending)
		}
		return Immediate(nil, nil)
	}

	q, err := NewDirect("SELECT a FROM t", runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.At(0)
		}()
	}
	wg.Wait()

	pending <- RunnerOutcome{Rows: Rows{{"a": 1}}}
	if _, err := q.Rows(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dataCalls.Load() != 1 {
		t.Fatalf("expected exactly one runner invocation for data, got %d", dataCalls.Load())
	}
}

func TestConstructionErrorOnInvalidQuery(t *testing.T) {
	runner, _ := stubRunner(nil, nil, nil, nil, nil, nil)
	_, err := Create(42, runner)
	var ce *ConstructionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConstructionError, got %v", err)
	}
}

func TestSubscribeReceivesFacadeOnEveryTransition(t *testing.T) {
	runner, _ := stubRunner(
		Rows{{"column_name": "a", "column_type": "INTEGER"}},
		Rows{{"rowCount": 1}},
		Rows{{"a": 1}},
		nil, nil, nil,
	)

	q, _ := NewDirect("SELECT a FROM t", runner)

	var notified int32
	unsubscribe := q.Subscribe(func(f *Facade) {
		atomic.AddInt32(&notified, 1)
		if f != q {
			t.Errorf("expected subscriber to receive the same facade")
		}
	})
	defer unsubscribe()

	if err := q.Fetch(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Columns and length settled at construction, before Subscribe; Fetch
	// moves data through loading and resolved, one notification each.
	if n := atomic.LoadInt32(&notified); n != 2 {
		t.Fatalf("expected one notification per data transition (2), got %d", n)
	}
}

func TestIsQuery(t *testing.T) {
	runner, _ := stubRunner(
		Rows{{"column_name": "a", "column_type": "INTEGER"}},
		Rows{{"rowCount": 0}},
		Rows{},
		nil, nil, nil,
	)
	q, _ := NewDirect("SELECT a FROM t", runner)

	if !IsQuery(q) {
		t.Fatalf("expected IsQuery(q) to be true")
	}
	if IsQuery("not a query") {
		t.Fatalf("expected IsQuery on a plain string to be false")
	}
}
