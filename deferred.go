package reactiveq

// Row is a single result row: column name to cell value.
type Row map[string]any

// Rows is an ordered sequence of result rows, as returned by a Runner.
type Rows []Row

// RunnerOutcome is what a deferred Runner call delivers once it completes.
type RunnerOutcome struct {
	Rows Rows
	Err  error
}

// RunnerResult is what a Runner returns. If Pending is nil the result is
// already settled (Rows/Err are final); if Pending is non-nil the caller
// must receive exactly once from it to learn the outcome.
type RunnerResult struct {
	Rows    Rows
	Err     error
	Pending <-chan RunnerOutcome
}

// Immediate wraps an already-available result, the synchronous branch of
// MaybeDeferred.
func Immediate(rows Rows, err error) RunnerResult {
	return RunnerResult{Rows: rows, Err: err}
}

// Deferred wraps a channel that will deliver exactly one RunnerOutcome, the
// asynchronous branch of MaybeDeferred. Runner implementations build the
// channel; fetch callers use resolveMaybeDeferred, never the channel
// directly.
func Deferred(pending <-chan RunnerOutcome) RunnerResult {
	return RunnerResult{Pending: pending}
}

// Runner executes sqlText (labeled for diagnostics) against the backing
// engine and returns its rows, immediately or deferred. The core treats
// whatever rows the Runner returns as authoritative; it imposes no
// ordering guarantee on them.
type Runner func(sqlText, label string) RunnerResult

// resolveMaybeDeferred bridges a RunnerResult that may already be settled
// or may still be in flight. If res is immediate, the right handler runs
// synchronously on the calling goroutine, preserving synchrony so a
// cached/in-memory Runner never forces an extra goroutine hop. If res is
// deferred, exactly one goroutine is spawned to await it and invoke the
// right handler with wasDeferred=true.
func resolveMaybeDeferred(
	res RunnerResult,
	onOk func(rows Rows, wasDeferred bool),
	onErr func(err error, wasDeferred bool),
) {
	if res.Pending == nil {
		if res.Err != nil {
			onErr(res.Err, false)
			return
		}
		onOk(res.Rows, false)
		return
	}

	go func() {
		outcome := <-res.Pending
		if outcome.Err != nil {
			onErr(outcome.Err, true)
			return
		}
		onOk(outcome.Rows, true)
	}()
}
