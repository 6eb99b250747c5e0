package reactiveq

// Options configures a QueryValue's construction. Built up via the
// functional Option pattern, mirroring the teacher's ScopeOption/
// ExecutorOption shape.
type Options struct {
	id           string
	initialData  Rows
	knownColumns []ColumnInfo
	initialError error
	disableCache bool
	noResolve    bool
}

// Option modifies Options during Create.
type Option func(*Options)

// WithID sets the diagnostic label embedded in rendered facet queries. If
// unset, the query's hash is used instead.
func WithID(id string) Option {
	return func(o *Options) { o.id = id }
}

// WithInitialData seeds the data facet as already resolved, and (absent a
// separate length fetch) derives length from len(rows) with no COUNT
// query ever issued.
func WithInitialData(rows Rows) Option {
	return func(o *Options) { o.initialData = rows }
}

// WithKnownColumns seeds the columns facet as already resolved, so the
// constructed QueryValue never issues a DESCRIBE. Used by Where/Limit/
// Offset/Paginate to propagate schema knowledge to derived queries.
func WithKnownColumns(cols []ColumnInfo) Option {
	return func(o *Options) { o.knownColumns = cols }
}

// WithInitialError seeds the QueryValue as already failed: no fetch is
// ever scheduled, and every facet is rejected with err at construction.
func WithInitialError(err error) Option {
	return func(o *Options) { o.initialError = err }
}

// WithDisableCache constructs the QueryValue without inserting it into
// (or reading it from) the process-wide cache.
func WithDisableCache() Option {
	return func(o *Options) { o.disableCache = true }
}

// WithNoResolve refuses every fetch operation unconditionally, as if an
// error were already set, without actually setting one.
func WithNoResolve() Option {
	return func(o *Options) { o.noResolve = true }
}
