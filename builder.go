package reactiveq

import (
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// Builder is the fluent SQL-builder contract QueryValue assumes of its
// collaborator: render to text, clone for refinement, and the handful of
// fluent methods Where/Limit/Offset/Paginate need to build derived
// queries.
type Builder interface {
	String() string
	Clone() Builder
	From(expr string) Builder
	Select(cols ...string) Builder
	Where(cond any, args ...any) Builder
	Limit(n uint64) Builder
	Offset(n uint64) Builder
}

// Raw splices raw predicate text into a Where call, the tagged-literal
// helper named in spec.md §6. Under the hood it is a squirrel.Sqlizer, so
// it composes with the rest of the squirrel-backed Builder unchanged.
func Raw(text string, args ...any) any {
	return squirrel.Expr(text, args...)
}

// squirrelBuilder is the default Builder, backed by Masterminds/squirrel's
// SelectBuilder.
type squirrelBuilder struct {
	sb squirrel.SelectBuilder
}

// NewBuilder returns a Builder starting from SELECT * FROM from.
func NewBuilder(from string) Builder {
	return &squirrelBuilder{
		sb: squirrel.Select("*").From(from),
	}
}

func (b *squirrelBuilder) String() string {
	text, _, err := b.sb.ToSql()
	if err != nil {
		return fmt.Sprintf("-- builder error: %v", err)
	}
	return text
}

func (b *squirrelBuilder) Clone() Builder {
	return &squirrelBuilder{sb: b.sb}
}

func (b *squirrelBuilder) From(expr string) Builder {
	return &squirrelBuilder{sb: b.sb.From(expr)}
}

func (b *squirrelBuilder) Select(cols ...string) Builder {
	return &squirrelBuilder{sb: b.sb.Columns(cols...)}
}

func (b *squirrelBuilder) Where(cond any, args ...any) Builder {
	return &squirrelBuilder{sb: b.sb.Where(cond, args...)}
}

func (b *squirrelBuilder) Limit(n uint64) Builder {
	return &squirrelBuilder{sb: b.sb.Limit(n)}
}

func (b *squirrelBuilder) Offset(n uint64) Builder {
	return &squirrelBuilder{sb: b.sb.Offset(n)}
}

// rawTextBuilder wraps an arbitrary input query string as
// SELECT * FROM (originalText) AS inputQuery-<rand>, per spec.md §4.4 step
// 2. Its fluent methods operate on the outer wrapper, not the wrapped
// text, matching what a caller deriving from a raw-string query expects:
// refinements apply to the whole wrapped result set.
type rawTextBuilder struct {
	inner squirrelBuilder
	alias string
}

// wrapRawText builds the inputQuery-<rand> wrapper described by spec.md
// §4.4 step 2.
func wrapRawText(originalText string) *rawTextBuilder {
	alias := "inputQuery-" + uuid.NewString()[:8]
	return &rawTextBuilder{
		inner: squirrelBuilder{sb: squirrel.Select("*").From(fmt.Sprintf("(%s) AS %s", originalText, alias))},
		alias: alias,
	}
}

func (b *rawTextBuilder) String() string {
	return b.inner.String()
}

func (b *rawTextBuilder) Clone() Builder {
	return &rawTextBuilder{inner: squirrelBuilder{sb: b.inner.sb}, alias: b.alias}
}

func (b *rawTextBuilder) From(expr string) Builder {
	return &rawTextBuilder{inner: squirrelBuilder{sb: b.inner.sb.From(expr)}, alias: b.alias}
}

func (b *rawTextBuilder) Select(cols ...string) Builder {
	return &rawTextBuilder{inner: squirrelBuilder{sb: b.inner.sb.Columns(cols...)}, alias: b.alias}
}

func (b *rawTextBuilder) Where(cond any, args ...any) Builder {
	return &rawTextBuilder{inner: squirrelBuilder{sb: b.inner.sb.Where(cond, args...)}, alias: b.alias}
}

func (b *rawTextBuilder) Limit(n uint64) Builder {
	return &rawTextBuilder{inner: squirrelBuilder{sb: b.inner.sb.Limit(n)}, alias: b.alias}
}

func (b *rawTextBuilder) Offset(n uint64) Builder {
	return &rawTextBuilder{inner: squirrelBuilder{sb: b.inner.sb.Offset(n)}, alias: b.alias}
}
