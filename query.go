package annex

import (
	"context"
	"slices"
	"time"

	"github.com/hupe1980/annex/internal/search"
	"github.com/hupe1980/annex/metadata"
)

// Match is one query result.
type Match struct {
	ID string
	// Score is higher-is-better: cosine similarity, inner product, or the
	// negated euclidean distance.
	Score    float32
	Metadata map[string]any
	Vector   []float32
}

// QueryResult holds the ranked matches of a query.
type QueryResult struct {
	Matches []Match
	// Partial is set when the query hit its deadline and returned the best
	// matches found so far.
	Partial bool
	// Strategy names the execution path taken.
	Strategy string
}

type queryOptions struct {
	filterExpr   map[string]any
	filter       *metadata.Filter
	ef           int
	timeout      time.Duration
	withMetadata bool
	withVectors  bool
}

// QueryOption configures a query.
type QueryOption func(*queryOptions)

// WithFilter restricts matches to records whose metadata satisfies expr,
// written in the JSON filter dialect:
//
//	annex.WithFilter(map[string]any{
//	    "genre": map[string]any{"$eq": "comedy"},
//	    "year":  map[string]any{"$gte": 2020},
//	})
func WithFilter(expr map[string]any) QueryOption {
	return func(o *queryOptions) { o.filterExpr = expr }
}

// WithCompiledFilter restricts matches using an already compiled filter.
func WithCompiledFilter(f *metadata.Filter) QueryOption {
	return func(o *queryOptions) { o.filter = f }
}

// WithEF sets the search beam width. It must be at least k.
func WithEF(ef int) QueryOption {
	return func(o *queryOptions) { o.ef = ef }
}

// WithTimeout bounds the query. On expiry the best matches found so far
// are returned with QueryResult.Partial set.
func WithTimeout(d time.Duration) QueryOption {
	return func(o *queryOptions) { o.timeout = d }
}

// WithoutMetadata omits metadata from matches.
func WithoutMetadata() QueryOption {
	return func(o *queryOptions) { o.withMetadata = false }
}

// WithVectors includes the stored vectors in matches.
func WithVectors() QueryOption {
	return func(o *queryOptions) { o.withVectors = true }
}

// Query returns up to k records of namespace closest to vector.
//
// Fewer than k matches is a valid result (small namespace, selective
// filter). k == 0 or an explicit ef below k yields ErrInvalidQueryParams;
// a malformed filter yields a *metadata.FilterParseError.
func (c *Collection) Query(ctx context.Context, namespace string, vector []float32, k int, optFns ...QueryOption) (*QueryResult, error) {
	start := time.Now()
	res, err := c.query(ctx, namespace, vector, k, optFns)
	n := 0
	strategy := ""
	partial := false
	if res != nil {
		n = len(res.Matches)
		strategy = res.Strategy
		partial = res.Partial
	}
	c.metrics.RecordQuery(k, n, time.Since(start), err)
	c.logger.LogQuery(ctx, namespace, k, n, strategy, partial, err)
	return res, err
}

func (c *Collection) query(ctx context.Context, namespace string, vector []float32, k int, optFns []QueryOption) (*QueryResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	o := queryOptions{withMetadata: true}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	p := search.Params{
		K:                  k,
		EF:                 o.ef,
		Metric:             c.metric,
		MinEF:              c.cfg.minEF,
		EFMultiplier:       c.cfg.efMultiplier,
		OverfetchFactor:    c.cfg.overfetchFactor,
		MaxCandidates:      c.cfg.maxCandidates,
		PrefilterThreshold: c.cfg.prefilterThreshold,
	}
	if err := p.Validate(); err != nil {
		return nil, translateError(err)
	}
	if len(vector) != int(c.dim) {
		return nil, &ErrDimensionMismatch{Expected: int(c.dim), Actual: len(vector)}
	}

	switch {
	case o.filter != nil:
		p.Filter = o.filter
	case len(o.filterExpr) > 0:
		f, err := c.filters.Compile(o.filterExpr)
		if err != nil {
			return nil, err
		}
		p.Filter = f
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var g search.Graph
	if ng := c.graph(namespace); ng != nil {
		g = ng
	}

	res, err := search.Run(ctx, g, c.store.Namespace(namespace), vector, p)
	if err != nil {
		return nil, translateError(err)
	}

	out := &QueryResult{
		Matches:  make([]Match, len(res.Hits)),
		Partial:  res.Partial,
		Strategy: string(res.Strategy),
	}
	for i, h := range res.Hits {
		m := Match{ID: h.Entry.ID, Score: h.Score}
		if o.withMetadata {
			m.Metadata = h.Entry.Metadata.ToAny()
		}
		if o.withVectors {
			m.Vector = slices.Clone(h.Entry.Vector)
		}
		out.Matches[i] = m
	}
	return out, nil
}
