// Package rxstream implements the pull-based, lazy, backpressure-free
// tuple-stream protocol spec.md §1/§4.7 calls for: filter, map, merge_map,
// concat, merge, reduce, to_array, is_empty, default_if_empty, and a
// replay/broadcast operator.
//
// Grounded on datalog/executor/buffered_iterator.go (a pull
// iterator with an internal buffer and a Next()/Tuple()/Close() cursor
// protocol) and streaming_union.go (merging relations without
// materializing), generalized from Tuple = []interface{} to
// relquery.Tuple = map[string]Record and from a fixed "Relation" type to a
// small combinator algebra over a single Iterator interface.
package rxstream

import (
	"context"
	"sync"

	"github.com/relquery/relquery"
)

// Iterator is the pull-based cursor protocol every relational-tree node
// executes through (spec.md §4.7: "each node implements execute(ctx) →
// stream of tuples"). Next must be called before the first Value; it
// returns false once exhausted or on error (check Err to distinguish).
// Close releases any held resources (e.g. a store cursor) and must be
// idempotent.
type Iterator interface {
	Next(ctx context.Context) bool
	Value() relquery.Tuple
	Err() error
	Close() error
}

// sliceIterator is the base case: a plain in-memory slice of tuples.
type sliceIterator struct {
	tuples []relquery.Tuple
	pos    int
}

// FromSlice wraps a pre-materialized slice of tuples as an Iterator.
func FromSlice(tuples []relquery.Tuple) Iterator {
	return &sliceIterator{tuples: tuples, pos: -1}
}

func (s *sliceIterator) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	s.pos++
	return s.pos < len(s.tuples)
}

func (s *sliceIterator) Value() relquery.Tuple {
	if s.pos < 0 || s.pos >= len(s.tuples) {
		return nil
	}
	return s.tuples[s.pos]
}

func (s *sliceIterator) Err() error  { return nil }
func (s *sliceIterator) Close() error { return nil }

// errIterator is a degenerate iterator that immediately reports err.
type errIterator struct{ err error }

// Fail returns an iterator that yields no tuples and reports err.
func Fail(err error) Iterator { return &errIterator{err: err} }

func (e *errIterator) Next(ctx context.Context) bool { return false }
func (e *errIterator) Value() relquery.Tuple          { return nil }
func (e *errIterator) Err() error                     { return e.err }
func (e *errIterator) Close() error                   { return nil }

type filterIterator struct {
	src  Iterator
	pred func(relquery.Tuple) (bool, error)
	err  error
}

// Filter yields only tuples for which pred returns true.
func Filter(src Iterator, pred func(relquery.Tuple) (bool, error)) Iterator {
	return &filterIterator{src: src, pred: pred}
}

func (f *filterIterator) Next(ctx context.Context) bool {
	for f.src.Next(ctx) {
		ok, err := f.pred(f.src.Value())
		if err != nil {
			f.err = err
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

func (f *filterIterator) Value() relquery.Tuple { return f.src.Value() }
func (f *filterIterator) Err() error {
	if f.err != nil {
		return f.err
	}
	return f.src.Err()
}
func (f *filterIterator) Close() error { return f.src.Close() }

type mapIterator struct {
	src Iterator
	fn  func(relquery.Tuple) (relquery.Tuple, error)
	cur relquery.Tuple
	err error
}

// Map transforms each tuple through fn.
func Map(src Iterator, fn func(relquery.Tuple) (relquery.Tuple, error)) Iterator {
	return &mapIterator{src: src, fn: fn}
}

func (m *mapIterator) Next(ctx context.Context) bool {
	if !m.src.Next(ctx) {
		return false
	}
	v, err := m.fn(m.src.Value())
	if err != nil {
		m.err = err
		return false
	}
	m.cur = v
	return true
}

func (m *mapIterator) Value() relquery.Tuple { return m.cur }
func (m *mapIterator) Err() error {
	if m.err != nil {
		return m.err
	}
	return m.src.Err()
}
func (m *mapIterator) Close() error { return m.src.Close() }

type concatIterator struct {
	srcs []Iterator
	idx  int
}

// Concat iterates each source in order, one fully exhausted before the
// next begins (spec.md §5: "CompositeUnion concatenates left then right").
func Concat(srcs ...Iterator) Iterator {
	return &concatIterator{srcs: srcs, idx: 0}
}

func (c *concatIterator) Next(ctx context.Context) bool {
	for c.idx < len(c.srcs) {
		if c.srcs[c.idx].Next(ctx) {
			return true
		}
		c.idx++
	}
	return false
}

func (c *concatIterator) Value() relquery.Tuple {
	if c.idx >= len(c.srcs) {
		return nil
	}
	return c.srcs[c.idx].Value()
}

func (c *concatIterator) Err() error {
	for _, s := range c.srcs {
		if err := s.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (c *concatIterator) Close() error {
	var first error
	for _, s := range c.srcs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type mergeIterator struct {
	srcs   []Iterator
	tuples chan relquery.Tuple
	cancel context.CancelFunc
	cur    relquery.Tuple
	mu     sync.Mutex
	err    error
}

// Merge interleaves N pull sources concurrently rather than draining them
// one at a time (contrast Concat), used by execSetOperation to fan a set
// operation's legs out across goroutines.
// Tuple order across legs is not preserved; within a leg it is.
//
// Grounded on datalog/executor/worker_pool.go's job-channel-plus-
// sync.WaitGroup idiom, generalized from a fixed-arity parallel map over a
// bounded worker pool to an unbounded fan-in of pull iterators: one
// goroutine per source pulls and forwards tuples onto a shared channel,
// and a closer goroutine closes that channel once every source is
// exhausted. The first error from any leg cancels the rest and is
// surfaced by Err once Next returns false.
func Merge(srcs ...Iterator) Iterator {
	m := &mergeIterator{srcs: srcs, tuples: make(chan relquery.Tuple)}
	fanCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	var wg sync.WaitGroup
	wg.Add(len(srcs))
	for _, s := range srcs {
		go func(s Iterator) {
			defer wg.Done()
			for s.Next(fanCtx) {
				select {
				case m.tuples <- s.Value():
				case <-fanCtx.Done():
					return
				}
			}
			if err := s.Err(); err != nil {
				m.setErr(err)
				cancel()
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(m.tuples)
	}()
	return m
}

func (m *mergeIterator) setErr(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
}

func (m *mergeIterator) Next(ctx context.Context) bool {
	select {
	case t, ok := <-m.tuples:
		if !ok {
			return false
		}
		m.cur = t
		return true
	case <-ctx.Done():
		m.setErr(ctx.Err())
		return false
	}
}

func (m *mergeIterator) Value() relquery.Tuple { return m.cur }

func (m *mergeIterator) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *mergeIterator) Close() error {
	m.cancel()
	var first error
	for _, s := range m.srcs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type mergeMapIterator struct {
	src   Iterator
	fn    func(relquery.Tuple) (Iterator, error)
	inner Iterator
	err   error
}

// MergeMap flattens each source tuple into a sub-stream, consuming each
// inner stream in turn before advancing the outer one. Cooperative
// single-threaded execution (spec.md §5) makes this sequential flattening
// observationally equivalent to a concurrent flat-map for this engine's
// purposes, while avoiding goroutine fan-out for the common case (Join's
// per-left-tuple inner execution).
func MergeMap(src Iterator, fn func(relquery.Tuple) (Iterator, error)) Iterator {
	return &mergeMapIterator{src: src, fn: fn}
}

func (m *mergeMapIterator) Next(ctx context.Context) bool {
	for {
		if m.inner != nil {
			if m.inner.Next(ctx) {
				return true
			}
			if err := m.inner.Err(); err != nil {
				m.err = err
				return false
			}
			m.inner.Close()
			m.inner = nil
		}
		if !m.src.Next(ctx) {
			return false
		}
		inner, err := m.fn(m.src.Value())
		if err != nil {
			m.err = err
			return false
		}
		m.inner = inner
	}
}

func (m *mergeMapIterator) Value() relquery.Tuple {
	if m.inner == nil {
		return nil
	}
	return m.inner.Value()
}

func (m *mergeMapIterator) Err() error {
	if m.err != nil {
		return m.err
	}
	return m.src.Err()
}

func (m *mergeMapIterator) Close() error {
	if m.inner != nil {
		m.inner.Close()
	}
	return m.src.Close()
}

// Reduce folds every tuple through fn starting from init.
func Reduce(ctx context.Context, src Iterator, init relquery.Value, fn func(acc relquery.Value, t relquery.Tuple) (relquery.Value, error)) (relquery.Value, error) {
	defer src.Close()
	acc := init
	for src.Next(ctx) {
		v, err := fn(acc, src.Value())
		if err != nil {
			return nil, err
		}
		acc = v
	}
	if err := src.Err(); err != nil {
		return nil, err
	}
	return acc, nil
}

// ToSlice materializes every tuple from src.
func ToSlice(ctx context.Context, src Iterator) ([]relquery.Tuple, error) {
	defer src.Close()
	var out []relquery.Tuple
	for src.Next(ctx) {
		out = append(out, src.Value())
	}
	if err := src.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsEmpty reports whether src yields zero tuples, consuming at most one.
// The caller must not reuse src afterward.
func IsEmpty(ctx context.Context, src Iterator) (bool, error) {
	has := src.Next(ctx)
	if err := src.Err(); err != nil {
		src.Close()
		return false, err
	}
	src.Close()
	return !has, nil
}

type defaultIfEmptyIterator struct {
	src      Iterator
	def      relquery.Tuple
	started  bool
	emitted  bool
	defaultv bool
}

// DefaultIfEmpty yields def exactly once if src produces no tuples at all,
// otherwise behaves like src.
func DefaultIfEmpty(src Iterator, def relquery.Tuple) Iterator {
	return &defaultIfEmptyIterator{src: src, def: def}
}

func (d *defaultIfEmptyIterator) Next(ctx context.Context) bool {
	if d.defaultv {
		return false
	}
	if d.src.Next(ctx) {
		d.started = true
		d.emitted = true
		return true
	}
	if !d.started && !d.emitted {
		d.defaultv = true
		d.started = true
		return true
	}
	return false
}

func (d *defaultIfEmptyIterator) Value() relquery.Tuple {
	if d.defaultv {
		return d.def
	}
	return d.src.Value()
}

func (d *defaultIfEmptyIterator) Err() error   { return d.src.Err() }
func (d *defaultIfEmptyIterator) Close() error { return d.src.Close() }

// Replay materializes src once and supports arbitrarily many independent
// cursors over the buffered result, grounded on buffered_iterator.go's
// BufferedIterator (buffer + independent-position Clone). Used by plan's
// Memoize node (spec.md §4.7: "materialise child's stream through a
// replay/broadcast operator").
type Replay struct {
	src      Iterator
	buf      []relquery.Tuple
	done     bool
	err      error
}

// NewReplay wraps src for replay. src is not consumed until the first
// cursor's first Next call.
func NewReplay(src Iterator) *Replay {
	return &Replay{src: src}
}

// Cursor returns a new independent iteration over the replayed stream,
// pulling further from the underlying source the first time any cursor
// reaches a not-yet-buffered position.
func (r *Replay) Cursor() Iterator {
	return &replayCursor{r: r, pos: -1}
}

func (r *Replay) fill(ctx context.Context, upto int) bool {
	for !r.done && len(r.buf) <= upto {
		if !r.src.Next(ctx) {
			r.done = true
			r.err = r.src.Err()
			r.src.Close()
			return false
		}
		r.buf = append(r.buf, r.src.Value())
	}
	return len(r.buf) > upto
}

type replayCursor struct {
	r   *Replay
	pos int
}

func (c *replayCursor) Next(ctx context.Context) bool {
	c.pos++
	return c.r.fill(ctx, c.pos)
}

func (c *replayCursor) Value() relquery.Tuple {
	if c.pos < 0 || c.pos >= len(c.r.buf) {
		return nil
	}
	return c.r.buf[c.pos]
}

func (c *replayCursor) Err() error   { return c.r.err }
func (c *replayCursor) Close() error { return nil }
