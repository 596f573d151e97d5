package trace

import "time"

// Context provides annotation points for the finalize/execute pipeline,
// grounded on datalog/executor/context.go's Context interface: a
// zero-overhead no-op implementation (BaseContext) and a collecting one
// (AnnotatedContext) selected once at NewContext time rather than branching
// on a nil check at every call site.
type Context interface {
	// FinalizeBegin/FinalizeComplete bracket one plan.Finalize call.
	FinalizeBegin(description string)
	FinalizeComplete(err error)

	// ExecutePhase brackets one node's Execute dispatch (or any other named
	// synchronous phase, such as a NamedSource's cursor construction) with
	// timing, running fn and reporting whether it succeeded.
	ExecutePhase(name string, fn func() error) error

	// TransactionBegin/TransactionSettled bracket one ambient transaction's
	// lifetime: opened in the given mode, and settled (committed or
	// aborted) with the triggering error, if any.
	TransactionBegin(mode string)
	TransactionSettled(outcome string, err error)

	// SetMetadata/GetMetadata pass caller-supplied hints (e.g. a query's
	// source text for display) through the context without coupling trace
	// to any particular host type.
	SetMetadata(key string, value interface{})
	GetMetadata(key string) (interface{}, bool)

	// Collector returns the underlying event collector, or nil for a
	// BaseContext.
	Collector() *Collector
}

// NewContext returns a BaseContext when handler is nil (no observable cost
// beyond an interface call that immediately returns) or an AnnotatedContext
// backed by a Collector otherwise.
func NewContext(handler Handler) Context {
	if handler == nil {
		return &BaseContext{}
	}
	return &AnnotatedContext{collector: NewCollector(handler)}
}

// BaseContext is a no-op Context: every bracketing method runs fn (if any)
// and returns immediately.
type BaseContext struct {
	metadata map[string]interface{}
}

func (c *BaseContext) FinalizeBegin(description string)             {}
func (c *BaseContext) FinalizeComplete(err error)                    {}
func (c *BaseContext) TransactionBegin(mode string)                  {}
func (c *BaseContext) TransactionSettled(outcome string, err error)  {}
func (c *BaseContext) ExecutePhase(name string, fn func() error) error { return fn() }

func (c *BaseContext) Collector() *Collector { return nil }

func (c *BaseContext) SetMetadata(key string, value interface{}) {
	if c.metadata == nil {
		c.metadata = make(map[string]interface{})
	}
	c.metadata[key] = value
}

func (c *BaseContext) GetMetadata(key string) (interface{}, bool) {
	if c.metadata == nil {
		return nil, false
	}
	v, ok := c.metadata[key]
	return v, ok
}

// AnnotatedContext provides full annotation tracking over a Collector.
type AnnotatedContext struct {
	BaseContext
	collector     *Collector
	finalizeStart time.Time
}

func (c *AnnotatedContext) FinalizeBegin(description string) {
	c.finalizeStart = time.Now()
	c.collector.Add(Event{
		Name:  FinalizeBegin,
		Start: c.finalizeStart,
		Data:  map[string]interface{}{"description": description},
	})
}

func (c *AnnotatedContext) FinalizeComplete(err error) {
	data := map[string]interface{}{"success": err == nil}
	if err != nil {
		data["error"] = err.Error()
	}
	c.collector.AddTiming(FinalizeComplete, c.finalizeStart, data)
}

func (c *AnnotatedContext) ExecutePhase(name string, fn func() error) error {
	start := time.Now()
	c.collector.Add(Event{Name: PhaseBegin, Start: start, Data: map[string]interface{}{"phase": name}})

	err := fn()

	data := map[string]interface{}{"phase": name, "success": err == nil}
	if err != nil {
		data["error"] = err.Error()
	}
	c.collector.AddTiming(PhaseComplete, start, data)
	return err
}

func (c *AnnotatedContext) TransactionBegin(mode string) {
	c.collector.Add(Event{
		Name:  TransactionBegin,
		Start: time.Now(),
		Data:  map[string]interface{}{"mode": mode},
	})
}

func (c *AnnotatedContext) TransactionSettled(outcome string, err error) {
	data := map[string]interface{}{"outcome": outcome}
	if err != nil {
		data["error"] = err.Error()
	}
	c.collector.Add(Event{Name: TransactionSettled, Start: time.Now(), Data: data})
}

func (c *AnnotatedContext) Collector() *Collector { return c.collector }
