package spanz

// Well-known tag keys that rewrite span fields instead of being stored.
const (
	ServiceNameTag  = "service.name"
	ResourceNameTag = "resource.name"
	SpanTypeTag     = "span.type"
	OperationTag    = "operation.name"
	ErrorTag        = "error"
	ManualKeepTag   = "manual.keep"
	ManualDropTag   = "manual.drop"
)

// Decorator reacts to a tag being set on a span. Decorate may edit the span
// and returns whether the tag itself should still be stored.
type Decorator interface {
	MatchingTag() string
	Decorate(span *SpanEditor, value Value) bool
}

// SpanEditor edits a span while a decorator runs. It is only valid for the
// duration of Decorate.
type SpanEditor struct {
	c *SpanContext
}

// TraceID returns the trace id of the edited span.
func (e *SpanEditor) TraceID() uint64 { return e.c.traceID }

// SpanID returns the span id of the edited span.
func (e *SpanEditor) SpanID() uint64 { return e.c.spanID }

// ServiceName returns the current service name.
func (e *SpanEditor) ServiceName() string { return e.c.serviceName }

// OperationName returns the current operation name.
func (e *SpanEditor) OperationName() string { return e.c.operationName }

// SetServiceName sets the service name.
func (e *SpanEditor) SetServiceName(v string) { e.c.serviceName = v }

// SetOperationName sets the operation name.
func (e *SpanEditor) SetOperationName(v string) { e.c.operationName = v }

// SetResourceName sets the resource name.
func (e *SpanEditor) SetResourceName(v string) { e.c.resourceName = v }

// SetSpanType sets the span type.
func (e *SpanEditor) SetSpanType(v string) { e.c.spanType = v }

// SetErrorFlag sets or clears the error flag.
func (e *SpanEditor) SetErrorFlag(v bool) { e.c.errorFlag = v }

// SetSamplingPriority sets the trace-level sampling priority.
func (e *SpanEditor) SetSamplingPriority(p SamplingPriority) {
	if e.c.trace != nil {
		e.c.trace.setSamplingPriority(p)
	}
}

// Tag returns a tag already stored on the span.
func (e *SpanEditor) Tag(key string) (Value, bool) {
	v, ok := e.c.tags[key]
	return v, ok
}

// SetTag stores a tag without running decorators.
func (e *SpanEditor) SetTag(key string, v Value) { e.c.setTagLocked(key, v) }

// DecoratorFunc adapts a function to a Decorator for one tag key.
type DecoratorFunc struct {
	Tag string
	Fn  func(span *SpanEditor, value Value) bool
}

// MatchingTag implements Decorator.
func (d DecoratorFunc) MatchingTag() string { return d.Tag }

// Decorate implements Decorator.
func (d DecoratorFunc) Decorate(span *SpanEditor, value Value) bool { return d.Fn(span, value) }

// BuiltinDecorators returns the decorators every tracer installs: tags that
// name the service, resource, span type, operation, error and manual
// keep/drop route to the corresponding span fields.
func BuiltinDecorators() []Decorator {
	return []Decorator{
		DecoratorFunc{Tag: ServiceNameTag, Fn: func(s *SpanEditor, v Value) bool {
			s.SetServiceName(v.String())
			return false
		}},
		DecoratorFunc{Tag: ResourceNameTag, Fn: func(s *SpanEditor, v Value) bool {
			s.SetResourceName(v.String())
			return false
		}},
		DecoratorFunc{Tag: SpanTypeTag, Fn: func(s *SpanEditor, v Value) bool {
			s.SetSpanType(v.String())
			return false
		}},
		DecoratorFunc{Tag: OperationTag, Fn: func(s *SpanEditor, v Value) bool {
			s.SetOperationName(v.String())
			return false
		}},
		DecoratorFunc{Tag: ErrorTag, Fn: func(s *SpanEditor, v Value) bool {
			s.SetErrorFlag(truthy(v))
			return false
		}},
		DecoratorFunc{Tag: ManualKeepTag, Fn: func(s *SpanEditor, v Value) bool {
			if truthy(v) {
				s.SetSamplingPriority(PriorityKeep)
			}
			return false
		}},
		DecoratorFunc{Tag: ManualDropTag, Fn: func(s *SpanEditor, v Value) bool {
			if truthy(v) {
				s.SetSamplingPriority(PriorityDrop)
			}
			return false
		}},
	}
}

func truthy(v Value) bool {
	switch v.Kind() {
	case KindBool:
		b, _ := v.AsBool()
		return b
	case KindInt64:
		n, _ := v.AsInt64()
		return n != 0
	case KindFloat64:
		f, _ := v.AsFloat64()
		return f != 0
	case KindString:
		s, _ := v.AsString()
		return s == "true" || s == "1"
	default:
		return false
	}
}

// decoratorSet indexes decorators by tag key. It is built once at tracer
// construction and read-only afterwards.
type decoratorSet map[string][]Decorator

func newDecoratorSet(ds []Decorator) decoratorSet {
	set := make(decoratorSet, len(ds))
	for _, d := range ds {
		set[d.MatchingTag()] = append(set[d.MatchingTag()], d)
	}
	return set
}

// apply runs the decorators for key; callers hold c.mu. The tag is stored
// unless a decorator declined it.
func (set decoratorSet) apply(c *SpanContext, key string, value Value) {
	keep := true
	if ds := set[key]; len(ds) > 0 {
		editor := &SpanEditor{c: c}
		for _, d := range ds {
			if !d.Decorate(editor, value) {
				keep = false
			}
		}
	}
	if keep {
		c.setTagLocked(key, value)
	}
}
