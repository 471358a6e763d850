package spanz

import (
	"math"
	"regexp"
	"sync"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// Sampler decides whether a finished trace is kept. It is called once per
// trace with the trace's root span.
type Sampler interface {
	Sample(root *Span) bool
}

// ErrInvalidPattern is returned for skip patterns that do not compile.
var ErrInvalidPattern = errors.New("invalid skip pattern")

type skipRule struct {
	re  *regexp.Regexp
	tag string
}

// skipRules drops traces whose root carries a tag value matching a pattern.
// Patterns must match the whole value.
type skipRules struct {
	rules []skipRule
	mu    sync.RWMutex
}

// AddSkipTagPattern drops traces whose root tag value fully matches pattern.
// Multiple patterns are OR'd.
func (r *skipRules) AddSkipTagPattern(tag, pattern string) error {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "skip pattern %q for tag %q", pattern, tag), ErrInvalidPattern)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, skipRule{tag: tag, re: re})
	return nil
}

func (r *skipRules) skip(root *Span) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		v, ok := root.Tag(rule.tag)
		if ok && rule.re.MatchString(v.String()) {
			return true
		}
	}
	return false
}

// AllSampler keeps every trace except those matched by a skip pattern.
type AllSampler struct {
	skipRules
}

// NewAllSampler creates a sampler keeping every trace.
func NewAllSampler() *AllSampler {
	return &AllSampler{}
}

// Sample implements Sampler.
func (s *AllSampler) Sample(root *Span) bool {
	return root != nil && !s.skip(root)
}

// knuthFactor spreads sequential trace ids over the uint64 range.
const knuthFactor = uint64(1111111111111111111)

// sampledByRate is deterministic in traceID.
func sampledByRate(traceID uint64, rate float64) bool {
	if rate >= 1 {
		return true
	}
	return traceID*knuthFactor < uint64(rate*math.MaxUint64)
}

// RateSampler keeps a fixed share of traces, chosen by a hash of the trace id
// so the same trace always gets the same answer.
type RateSampler struct {
	skipRules
	rate float64
}

// NewRateSampler creates a rate sampler. Rates above 1 clamp to 1. Rates at
// or below 0 also clamp to 1, keeping everything, and are logged as an error.
func NewRateSampler(rate float64, logger *zap.Logger) *RateSampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateSampler{rate: clampRate(rate, logger, "")}
}

// clampRate maps a configured rate into (0, 1].
func clampRate(rate float64, logger *zap.Logger, key string) float64 {
	switch {
	case rate <= 0:
		logger.Error("sample rate is negative or zero, disabling the sampler",
			zap.Float64("rate", rate),
			zap.String("key", key))
		return 1
	case rate > 1:
		return 1
	default:
		return rate
	}
}

// Rate returns the effective sample rate.
func (s *RateSampler) Rate() float64 { return s.rate }

// Sample implements Sampler.
func (s *RateSampler) Sample(root *Span) bool {
	if root == nil || s.skip(root) {
		return false
	}
	return sampledByRate(root.TraceID(), s.rate)
}

// defaultServiceRateKey selects the rate for services with no explicit rate.
const defaultServiceRateKey = "service:,env:"

// ServiceRateSampler applies a rate per service. Per-service samplers are
// cached in a bounded LRU; rates can be replaced at runtime with SetRates.
type ServiceRateSampler struct {
	skipRules
	logger   *zap.Logger
	cache    *lru.Cache // service key -> *RateSampler
	rates    map[string]float64
	env      string
	fallback float64
	mu       sync.RWMutex
}

// NewServiceRateSampler creates a per-service sampler. size bounds the number
// of cached per-service samplers.
func NewServiceRateSampler(env string, fallback float64, size int, logger *zap.Logger) (*ServiceRateSampler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrapf(err, "service sampler cache of size %d", size)
	}
	return &ServiceRateSampler{
		logger:   logger,
		cache:    cache,
		env:      env,
		fallback: clampRate(fallback, logger, defaultServiceRateKey),
		rates:    map[string]float64{},
	}, nil
}

// ServiceKey builds the rate key for a service in the sampler's environment.
func (s *ServiceRateSampler) ServiceKey(service string) string {
	return "service:" + service + ",env:" + s.env
}

// SetRates replaces the per-service rates. The special key
// "service:,env:" overrides the fallback rate. Rates are clamped like
// NewRateSampler's, once per key.
func (s *ServiceRateSampler) SetRates(rates map[string]float64) {
	next := make(map[string]float64, len(rates))
	for k, v := range rates {
		next[k] = clampRate(v, s.logger, k)
	}

	s.mu.Lock()
	s.rates = next
	if v, ok := next[defaultServiceRateKey]; ok {
		s.fallback = v
	}
	// Purged under the write lock: samplerFor only adds while holding the
	// read lock, so no sampler built from the old rates survives this call.
	s.cache.Purge()
	s.mu.Unlock()

	s.logger.Debug("service sample rates updated", zap.Int("services", len(next)))
}

func (s *ServiceRateSampler) samplerFor(service string) *RateSampler {
	key := s.ServiceKey(service)
	if v, ok := s.cache.Get(key); ok {
		return v.(*RateSampler)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[key]
	if !ok {
		rate = s.fallback
	}
	rs := &RateSampler{rate: rate}
	s.cache.Add(key, rs)
	return rs
}

// Sample implements Sampler.
func (s *ServiceRateSampler) Sample(root *Span) bool {
	if root == nil || s.skip(root) {
		return false
	}
	return s.samplerFor(root.Context().ServiceName()).Sample(root)
}
