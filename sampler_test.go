package spanz

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAllSamplerKeepsEverything(t *testing.T) {
	s := NewAllSampler()
	for id := uint64(1); id <= 100; id++ {
		if !s.Sample(detachedSpan(id, id, "op", nil)) {
			t.Fatalf("AllSampler dropped trace %d", id)
		}
	}
	if s.Sample(nil) {
		t.Error("Expected a nil root to be dropped")
	}
}

func TestSkipTagPatternMatchesWholeValue(t *testing.T) {
	s := NewAllSampler()
	if err := s.AddSkipTagPattern("http.url", "hello"); err != nil {
		t.Fatalf("AddSkipTagPattern: %v", err)
	}

	hello := detachedSpan(1, 1, "op", map[string]Value{"http.url": String("hello")})
	hello2 := detachedSpan(2, 2, "op", map[string]Value{"http.url": String("hello2")})
	untagged := detachedSpan(3, 3, "op", nil)

	if s.Sample(hello) {
		t.Error("Expected exact match to be skipped")
	}
	if !s.Sample(hello2) {
		t.Error("Pattern must match the whole value, hello2 was skipped")
	}
	if !s.Sample(untagged) {
		t.Error("Expected untagged root to be kept")
	}
}

func TestSkipTagPatternOnURL(t *testing.T) {
	s := NewAllSampler()
	if err := s.AddSkipTagPattern("http.url", ".*/hello"); err != nil {
		t.Fatalf("AddSkipTagPattern: %v", err)
	}
	if s.Sample(detachedSpan(1, 1, "op", map[string]Value{"http.url": String("http://a/hello")})) {
		t.Error("Expected http://a/hello to be skipped")
	}
	if !s.Sample(detachedSpan(2, 2, "op", map[string]Value{"http.url": String("http://a/hello2")})) {
		t.Error("Expected http://a/hello2 to be kept")
	}
}

func TestSkipTagPatternsAreOred(t *testing.T) {
	s := NewRateSampler(1, nil)
	if err := s.AddSkipTagPattern("http.url", "/health.*"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSkipTagPattern("http.status", "404"); err != nil {
		t.Fatal(err)
	}

	if s.Sample(detachedSpan(1, 1, "op", map[string]Value{"http.url": String("/healthz")})) {
		t.Error("Expected /healthz to be skipped")
	}
	if s.Sample(detachedSpan(2, 2, "op", map[string]Value{"http.status": Int(404)})) {
		t.Error("Expected status 404 to be skipped")
	}
	if !s.Sample(detachedSpan(3, 3, "op", map[string]Value{"http.status": Int(200)})) {
		t.Error("Expected status 200 to be kept")
	}
}

func TestInvalidSkipPattern(t *testing.T) {
	s := NewAllSampler()
	err := s.AddSkipTagPattern("http.url", "([")
	if err == nil {
		t.Fatal("Expected an error for an invalid pattern")
	}
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("Expected ErrInvalidPattern, got %v", err)
	}
}

func TestRateSamplerClamping(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want float64
	}{
		{"above one", 1000, 1},
		{"negative", -1000, 1},
		{"zero", 0, 1},
		{"in range", 0.25, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewRateSampler(tt.rate, nil).Rate(); got != tt.want {
				t.Errorf("Expected rate %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRateSamplerDistribution(t *testing.T) {
	s := NewRateSampler(0.35, nil)

	const total = 1000
	kept := 0
	for id := uint64(1); id <= total; id++ {
		if s.Sample(detachedSpan(id, id, "op", nil)) {
			kept++
		}
	}
	ratio := float64(kept) / total
	if ratio < 0.30 || ratio > 0.40 {
		t.Errorf("Expected about 35%% kept, got %.1f%%", ratio*100)
	}
}

func TestRateSamplerIsDeterministic(t *testing.T) {
	a := NewRateSampler(0.5, nil)
	b := NewRateSampler(0.5, nil)
	for id := uint64(1); id <= 500; id++ {
		span := detachedSpan(id, id, "op", nil)
		first := a.Sample(span)
		if a.Sample(span) != first || b.Sample(span) != first {
			t.Fatalf("Sampling decision for trace %d is not stable", id)
		}
	}
}

func TestServiceRateSampler(t *testing.T) {
	s, err := NewServiceRateSampler("prod", 1, 16, nil)
	if err != nil {
		t.Fatalf("NewServiceRateSampler: %v", err)
	}
	s.SetRates(map[string]float64{s.ServiceKey("noisy"): 0.0001})

	noisyKept, quietKept := 0, 0
	for id := uint64(1); id <= 1000; id++ {
		noisy := detachedSpan(id, id, "op", nil)
		noisy.context.serviceName = "noisy"
		if s.Sample(noisy) {
			noisyKept++
		}
		if s.Sample(detachedSpan(id, id, "op", nil)) {
			quietKept++
		}
	}
	if noisyKept > 5 {
		t.Errorf("Expected noisy service mostly dropped, kept %d", noisyKept)
	}
	if quietKept != 1000 {
		t.Errorf("Expected fallback rate 1 to keep everything, kept %d", quietKept)
	}

	// The empty service key replaces the fallback.
	s.SetRates(map[string]float64{"service:,env:": 0.0001})
	kept := 0
	for id := uint64(1); id <= 1000; id++ {
		if s.Sample(detachedSpan(id, id, "op", nil)) {
			kept++
		}
	}
	if kept > 5 {
		t.Errorf("Expected new fallback to drop most traces, kept %d", kept)
	}
}

func TestServiceRateSamplerInvalidCache(t *testing.T) {
	if _, err := NewServiceRateSampler("prod", 1, 0, nil); err == nil {
		t.Error("Expected an error for a zero cache size")
	}
}

func TestServiceRateSamplerLogsBadFallbackOnce(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s, err := NewServiceRateSampler("prod", 0, 16, zap.New(core))
	if err != nil {
		t.Fatalf("NewServiceRateSampler: %v", err)
	}

	for i := 0; i < 10; i++ {
		span := detachedSpan(uint64(i+1), 1, "op", nil)
		span.context.serviceName = fmt.Sprintf("svc-%d", i)
		if !s.Sample(span) {
			t.Errorf("Expected clamped fallback rate 1 to keep svc-%d", i)
		}
	}
	if got := logs.Len(); got != 1 {
		t.Errorf("Expected one error log for the bad fallback, got %d", got)
	}

	s.SetRates(map[string]float64{s.ServiceKey("a"): -1, s.ServiceKey("b"): 0.5})
	if got := logs.Len(); got != 2 {
		t.Errorf("Expected one more error log for the bad service rate, got %d", got)
	}
	if got := s.samplerFor("a").Rate(); got != 1 {
		t.Errorf("Expected clamped service rate 1, got %v", got)
	}
}

func TestServiceRateSamplerSetRatesWins(t *testing.T) {
	s, err := NewServiceRateSampler("prod", 1, 4, nil)
	if err != nil {
		t.Fatalf("NewServiceRateSampler: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.samplerFor("noisy")
				}
			}
		}()
	}

	key := s.ServiceKey("noisy")
	for i := 1; i <= 200; i++ {
		rate := float64(i) / 1000
		s.SetRates(map[string]float64{key: rate})
		// Samplers cached concurrently with the swap must not outlive it.
		if got := s.samplerFor("noisy").Rate(); got != rate {
			close(stop)
			wg.Wait()
			t.Fatalf("Expected rate %v right after SetRates, got %v", rate, got)
		}
	}
	close(stop)
	wg.Wait()
}
