package spanz

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// idMask keeps generated ids within 63 bits so they survive signed encodings.
const idMask = uint64(1)<<63 - 1

// IDPool manages a pool of pre-generated IDs to amortize crypto/rand overhead.
type IDPool struct {
	factory func() uint64
	ids     chan uint64
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a new ID pool with the specified capacity.
func NewIDPool(capacity int, factory func() uint64) *IDPool {
	pool := &IDPool{
		ids:     make(chan uint64, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	// Start background refill goroutine.
	go pool.refill()
	return pool
}

// Get retrieves an ID from the pool or generates one if pool is empty.
func (p *IDPool) Get() uint64 {
	select {
	case id := <-p.ids:
		return id
	default:
		// Pool empty, generate directly (fallback for burst load).
		return p.factory()
	}
}

// refill maintains the pool by generating IDs in background.
func (p *IDPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		default:
			// Only generate if pool has capacity.
			select {
			case p.ids <- p.factory():
				// Successfully added ID to pool.
			case <-p.stopCh:
				return
			}
		}
	}
}

// Close shuts down the ID pool gracefully. Get keeps working afterwards by
// calling the factory directly.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

// randomID returns a non-zero 63-bit id. now is only consulted when
// crypto/rand fails.
func randomID(now func() time.Time) uint64 {
	var b [8]byte
	for {
		var id uint64
		if _, err := rand.Read(b[:]); err != nil {
			// Fallback to time-based ID if crypto/rand fails.
			id = uint64(now().UnixNano()) * knuthFactor
		} else {
			id = binary.LittleEndian.Uint64(b[:])
		}
		if id &= idMask; id != 0 {
			return id
		}
	}
}
