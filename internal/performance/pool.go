package performance

import (
	"fmt"
	"sort"
	"sync"
)

// Pool owns the VUs of one scenario. VUs are created lazily up to the pool
// maximum and reused through a free-list; the free-list is the only state
// shared between the scheduler and the VUs, and the pool mutex guards it.
//
// The number of claimed VUs never exceeds the maximum.
type Pool struct {
	scenario     string
	newTransport TransportFactory

	mu      sync.Mutex
	max     int
	nextID  int
	free    []*VirtualUser
	busy    map[int]*VirtualUser
	created int
	peak    int
}

// NewPool creates an empty pool for a scenario.
func NewPool(scenario string, max int, newTransport TransportFactory) *Pool {
	return &Pool{
		scenario:     scenario,
		newTransport: newTransport,
		max:          max,
		busy:         make(map[int]*VirtualUser),
	}
}

func (p *Pool) newVULocked() *VirtualUser {
	p.nextID++
	var t Transport
	if p.newTransport != nil {
		t = p.newTransport(p.nextID)
	}
	p.created++
	return NewVirtualUser(p.nextID, p.scenario, t)
}

// Preallocate creates idle VUs until n exist (bounded by the maximum) and
// returns how many VUs the pool holds.
func (p *Pool) Preallocate(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.created < n && p.created < p.max {
		p.free = append(p.free, p.newVULocked())
	}
	return p.created
}

// TryAcquire claims an idle VU, creating one if the pool is below its
// maximum. It never blocks; false means the pool is at capacity.
func (p *Pool) TryAcquire() (*VirtualUser, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.busy) >= p.max {
		return nil, false
	}

	var vu *VirtualUser
	if n := len(p.free); n > 0 {
		vu = p.free[n-1]
		p.free = p.free[:n-1]
	} else if p.created < p.max {
		vu = p.newVULocked()
	} else {
		return nil, false
	}

	p.busy[vu.ID] = vu
	if len(p.busy) > p.peak {
		p.peak = len(p.busy)
	}
	return vu, true
}

// Release returns a VU to the free-list. VUs beyond a lowered maximum are
// destroyed instead.
func (p *Pool) Release(vu *VirtualUser) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.busy[vu.ID]; !ok {
		return
	}
	delete(p.busy, vu.ID)

	if p.created > p.max {
		p.created--
		if vu.Transport != nil {
			vu.Transport.Close()
		}
		return
	}
	vu.reset()
	p.free = append(p.free, vu)
}

// SetMax changes the pool maximum. Idle VUs beyond the new maximum are
// destroyed at once; claimed ones are destroyed when released. Callers stop
// excess claimed VUs themselves.
func (p *Pool) SetMax(n int) error {
	if n < 0 {
		return fmt.Errorf("pool maximum must be >= 0, got %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.max = n
	for p.created > p.max && len(p.free) > 0 {
		vu := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.created--
		if vu.Transport != nil {
			vu.Transport.Close()
		}
	}
	return nil
}

// Max returns the pool maximum.
func (p *Pool) Max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// Active returns how many VUs are claimed.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy)
}

// Created returns how many VUs exist, idle or claimed.
func (p *Pool) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Peak returns the highest number of simultaneously claimed VUs.
func (p *Pool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Busy returns the claimed VUs ordered by ID.
func (p *Pool) Busy() []*VirtualUser {
	p.mu.Lock()
	out := make([]*VirtualUser, 0, len(p.busy))
	for _, vu := range p.busy {
		out = append(out, vu)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close releases the transports of idle VUs.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, vu := range p.free {
		if vu.Transport != nil {
			vu.Transport.Close()
		}
	}
	p.free = nil
}
