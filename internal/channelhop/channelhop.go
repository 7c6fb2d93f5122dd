// Package channelhop implements the channel-hopping policy: a small,
// lock-protected state machine with no I/O of its own, ticked by the
// orchestrator's main loop the way the teacher's status ticker is driven
// by a single goroutine (internal/status/ticker.go).
package channelhop

import (
	"fmt"
	"sync"
)

type Mode string

const (
	Fast     Mode = "fast"
	Slow     Mode = "slow"
	Adaptive Mode = "adaptive"
	Lock     Mode = "lock"
)

// Channels24GHz is the canonical 2.4GHz channel set (channels 1-11).
var Channels24GHz = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

// Channels5GHz is the canonical 5GHz channel set.
var Channels5GHz = []int{
	36, 40, 44, 48, 52, 56, 60, 64, 100, 104, 108, 112, 116, 120, 124, 128,
	132, 136, 140, 144, 149, 153, 157, 161, 165,
}

// AllChannels is the full hop list: 2.4GHz followed by 5GHz.
func AllChannels() []int {
	out := make([]int, 0, len(Channels24GHz)+len(Channels5GHz))
	out = append(out, Channels24GHz...)
	out = append(out, Channels5GHz...)
	return out
}

type Policy struct {
	mu sync.Mutex

	mode         Mode
	fastRate     float64
	slowRate     float64
	activeRate   float64
	activeSource string
	lockedChan   int
}

func New(fastRate, slowRate float64) *Policy {
	return &Policy{
		mode:       Slow,
		fastRate:   fastRate,
		slowRate:   slowRate,
		activeRate: slowRate,
	}
}

// SetMode rejects invalid modes, leaving state unchanged.
func (p *Policy) SetMode(mode Mode) error {
	switch mode {
	case Fast, Slow, Adaptive, Lock:
	default:
		return fmt.Errorf("channelhop: invalid mode %q", mode)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	switch mode {
	case Fast:
		p.activeRate = p.fastRate
	case Slow:
		p.activeRate = p.slowRate
	}
	return nil
}

func (p *Policy) SetActiveSource(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeSource = id
}

// LockChannel forces lock mode, pinning a single channel.
func (p *Policy) LockChannel(ch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = Lock
	p.lockedChan = ch
}

func (p *Policy) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *Policy) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeRate
}

func (p *Policy) LockedChannel() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != Lock {
		return 0, false
	}
	return p.lockedChan, true
}

// Tick applies the adaptive rate from the current speed when mode is
// adaptive and a source is bound. speedMS ≤ 2 m/s yields slow_rate,
// speedMS ≥ 10 m/s yields fast_rate, interpolated linearly in between.
func (p *Policy) Tick(speedMS float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != Adaptive || p.activeSource == "" {
		return
	}
	p.activeRate = adaptiveRate(speedMS, p.fastRate, p.slowRate)
}

func adaptiveRate(speedMS, fastRate, slowRate float64) float64 {
	const lo, hi = 2.0, 10.0
	switch {
	case speedMS <= lo:
		return slowRate
	case speedMS >= hi:
		return fastRate
	default:
		frac := (speedMS - lo) / (hi - lo)
		return slowRate + frac*(fastRate-slowRate)
	}
}
