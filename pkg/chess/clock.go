// Package chess defines the game entities shared by the session coordinator
package chess

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TimeControl defines the time settings for a session clock
type TimeControl struct {
	InitialSeconds int64         // Starting time for each seat, in whole seconds
	TickInterval   time.Duration // Wall time between two decrements
}

// DefaultTimeControl is five minutes per side, one decrement per second.
func DefaultTimeControl() TimeControl {
	return TimeControl{
		InitialSeconds: 300,
		TickInterval:   time.Second,
	}
}

// Times holds the remaining seconds of both sides
type Times struct {
	White int64
	Black int64
}

// Of returns the remaining time of the given color.
func (t Times) Of(color Color) int64 {
	if color == White {
		return t.White
	}
	return t.Black
}

// ClockTick describes the clock after a single decrement
type ClockTick struct {
	Times       Times
	ActiveColor Color
	Expired     bool // The active side reached zero on this tick
}

// TickFunc receives the generation of the run that produced the tick. It is
// called from the ticker goroutine and must hand the tick over to the owner's
// event loop rather than mutate anything itself.
type TickFunc func(generation uint64)

// Clock is a dual countdown. Only one side is decremented at a time and only
// through Tick, which the owner calls from its own serialized loop.
type Clock struct {
	whiteSeconds int64
	blackSeconds int64

	initialSeconds int64
	interval       time.Duration

	isRunning  bool
	generation uint64
	stopChan   chan struct{}

	clock  clockwork.Clock
	onTick TickFunc

	mutex sync.RWMutex
}

// NewClock creates a stopped clock with both counters at the initial value
func NewClock(tc TimeControl, clock clockwork.Clock, onTick TickFunc) *Clock {
	if tc.TickInterval <= 0 {
		tc.TickInterval = time.Second
	}

	return &Clock{
		whiteSeconds:   tc.InitialSeconds,
		blackSeconds:   tc.InitialSeconds,
		initialSeconds: tc.InitialSeconds,
		interval:       tc.TickInterval,
		clock:          clock,
		onTick:         onTick,
	}
}

// Start opens a new generation and schedules ticks for it. It is a no-op
// returning false when the clock is already running.
func (c *Clock) Start() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isRunning {
		return false
	}

	c.generation++
	c.isRunning = true
	c.stopChan = make(chan struct{})

	ticker := c.clock.NewTicker(c.interval)
	go c.tickRoutine(c.generation, ticker, c.stopChan)

	return true
}

// Stop cancels the pending tick of the current generation. Ticks already in
// flight for that generation are discarded by Tick. Safe to call when stopped.
func (c *Clock) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.stopLocked()
}

func (c *Clock) stopLocked() {
	if !c.isRunning {
		return
	}

	c.isRunning = false
	close(c.stopChan)
}

// Restart stops the current generation and immediately starts a new one.
func (c *Clock) Restart() {
	c.Stop()
	c.Start()
}

// Reset stops the clock and puts both counters back to the initial value
func (c *Clock) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.stopLocked()
	c.whiteSeconds = c.initialSeconds
	c.blackSeconds = c.initialSeconds
}

// Tick decrements the active side by one second. It returns false without
// touching the counters when the tick belongs to a stopped or older generation.
// When the active counter reaches zero the clock stops itself.
func (c *Clock) Tick(generation uint64, active Color) (ClockTick, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isRunning || generation != c.generation {
		return ClockTick{}, false
	}

	counter := &c.blackSeconds
	if active == White {
		counter = &c.whiteSeconds
	}

	if *counter > 0 {
		*counter--
	}

	tick := ClockTick{
		Times:       Times{White: c.whiteSeconds, Black: c.blackSeconds},
		ActiveColor: active,
	}

	if *counter == 0 {
		tick.Expired = true
		c.stopLocked()
	}

	return tick, true
}

// Remaining returns the remaining time for both players
func (c *Clock) Remaining() Times {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return Times{White: c.whiteSeconds, Black: c.blackSeconds}
}

// IsRunning reports whether a generation is currently ticking
func (c *Clock) IsRunning() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.isRunning
}

// Generation returns the generation of the current or last run
func (c *Clock) Generation() uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.generation
}

// IsTimeUp checks if a player has run out of time
func (c *Clock) IsTimeUp(color Color) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if color == White {
		return c.whiteSeconds <= 0
	}
	return c.blackSeconds <= 0
}

func (c *Clock) tickRoutine(generation uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			// Prefer stop when both are ready
			select {
			case <-stop:
				return
			default:
			}
			c.onTick(generation)
		}
	}
}
