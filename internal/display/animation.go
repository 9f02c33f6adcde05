package display

import (
	"sync"
	"time"
)

// SpinnerFrames are the braille spinner frames, in order.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const (
	// DefaultTickInterval is the spinner redraw period.
	DefaultTickInterval = 100 * time.Millisecond
	// MaxFlames is the flame count at which the flames start shrinking.
	MaxFlames = 5
)

// Animation owns the spinner frame and the pulsing flame count.
// Start launches a ticker goroutine that advances the state and calls
// onTick; Stop halts it and waits for the goroutine to exit.
type Animation struct {
	mu       sync.Mutex
	frame    int
	flames   int
	rising   bool
	interval time.Duration
	onTick   func()

	stop chan struct{}
	done chan struct{}
}

// NewAnimation creates a stopped animation. onTick runs on the ticker
// goroutine after each advance and may be nil.
func NewAnimation(interval time.Duration, onTick func()) *Animation {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Animation{
		flames:   1,
		rising:   true,
		interval: interval,
		onTick:   onTick,
	}
}

// Start begins ticking. Calling Start on a running animation is a no-op.
func (a *Animation) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.stop, a.done)
}

// Stop halts the ticker and blocks until the last onTick has returned.
// The caller must not hold any lock that onTick acquires.
func (a *Animation) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the ticker goroutine is active.
func (a *Animation) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stop != nil
}

func (a *Animation) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.Advance()
			if a.onTick != nil {
				a.onTick()
			}
		}
	}
}

// Advance moves to the next spinner frame and pulses the flames between
// 1 and MaxFlames.
func (a *Animation) Advance() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.frame = (a.frame + 1) % len(SpinnerFrames)
	if a.rising {
		a.flames++
		if a.flames >= MaxFlames {
			a.rising = false
		}
	} else {
		a.flames--
		if a.flames <= 1 {
			a.rising = true
		}
	}
}

// Spinner returns the current spinner frame.
func (a *Animation) Spinner() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return SpinnerFrames[a.frame]
}

// FlameCount returns the current number of flames.
func (a *Animation) FlameCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flames
}
