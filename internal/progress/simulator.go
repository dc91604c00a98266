// Package progress reports upload progress. Tracker carries real byte counts
// from the streaming upload body. Simulator is a decorative indicator for
// transports that report no bytes; its values surface only as an estimate
// and must never be read as a measurement.
package progress

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// Ceiling is the highest value the simulator reaches before the operation settles.
	Ceiling = 90
	Done    = 100

	ImageTick = 200 * time.Millisecond
	VideoTick = 500 * time.Millisecond
)

// Simulator advances a fake percentage toward Ceiling while an operation runs.
// The values are NOT derived from bytes sent.
type Simulator struct {
	Tick       time.Duration
	Step       int // max random increment per tick, default 10
	ResetDelay time.Duration
	OnChange   func(percent int)
}

// Run executes op and drives OnChange. After op returns the value is set to
// exactly 100 and, after ResetDelay, back to 0. Run returns op's error.
func (s Simulator) Run(ctx context.Context, op func(ctx context.Context) error) error {
	tick := s.Tick
	if tick <= 0 {
		tick = ImageTick
	}
	step := s.Step
	if step <= 0 {
		step = 10
	}

	current := 0
	emit := func(v int) {
		current = v
		if s.OnChange != nil {
			s.OnChange(v)
		}
	}
	emit(0)

	result := make(chan error, 1)
	go func() { result <- op(ctx) }()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var err error
loop:
	for {
		select {
		case err = <-result:
			break loop
		case <-ticker.C:
			next := current + 1 + rand.IntN(step)
			if next > Ceiling {
				next = Ceiling
			}
			emit(next)
		}
	}

	emit(Done)
	if s.ResetDelay > 0 {
		t := time.NewTimer(s.ResetDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	emit(0)
	return err
}

// ForKind returns the simulator cadence used for images and videos.
func ForKind(video bool, onChange func(int)) Simulator {
	s := Simulator{Tick: ImageTick, ResetDelay: time.Second, OnChange: onChange}
	if video {
		s.Tick = VideoTick
	}
	return s
}
