// Package cadence measures how regularly the host runtime ticks the acquisition loop.
package cadence

import (
	"math"
	"time"
)

const (
	// rateStabilityThreshold is the maximum tick-rate standard deviation as a fraction
	// of the mean rate. 100 Hz mean -> stable if stddev < 15 Hz.
	rateStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected tick interval. 10ms interval -> stable if jitter < 2ms.
	jitterStabilityThreshold = 0.20

	// DefaultWindow is the number of tick timestamps kept by a Tracker.
	DefaultWindow = 128
)

// Stats summarises a window of tick timestamps.
type Stats struct {
	Ticks      int           // Ticks in the window
	Duration   time.Duration // First to last tick
	RateMean   float64       // Ticks per second over the window
	RateStdDev float64       // Standard deviation of the instantaneous rate
	RateMin    float64       // Minimum instantaneous rate
	RateMax    float64       // Maximum instantaneous rate
	JitterMean time.Duration // Mean deviation from the expected interval
	JitterMax  time.Duration // Worst deviation from the expected interval
	IsStable   bool          // Rate stddev < 15% of mean AND jitter < 20% of interval
}

// Calculate computes tick statistics from ascending tick times.
//
// Fewer than two ticks, or a window without elapsed time, yields a zero,
// unstable Stats carrying only the tick count.
func Calculate(ticks []time.Time) Stats {
	n := len(ticks)
	if n < 2 {
		return Stats{Ticks: n}
	}

	total := ticks[n-1].Sub(ticks[0])
	if total <= 0 {
		return Stats{Ticks: n}
	}

	// n ticks delimit n-1 intervals
	rateMean := float64(n-1) / total.Seconds()

	rates := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := ticks[i].Sub(ticks[i-1]).Seconds()
		if interval > 0 {
			rates = append(rates, 1.0/interval)
		}
	}
	if len(rates) == 0 {
		return Stats{Ticks: n, Duration: total, RateMean: rateMean}
	}

	rateMin, rateMax := rates[0], rates[0]
	var sumSquares float64
	for _, r := range rates {
		rateMin = math.Min(rateMin, r)
		rateMax = math.Max(rateMax, r)
		diff := r - rateMean
		sumSquares += diff * diff
	}
	rateStdDev := math.Sqrt(sumSquares / float64(len(rates)))

	expected := 1.0 / rateMean
	var jitterSum, jitterMax float64
	for i := 1; i < n; i++ {
		j := math.Abs(ticks[i].Sub(ticks[i-1]).Seconds() - expected)
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	jitterMean := jitterSum / float64(n-1)

	return Stats{
		Ticks:      n,
		Duration:   total,
		RateMean:   rateMean,
		RateStdDev: rateStdDev,
		RateMin:    rateMin,
		RateMax:    rateMax,
		JitterMean: seconds(jitterMean),
		JitterMax:  seconds(jitterMax),
		IsStable: rateStdDev < rateMean*rateStabilityThreshold &&
			jitterMean < expected*jitterStabilityThreshold,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Tracker keeps the most recent tick times in a ring. Not safe for concurrent use.
type Tracker struct {
	ring []time.Time
	next int
	full bool
}

// NewTracker returns a Tracker holding up to window ticks (DefaultWindow if <= 1).
func NewTracker(window int) *Tracker {
	if window <= 1 {
		window = DefaultWindow
	}
	return &Tracker{ring: make([]time.Time, window)}
}

// Observe records a tick.
func (t *Tracker) Observe(at time.Time) {
	t.ring[t.next] = at
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
}

// Reset forgets every recorded tick, e.g. after a pause.
func (t *Tracker) Reset() {
	t.next = 0
	t.full = false
}

// Stats computes statistics over the recorded window in tick order.
func (t *Tracker) Stats() Stats {
	if !t.full {
		return Calculate(t.ring[:t.next])
	}
	ordered := make([]time.Time, 0, len(t.ring))
	ordered = append(ordered, t.ring[t.next:]...)
	ordered = append(ordered, t.ring[:t.next]...)
	return Calculate(ordered)
}
