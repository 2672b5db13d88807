package events

import (
	"math/rand/v2"
	"slices"
)

// SyntheticSpanMicros is the time range covered by a synthesized batch (1 second).
const SyntheticSpanMicros = 1_000_000

// Synthesize generates n uniformly random events inside a height x width sensor.
//
// Timestamps are drawn from [start, start+SyntheticSpanMicros) and sorted ascending,
// polarities are 0 or 1. The same seed always yields the same batch.
func Synthesize(n, height, width int, start int64, seed uint64) Batch {
	return SynthesizeSpan(n, height, width, start, SyntheticSpanMicros, seed)
}

// SynthesizeSpan is Synthesize with timestamps drawn from [start, start+span).
func SynthesizeSpan(n, height, width int, start, span int64, seed uint64) Batch {
	if n <= 0 || height <= 0 || width <= 0 {
		return Batch{}
	}
	span = max(span, 1)

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	timestamps := make([]int64, n)
	for i := range timestamps {
		timestamps[i] = start + rng.Int64N(span)
	}
	slices.Sort(timestamps)

	batch := make(Batch, n)
	for i := range batch {
		batch[i] = Event{
			Timestamp: timestamps[i],
			X:         rng.IntN(width),
			Y:         rng.IntN(height),
			Polarity:  rng.IntN(NumPolarities),
		}
	}
	return batch
}
