// Package stats turns an ordered list of latency samples into the fixed
// five-value statistics vector published for every window and history bucket.
package stats

import (
	"encoding/json"
	"fmt"
	"math"
)

// Ceiling is the maximum recorded latency in milliseconds. A sample at the
// ceiling is a failed or timed-out probe, never a real measurement.
const Ceiling = 5000.0

// Sample is one timestamped latency measurement.
type Sample struct {
	Timestamp int64   `json:"ts"` // Unix milliseconds
	LatencyMs float64 `json:"ms"`
}

// Success reports whether the sample is a real measurement.
func (s Sample) Success() bool {
	return s.LatencyMs < Ceiling
}

// StatVector is [loss_pct, min_ms, max_ms, avg_ms, jitter_ms].
// It marshals to a JSON array of five numbers.
type StatVector [5]float64

const (
	IdxLoss = iota
	IdxMin
	IdxMax
	IdxAvg
	IdxJitter
)

func (v StatVector) Loss() float64   { return v[IdxLoss] }
func (v StatVector) Min() float64    { return v[IdxMin] }
func (v StatVector) Max() float64    { return v[IdxMax] }
func (v StatVector) Avg() float64    { return v[IdxAvg] }
func (v StatVector) Jitter() float64 { return v[IdxJitter] }

// UnmarshalJSON accepts exactly five numbers.
func (v *StatVector) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != len(v) {
		return fmt.Errorf("stat vector: expected %d values, got %d", len(v), len(raw))
	}
	copy(v[:], raw)
	return nil
}

// Calculate computes the statistics vector for samples.
//
// Failed samples count toward loss and are otherwise skipped. Jitter is the
// mean absolute difference between each successful sample and the previous
// successful one in traversal order, so callers must pass samples in
// chronological order.
func Calculate(samples []Sample) StatVector {
	if len(samples) == 0 {
		return StatVector{}
	}

	var (
		successCount int
		totalMs      float64
		minMs        = Ceiling
		maxMs        float64
		jitterSum    float64
		jitterCount  int
		prevMs       float64
		havePrev     bool
	)

	for _, s := range samples {
		if !s.Success() {
			continue
		}

		successCount++
		totalMs += s.LatencyMs
		if s.LatencyMs < minMs {
			minMs = s.LatencyMs
		}
		if s.LatencyMs > maxMs {
			maxMs = s.LatencyMs
		}

		if havePrev {
			jitterSum += math.Abs(s.LatencyMs - prevMs)
			jitterCount++
		}
		prevMs = s.LatencyMs
		havePrev = true
	}

	loss := float64(len(samples)-successCount) / float64(len(samples)) * 100

	var avg, jitter float64
	if successCount > 0 {
		avg = totalMs / float64(successCount)
	} else {
		minMs = 0
	}
	if jitterCount > 0 {
		jitter = jitterSum / float64(jitterCount)
	}

	return StatVector{
		Round2(loss),
		Round2(minMs),
		Round2(maxMs),
		Round2(avg),
		Round2(jitter),
	}
}

// Round2 rounds to two decimal places, halves away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
