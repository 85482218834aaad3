// Package throttle shapes request flow ahead of the chat orchestrator: it
// counts usage through the quota service, delays requests as usage climbs
// toward the limit, and rejects with 429 once a limit is exceeded.
package throttle

import (
	"math"
	"sort"
	"time"
)

// Default delay-curve parameters.
const (
	DefaultThreshold = 0.70
	DefaultMinDelay  = 100 * time.Millisecond
	DefaultMaxDelay  = 5 * time.Second
)

// DefaultPriorityAnchors maps throttle priority to a delay multiplier.
// Intermediate priorities interpolate linearly.
var DefaultPriorityAnchors = map[int]float64{
	1:  0.5,
	5:  1.0,
	10: 2.0,
}

// usageFraction is the worst-case consumption ratio across both periods.
// Nil or zero limits contribute nothing (unlimited).
func usageFraction(dailyUsed, monthlyUsed int64, dailyLimit, monthlyLimit *int64) float64 {
	var u float64
	if dailyLimit != nil && *dailyLimit > 0 {
		u = float64(dailyUsed) / float64(*dailyLimit)
	}
	if monthlyLimit != nil && *monthlyLimit > 0 {
		if m := float64(monthlyUsed) / float64(*monthlyLimit); m > u {
			u = m
		}
	}
	return u
}

// delayFor computes the base delay for a usage fraction. Usage at or below
// the threshold costs nothing; above it the delay rises along the
// configured curve between min and max.
func delayFor(usage, threshold float64, minDelay, maxDelay time.Duration, curve string) time.Duration {
	if usage <= threshold || threshold >= 1 {
		return 0
	}
	x := (usage - threshold) / (1 - threshold)
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	if curve == "exponential" {
		x = x * x
	}
	m := float64(minDelay.Milliseconds())
	M := float64(maxDelay.Milliseconds())
	return time.Duration(math.Round(m+(M-m)*x)) * time.Millisecond
}

// priorityMultiplier interpolates the multiplier for a priority from the
// anchor points, clamping outside the anchored range.
func priorityMultiplier(priority int, anchors map[int]float64) float64 {
	if len(anchors) == 0 {
		return 1.0
	}
	points := make([]int, 0, len(anchors))
	for p := range anchors {
		points = append(points, p)
	}
	sort.Ints(points)

	if priority <= points[0] {
		return anchors[points[0]]
	}
	if priority >= points[len(points)-1] {
		return anchors[points[len(points)-1]]
	}
	for i := 1; i < len(points); i++ {
		lo, hi := points[i-1], points[i]
		if priority <= hi {
			frac := float64(priority-lo) / float64(hi-lo)
			return anchors[lo] + (anchors[hi]-anchors[lo])*frac
		}
	}
	return 1.0
}

// totalDelay applies the priority multiplier and caps at the maximum.
func totalDelay(base time.Duration, priority int, anchors map[int]float64, maxDelay time.Duration) time.Duration {
	d := time.Duration(math.Round(float64(base.Milliseconds())*priorityMultiplier(priority, anchors))) * time.Millisecond
	if d > maxDelay {
		return maxDelay
	}
	return d
}
