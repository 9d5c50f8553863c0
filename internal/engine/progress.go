package engine

import (
	"sync"
	"time"
)

const (
	// sampleWindow bounds how far back velocity smoothing looks.
	sampleWindow = 5 * time.Second

	// minProgressForEta is the progress floor below which no estimate
	// is produced; early samples are too noisy to extrapolate.
	minProgressForEta = 5.0

	// etaDivergenceRatio is the tolerated relative gap between the
	// velocity-based and proportional estimates before the proportional
	// one wins.
	etaDivergenceRatio = 0.5
)

type progressSample struct {
	percent float64
	at      time.Time
}

// ProgressEstimator smooths raw progress samples into a velocity and a
// time-to-completion estimate.
type ProgressEstimator struct {
	mu      sync.Mutex
	samples []progressSample
}

// NewProgressEstimator creates an empty estimator.
func NewProgressEstimator() *ProgressEstimator {
	return &ProgressEstimator{}
}

// Reset discards all samples. Called at the start of each run.
func (p *ProgressEstimator) Reset() {
	p.mu.Lock()
	p.samples = p.samples[:0]
	p.mu.Unlock()
}

// AddSample records a (progress%, timestamp) pair and evicts samples
// that have fallen out of the smoothing window.
func (p *ProgressEstimator) AddSample(percent float64, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.samples = append(p.samples, progressSample{percent: percent, at: at})

	cutoff := at.Add(-sampleWindow)
	firstValid := 0
	for firstValid < len(p.samples)-1 && p.samples[firstValid].at.Before(cutoff) {
		firstValid++
	}
	if firstValid > 0 {
		p.samples = p.samples[firstValid:]
	}
}

// Velocity returns the smoothed progress rate in percent per second,
// clamped to zero so the estimate never regresses.
func (p *ProgressEstimator) Velocity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.velocityLocked()
}

func (p *ProgressEstimator) velocityLocked() float64 {
	if len(p.samples) < 2 {
		return 0
	}
	earliest := p.samples[0]
	latest := p.samples[len(p.samples)-1]

	dt := latest.at.Sub(earliest.at).Seconds()
	if dt <= 0 {
		return 0
	}

	v := (latest.percent - earliest.percent) / dt
	if v < 0 {
		return 0
	}
	return v
}

// EstimateETA returns the estimated time to completion given the
// current progress and elapsed run time. The boolean is false while no
// estimate is available (progress under 5% or nothing to extrapolate).
//
// Two figures are computed: one from the smoothed velocity and one from
// simple proportionality over the elapsed time. The velocity figure is
// preferred, but when it diverges from the proportional figure by more
// than 50% the proportional one wins, trading responsiveness for
// stability.
func (p *ProgressEstimator) EstimateETA(progress float64, elapsed time.Duration) (time.Duration, bool) {
	if progress < minProgressForEta {
		return 0, false
	}
	if progress >= 100 {
		return 0, true
	}

	remaining := 100 - progress

	var proportional time.Duration
	haveProportional := elapsed > 0
	if haveProportional {
		proportional = time.Duration(float64(elapsed) * (100/progress - 1))
	}

	velocity := p.Velocity()
	if velocity <= 0 {
		if !haveProportional {
			return 0, false
		}
		return proportional, true
	}

	fromVelocity := time.Duration(remaining / velocity * float64(time.Second))
	if !haveProportional {
		return fromVelocity, true
	}

	diff := fromVelocity - proportional
	if diff < 0 {
		diff = -diff
	}
	if float64(diff) > float64(proportional)*etaDivergenceRatio {
		return proportional, true
	}
	return fromVelocity, true
}
