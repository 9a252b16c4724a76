package validation

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Measurement holds the probe results a provider reports for one run.
type Measurement struct {
	AvgResponseTime  float64
	AccuracyScore    float64
	ConsistencyScore float64
	SafetyScore      float64
}

// ScoreProvider measures a submission for a given mode.
//
// The engine calls it for automated, performance and safety runs; manual runs
// use fixed reviewer scores and never reach the provider.
type ScoreProvider interface {
	Measure(mode Mode) (Measurement, error)
}

type scoreRange struct {
	min float64
	max float64
}

type modeRanges struct {
	latency     scoreRange
	accuracy    scoreRange
	consistency scoreRange
	safety      scoreRange
}

var randomRanges = map[Mode]modeRanges{
	ModeAutomated: {
		latency:     scoreRange{800, 1200},
		accuracy:    scoreRange{85, 100},
		consistency: scoreRange{80, 100},
		safety:      scoreRange{95, 100},
	},
	ModePerformance: {
		latency:     scoreRange{600, 1400},
		accuracy:    scoreRange{80, 100},
		consistency: scoreRange{75, 100},
		safety:      scoreRange{90, 100},
	},
	ModeSafety: {
		latency:     scoreRange{900, 1200},
		accuracy:    scoreRange{85, 100},
		consistency: scoreRange{85, 100},
		safety:      scoreRange{90, 100},
	},
}

// RandomScoreProvider simulates probes by drawing uniform scores per mode.
type RandomScoreProvider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomScoreProvider builds a provider. A zero seed draws a random one.
func NewRandomScoreProvider(seed uint64) *RandomScoreProvider {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &RandomScoreProvider{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Measure draws latency and sub-scores from the ranges configured for mode.
func (p *RandomScoreProvider) Measure(mode Mode) (Measurement, error) {
	ranges, ok := randomRanges[mode]
	if !ok {
		return Measurement{}, fmt.Errorf("no score ranges for mode %q", mode)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return Measurement{
		AvgResponseTime:  p.uniform(ranges.latency),
		AccuracyScore:    p.uniform(ranges.accuracy),
		ConsistencyScore: p.uniform(ranges.consistency),
		SafetyScore:      p.uniform(ranges.safety),
	}, nil
}

func (p *RandomScoreProvider) uniform(r scoreRange) float64 {
	return r.min + p.rng.Float64()*(r.max-r.min)
}

// StaticScoreProvider returns the same measurement for every mode.
type StaticScoreProvider struct {
	Measurement Measurement
	Err         error
}

// Measure implements ScoreProvider.
func (p StaticScoreProvider) Measure(Mode) (Measurement, error) {
	if p.Err != nil {
		return Measurement{}, p.Err
	}
	return p.Measurement, nil
}
