package pipeline

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"ProxyTrader/internal/domain/models"
)

// BridgeConfig controls gap interpolation for sparse historical sources.
type BridgeConfig struct {
	GapThreshold time.Duration
	Step         time.Duration
	// Volatility is sigma per sqrt(second) of log price. Zero estimates it
	// from the source's own returns.
	Volatility float64
	Seed       uint64
}

// Bridge fills wide gaps with ticks sampled from a Brownian bridge in log
// price space, pinned to the real ticks on both sides of the gap.
type Bridge struct {
	cfg BridgeConfig
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.GapThreshold <= 0 {
		cfg.GapThreshold = 2 * time.Second
	}
	if cfg.Step <= 0 {
		cfg.Step = time.Second
	}
	return &Bridge{cfg: cfg}
}

// Fill returns ticks with synthetic samples inserted into gaps wider than the
// threshold. Sources whose average spacing is already below the threshold are
// returned untouched. Output is a pure function of (config, name, ticks).
func (b *Bridge) Fill(name string, ticks []models.PriceTick) []models.PriceTick {
	if len(ticks) < 2 || averageGap(ticks) < b.cfg.GapThreshold {
		return ticks
	}
	sigma := b.cfg.Volatility
	if sigma <= 0 {
		sigma = estimateSigma(ticks)
	}
	rng := rand.New(rand.NewPCG(b.cfg.Seed, nameHash(name)))

	out := make([]models.PriceTick, 0, len(ticks))
	out = append(out, ticks[0])
	for i := 1; i < len(ticks); i++ {
		prev, next := ticks[i-1], ticks[i]
		if next.Timestamp.Sub(prev.Timestamp) > b.cfg.GapThreshold {
			out = b.interpolate(out, prev, next, sigma, rng)
		}
		out = append(out, next)
	}
	return out
}

func (b *Bridge) interpolate(out []models.PriceTick, from, to models.PriceTick, sigma float64, rng *rand.Rand) []models.PriceTick {
	x := math.Log(from.Price)
	target := math.Log(to.Price)
	at := from.Timestamp
	for {
		ts := at.Add(b.cfg.Step)
		if !ts.Before(to.Timestamp) {
			return out
		}
		dt := ts.Sub(at).Seconds()
		remaining := to.Timestamp.Sub(at).Seconds()
		mean := x + (target-x)*dt/remaining
		variance := sigma * sigma * dt * (remaining - dt) / remaining
		x = mean
		if variance > 0 {
			x += math.Sqrt(variance) * rng.NormFloat64()
		}
		out = append(out, models.PriceTick{
			Symbol:      from.Symbol,
			Price:       math.Round(math.Exp(x)*1e4) / 1e4,
			IsBenchmark: from.IsBenchmark,
			Timestamp:   ts,
			Source:      "bridge",
			Synthetic:   true,
		})
		at = ts
	}
}

func averageGap(ticks []models.PriceTick) time.Duration {
	span := ticks[len(ticks)-1].Timestamp.Sub(ticks[0].Timestamp)
	return span / time.Duration(len(ticks)-1)
}

// estimateSigma returns the RMS of log returns scaled to one second.
func estimateSigma(ticks []models.PriceTick) float64 {
	var sum float64
	n := 0
	for i := 1; i < len(ticks); i++ {
		dt := ticks[i].Timestamp.Sub(ticks[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		r := math.Log(ticks[i].Price / ticks[i-1].Price)
		sum += r * r / dt
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

func nameHash(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
