package regime

import (
	"math"
	"time"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/pkg/logger"
)

type displacement struct {
	pending    bool
	stoppedOf  models.Direction
	refPrice   float64
	eligibleAt time.Time
	guardUsed  bool // one re-entry per phase
}

// NotifyStopOut arms displacement re-entry from the stop-out price. Nothing
// is evaluated before eligibleAt, the end of the risk cooldown.
func (c *Classifier) NotifyStopOut(dir models.Direction, price float64, eligibleAt time.Time) {
	c.disp.pending = true
	c.disp.stoppedOf = dir
	c.disp.refPrice = price
	c.disp.eligibleAt = eligibleAt
}

// ClearStopOut disarms displacement re-entry, e.g. once the risk latch has
// cleared on its own.
func (c *Classifier) ClearStopOut() {
	c.disp.pending = false
}

func (c *Classifier) evaluateDisplacement(price float64, at time.Time) (models.Direction, bool) {
	dc := c.cfg.Displacement
	if !dc.Enabled || !c.disp.pending || c.mode == models.MeanReversion {
		return models.Neutral, false
	}
	if at.Before(c.disp.eligibleAt) {
		return models.Neutral, false
	}
	if c.disp.guardUsed {
		if !c.scramble() {
			return models.Neutral, false
		}
		c.disp.guardUsed = false
		c.log.Info("displacement guard re-armed by scramble",
			logger.Float64("slope", c.slope.Value()), logger.Float64("chop", c.chop.Value()))
	}
	// no unconfirmed entries while indicators warm up
	if !c.chop.Ready() && !c.bands.Ready() {
		return models.Neutral, false
	}

	move := price - c.disp.refPrice
	threshold := c.disp.refPrice * dc.FallbackPercent
	if c.atr.Ready() {
		threshold = c.atr.Value() * dc.ATRMultiple
	}
	if math.Abs(move) <= threshold {
		return models.Neutral, false
	}
	candidate := models.Bull
	if move < 0 {
		candidate = models.Bear
	}

	if !c.chopGate() || !c.bandGate() || !c.slopeGate(candidate) {
		return models.Neutral, false
	}

	c.disp.guardUsed = true
	c.disp.pending = false
	c.log.Info("displacement re-entry",
		logger.Stringer("direction", candidate),
		logger.Stringer("stopped_out_of", c.disp.stoppedOf),
		logger.Float64("ref_price", c.disp.refPrice),
		logger.Float64("price", price),
		logger.Float64("threshold", threshold))
	return candidate, true
}

func (c *Classifier) chopGate() bool {
	th := c.cfg.Displacement.ChopThreshold
	if th == 0 {
		return true
	}
	return c.chop.Ready() && c.chop.Value() < th
}

func (c *Classifier) bandGate() bool {
	if !c.cfg.Displacement.BBWExpansion {
		return true
	}
	return c.bands.Expanding()
}

func (c *Classifier) slopeGate(dir models.Direction) bool {
	minSlope := c.cfg.Displacement.MinSlope
	if minSlope == 0 {
		return true
	}
	if !c.slope.Ready() {
		return false
	}
	v := c.slope.Value()
	if dir == models.Bear {
		v = -v
	}
	return v > minSlope
}

// scramble reports a re-acceleration strong enough to allow a second
// re-entry within the same phase.
func (c *Classifier) scramble() bool {
	dc := c.cfg.Displacement
	if dc.MinSlope == 0 || dc.ChopThreshold == 0 || !c.slope.Ready() || !c.chop.Ready() {
		return false
	}
	return math.Abs(c.slope.Value()) > 2*dc.MinSlope &&
		c.chop.Value() < dc.ScrambleChopRatio*dc.ChopThreshold
}
