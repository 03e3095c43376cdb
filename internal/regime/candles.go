package regime

import (
	"time"

	"ProxyTrader/internal/domain/models"
)

// candleBuilder buckets benchmark ticks into fixed-interval candles. A candle
// is emitted when the first tick of a later bucket arrives.
type candleBuilder struct {
	interval time.Duration
	cur      models.Candle
	open     bool
	late     int
}

func newCandleBuilder(interval time.Duration) *candleBuilder {
	return &candleBuilder{interval: interval}
}

// add folds t into the open candle and returns the previous candle when t
// starts a new bucket. Ticks for an already-closed bucket are dropped.
func (b *candleBuilder) add(t models.PriceTick) (models.Candle, bool) {
	bucket := t.Timestamp.UTC().Truncate(b.interval)
	if b.open && bucket.Before(b.cur.OpenTime) {
		b.late++
		return models.Candle{}, false
	}
	if b.open && bucket.After(b.cur.OpenTime) {
		closed := b.cur
		b.start(bucket, t.Price)
		return closed, true
	}
	if !b.open {
		b.start(bucket, t.Price)
		return models.Candle{}, false
	}

	c := &b.cur
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Ticks++
	return models.Candle{}, false
}

func (b *candleBuilder) start(bucket time.Time, price float64) {
	b.cur = models.Candle{OpenTime: bucket, Open: price, High: price, Low: price, Close: price, Ticks: 1}
	b.open = true
}

func (b *candleBuilder) reset() {
	b.cur = models.Candle{}
	b.open = false
}
