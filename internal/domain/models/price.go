package models

// PriceResult is either Ready with a price or NotReady with a reason.
type PriceResult struct {
	price  float64
	reason string
	ready  bool
}

// Ready wraps a usable price.
func Ready(price float64) PriceResult {
	return PriceResult{price: price, ready: true}
}

// NotReady explains why no price is available.
func NotReady(reason string) PriceResult {
	return PriceResult{reason: reason}
}

// Price returns the price and whether it is usable.
func (r PriceResult) Price() (float64, bool) { return r.price, r.ready }

func (r PriceResult) IsReady() bool { return r.ready }

func (r PriceResult) Reason() string { return r.reason }
