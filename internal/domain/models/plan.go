package models

// TradePlan is one position change decided by the engine.
type TradePlan struct {
	From   Direction `json:"from"`
	To     Direction `json:"to"`
	Symbol string    `json:"symbol"`
	Qty    int64     `json:"qty"`
}

// Flip reports whether the plan moves between two open positions.
func (p TradePlan) Flip() bool {
	return p.From.IsDirectional() && p.To.IsDirectional()
}
