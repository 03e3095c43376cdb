package models

// Requests for the engine HTTP endpoints, bound and validated by pkg/http.

type SignalsRequest struct {
	Limit     int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
	Direction string `query:"direction" json:"direction" validate:"omitempty,oneof=BULL BEAR NEUTRAL MR_FLAT MR_SHORT"`
}

type FillsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"omitempty,alphanum"`
	Limit  int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type FlattenRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=200"`
}

type TicksRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,alphanum"`
	From   string `query:"from" json:"from" validate:"required"`
	To     string `query:"to" json:"to" validate:"required"`
	Limit  int    `query:"limit" json:"limit" default:"1000" validate:"gte=1,lte=50000"`
}
