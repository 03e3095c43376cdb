package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/internal/usecase"
)

func sampleStatus() usecase.Status {
	return usecase.Status{
		Position:    usecase.PositionView{Direction: models.Bull, Symbol: "TQQQ", Quantity: 200},
		RealizedPnL: decimal.RequireFromString("-12.345"),
		Trades:      4,
		Signals:     3,
		LastSignal:  models.MarketRegime{Direction: models.Bull, Timestamp: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)},
	}
}

func TestConsistent(t *testing.T) {
	a := runResult{summary: summarize(sampleStatus(), 1000, 40)}
	b := runResult{summary: summarize(sampleStatus(), 1000, 40), Elapsed: time.Second}
	assert.True(t, consistent([]runResult{a, b}))

	st := sampleStatus()
	st.Trades = 5
	c := runResult{summary: summarize(st, 1000, 40)}
	assert.False(t, consistent([]runResult{a, c}))

	assert.False(t, consistent([]runResult{a, {Err: errors.New("load failed")}}))
	assert.False(t, consistent(nil))
}

func TestSummarizeRoundsPnL(t *testing.T) {
	s := summarize(sampleStatus(), 10, 0)
	assert.Equal(t, "-12.35", s.Realized)
	assert.Equal(t, "BULL", s.Direction)
}

func TestRenderMarksMismatch(t *testing.T) {
	a := runResult{summary: summarize(sampleStatus(), 1000, 40)}
	st := sampleStatus()
	st.Signals = 9
	b := runResult{summary: summarize(st, 1000, 40)}

	var buf bytes.Buffer
	render(&buf, []runResult{a, b}, false)
	out := buf.String()
	assert.Contains(t, out, "MISMATCH")
	assert.Contains(t, out, "TQQQ")
}
