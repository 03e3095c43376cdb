// Package pipeline turns one or more tick sources into a single time-ordered
// stream delivered to one consumer.
//
// Replay delivers ticks through a blocking handoff so identical input always
// yields identical consumer state. LiveFeed buffers without bound so market
// data producers never stall behind a slow consumer.
package pipeline

import (
	"context"

	"ProxyTrader/internal/domain/models"
)

// Handler consumes one tick. A non-nil error stops the run.
type Handler func(ctx context.Context, t models.PriceTick) error

// Source is a finite, replayable tick source.
type Source interface {
	Name() string
	// Load returns the source's ticks ordered by timestamp.
	Load(ctx context.Context) ([]models.PriceTick, error)
}

// SliceSource serves ticks held in memory.
type SliceSource struct {
	name  string
	ticks []models.PriceTick
}

func NewSliceSource(name string, ticks []models.PriceTick) *SliceSource {
	return &SliceSource{name: name, ticks: ticks}
}

func (s *SliceSource) Name() string { return s.name }

func (s *SliceSource) Load(ctx context.Context) ([]models.PriceTick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.PriceTick, len(s.ticks))
	copy(out, s.ticks)
	return out, nil
}
