package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestAppReturnsWhenWorkloadFinishes(t *testing.T) {
	app := New(runnerFunc(func(context.Context) error { return nil }), nil, nil, time.Second)
	require.NoError(t, app.Run(context.Background()))
}

func TestAppPropagatesWorkloadError(t *testing.T) {
	boom := errors.New("replay: load QQQ: missing file")
	app := New(runnerFunc(func(context.Context) error { return boom }), nil, nil, time.Second)
	assert.ErrorIs(t, app.Run(context.Background()), boom)
}

func TestAppStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	app := New(runnerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), nil, nil, time.Second)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	<-started
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppGivesUpOnStuckWorkload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	app := New(runnerFunc(func(context.Context) error {
		time.Sleep(time.Second)
		return nil
	}), nil, nil, 50*time.Millisecond)

	err := app.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not stop")
}
