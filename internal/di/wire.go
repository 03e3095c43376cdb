//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"ProxyTrader/pkg/config"
	"ProxyTrader/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvidePriceHistory,
	ProvideCache,
	ProvideStateStore,
	ProvideJournal,
	ProvideSignalPublisher,
	ProvideMarketData,
	ProvidePaperBroker,
)

var engineSet = wire.NewSet(
	ProvideClassifier,
	ProvideTrailingStop,
	ProvideChaser,
	ProvideEngine,
)

// InitializeApp wires the long-running process for cfg.Mode.
func InitializeApp(ctx context.Context, cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		engineSet,
		ProvideTickArchive,
		ProvideLease,
		ProvideRunner,
		ProvideHistoryUseCase,
		ProvideAPIHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeReplaySession wires one replay with its own engine and stores.
func InitializeReplaySession(ctx context.Context, cfg *config.Config) (*ReplaySession, func(), error) {
	wire.Build(
		infraSet,
		engineSet,
		ProvideReplay,
		ProvideReplayRunner,
		ProvideReplaySession,
	)
	return nil, nil, nil
}
