package internal

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/config"
	"github.com/vadiminshakov/tokensieve/internal/clients"
	"github.com/vadiminshakov/tokensieve/internal/fork"
	"github.com/vadiminshakov/tokensieve/internal/services/gmx"
)

// ShortResult is a built GMX order together with the decoded multicall results
// of its simulation.
type ShortResult struct {
	Order   gmx.Order
	Results [][]byte
}

// SimulateShort builds a GMX short position order and executes it on a fork of
// the latest GMX chain block. Nothing is broadcast.
func SimulateShort(ctx context.Context, conf config.GMX, backend clients.Backend, req gmx.ShortRequest,
	logger *zap.Logger) (ShortResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	builder := gmx.NewBuilder(conf, newIndexPricer(conf), logger)
	order, err := builder.CreateShortPosition(ctx, req)
	if err != nil {
		return ShortResult{}, errors.Wrap(err, "failed to build short order")
	}

	f, err := fork.New(ctx, backend, nil, fork.WithLogger(logger))
	if err != nil {
		return ShortResult{}, errors.Wrap(err, "failed to fork gmx chain")
	}
	results, err := builder.Simulate(ctx, f, order)
	if err != nil {
		return ShortResult{Order: order}, errors.Wrap(err, "failed to simulate short order")
	}

	logger.Info("short order simulated",
		zap.Stringer("owner", req.Owner),
		zap.String("size_usd", req.SizeUSD.String()),
		zap.Int("calls", len(results)))
	return ShortResult{Order: order, Results: results}, nil
}
