package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/service/lifecycle"
)

type approvalSweeper struct {
	logger   *slog.Logger
	svc      *lifecycle.Service
	interval time.Duration
	batch    int
}

func startApprovalSweeper(ctx context.Context, logger *slog.Logger, svc *lifecycle.Service, interval time.Duration) {
	if svc == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	s := &approvalSweeper{
		logger:   logger,
		svc:      svc,
		interval: interval,
		batch:    50,
	}

	go s.run(ctx)
}

func (s *approvalSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *approvalSweeper) sweepOnce(ctx context.Context) {
	expired, err := s.svc.Sweep(ctx, s.batch)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("approval sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("expired overdue approvals", "count", expired)
	}
}
