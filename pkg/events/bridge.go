// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ikhoon/centraldogma/pkg/storage"
)

// CommitBridge returns a storage.CommitListener that publishes every
// commit on the bus as a CloudEvent. Wire it at startup:
//
//	bus := events.NewInMemoryEventBus(cfg.BufferSize, cfg.WorkerCount, logger)
//	repo := storage.NewRepository(
//	    storage.WithNotifier(registry),
//	    storage.WithCommitListener(events.CommitBridge(cfg, bus, logger)),
//	)
//
// Publish failures are logged and otherwise ignored; event delivery is
// best-effort and never blocks or fails a commit.
func CommitBridge(cfg Config, bus EventBus, logger *zap.Logger) storage.CommitListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c storage.Commit) {
		event, err := NewCommitEvent(cfg, CommitData{
			ID:       c.ID,
			Revision: c.Revision,
			Summary:  c.Summary,
			Paths:    c.Paths,
			Time:     c.Time,
		})
		if err != nil {
			logger.Warn("failed to build commit event", zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := bus.Publish(ctx, *event); err != nil {
			logger.Warn("failed to publish commit event",
				zap.Int64("revision", int64(c.Revision)),
				zap.Error(err))
		}
	}
}
