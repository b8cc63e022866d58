package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/canbridge/gvret-canet-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"gvret_rx_commands", snap.GvretRxCommands,
					"gvret_rx_frames", snap.GvretRxFrames,
					"gvret_tx_frames", snap.GvretTxFrames,
					"gvret_tx_responses", snap.GvretTxResponses,
					"canet_rx", snap.CanetRx,
					"canet_tx", snap.CanetTx,
					"malformed", snap.Malformed,
					"dropped", snap.Dropped,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
