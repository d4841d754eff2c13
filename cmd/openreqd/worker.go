package main

import (
	"context"
	"sync"
	"time"

	"github.com/openreq/openreq"
	"github.com/openreq/openreq/pkg/log"
	"github.com/openreq/openreq/request"
	"github.com/openreq/openreq/store"
)

// detectionTimeout bounds one balance computation.
const detectionTimeout = 30 * time.Second

// DetectionWorker periodically recomputes the balance of every open
// request and records the outcome.
type DetectionWorker struct {
	node     *openreq.Node
	store    *store.Store
	metrics  *Metrics
	interval time.Duration
	logger   log.Logger
}

func NewDetectionWorker(node *openreq.Node, st *store.Store, metrics *Metrics, interval time.Duration, logger log.Logger) *DetectionWorker {
	return &DetectionWorker{
		node:     node,
		store:    st,
		metrics:  metrics,
		interval: interval,
		logger:   logger.NewSystem("detection-worker"),
	}
}

// Start runs detection sweeps until the context is canceled. One sweep
// fans out per open state so a slow ledger never starves the other.
func (w *DetectionWorker) Start(ctx context.Context) {
	w.logger.Info("detection worker started", "interval", w.interval)
	ctx = log.SetContextLogger(ctx, w.logger)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("detection worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DetectionWorker) sweep(ctx context.Context) {
	states := []request.State{request.StateCreated, request.StateAccepted}

	var wg sync.WaitGroup
	for _, state := range states {
		wg.Add(1)
		go func(state request.State) {
			defer wg.Done()
			w.sweepState(ctx, state)
		}(state)
	}
	wg.Wait()
}

func (w *DetectionWorker) sweepState(ctx context.Context, state request.State) {
	requests, err := w.store.ListRequestsByState(ctx, state)
	if err != nil {
		w.logger.Error("failed to list requests", "state", state, "error", err)
		return
	}
	if len(requests) == 0 {
		return
	}

	w.logger.Debug("sweeping requests", "state", state, "count", len(requests))
	for _, req := range requests {
		if ctx.Err() != nil {
			w.logger.Info("context cancelled, stopping sweep")
			return
		}
		w.detect(ctx, req)
	}
}

func (w *DetectionWorker) detect(ctx context.Context, req *request.Request) {
	logger := log.FromContext(ctx).With("requestId", req.RequestID)

	detectCtx, cancel := context.WithTimeout(ctx, detectionTimeout)
	defer cancel()

	start := time.Now()
	balance, err := w.node.ComputeBalance(detectCtx, req)
	if err != nil {
		// No payment network on the request; nothing to detect.
		logger.Debug("skipping request", "reason", err)
		return
	}
	w.metrics.DetectionDuration.Observe(time.Since(start).Seconds())

	extensionID := ""
	for id, state := range req.Extensions {
		if state.Type == request.ExtensionTypePaymentNetwork {
			extensionID = id
		}
	}

	w.metrics.DetectionsTotal.WithLabelValues(extensionID).Inc()
	w.metrics.DetectionEvents.Add(float64(len(balance.Events)))
	if balance.Error != nil {
		w.metrics.DetectionsFail.WithLabelValues(extensionID, string(balance.Error.Code)).Inc()
		logger.Warn("detection failed", "code", balance.Error.Code, "message", balance.Error.Message)
	}

	if _, err := w.store.SaveDetectionRun(ctx, req.RequestID, extensionID, balance); err != nil {
		logger.Error("failed to record detection run", "error", err)
	}
}
