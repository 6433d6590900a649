package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/common"
)

// probeOnce issues a cache-disabled HEAD to endpoint's test path and
// reports availability per spec §4.E: "Available iff 2xx or 304."
func probeOnce(ctx context.Context, transport adapter.Transport, e *Endpoint) bool {
	testURL := fmt.Sprintf("%s%s?t=%d", e.BaseURL, e.TestPath, time.Now().UnixMilli())
	start := time.Now()

	resp, err := transport.Do(ctx, http.MethodHead, testURL, adapter.RequestOptions{
		Headers: map[string]string{"Cache-Control": "no-store"},
	})
	latency := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastLatency = latency
	if err != nil {
		return false
	}
	return resp.StatusCode < 300 || resp.StatusCode == http.StatusNotModified
}

// RunHealthLoop probes every endpoint every cfg.HealthCheckInterval until
// ctx is cancelled, electing a new active endpoint on failover per spec
// §4.E. Probes fan out via errgroup the way azcopy's job-part manager
// fans out per-transfer work, one goroutine per endpoint with no group
// limit.
func (c *Connector) RunHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.healthTick(ctx)
		}
	}
}

func (c *Connector) healthTick(ctx context.Context) {
	c.mu.RLock()
	endpoints := append([]*Endpoint{}, c.endpoints...)
	c.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	results := make([]bool, len(endpoints))
	for i, e := range endpoints {
		i, e := i, e
		g.Go(func() error {
			results[i] = probeOnce(gctx, c.transport, e)
			return nil
		})
	}
	_ = g.Wait()

	for i, e := range endpoints {
		c.recordProbeResult(e, results[i])
	}
}

// recordProbeResult applies one probe outcome's effect on an endpoint's
// failure counter and, on threshold breach, triggers failover (spec
// §4.E).
func (c *Connector) recordProbeResult(e *Endpoint, ok bool) {
	e.mu.Lock()
	wasActive := e.status == EEndpointStatus.Active()
	if ok {
		e.failureCount = 0
		if e.status == EEndpointStatus.Offline() {
			e.status = EEndpointStatus.Backup()
		}
		e.mu.Unlock()
		return
	}

	e.failureCount++
	breach := e.failureCount >= c.cfg.FailoverThreshold
	if breach {
		e.status = EEndpointStatus.Offline()
	}
	e.mu.Unlock()

	if !breach || !wasActive {
		return
	}

	c.electNewActive(e)
}

// electNewActive runs after the active endpoint goes offline: the first
// available endpoint (active, counter < threshold) becomes active; the
// next becomes backup (spec §4.E).
func (c *Connector) electNewActive(failed *Endpoint) {
	c.mu.Lock()
	var candidate *Endpoint
	for _, e := range c.endpoints {
		if e.ID == failed.ID {
			continue
		}
		if e.Status() != EEndpointStatus.Offline() {
			candidate = e
			break
		}
	}
	if candidate == nil {
		c.mu.Unlock()
		c.logger.Log(common.LogError, "all CDN endpoints offline")
		c.emitAllFailed()
		return
	}

	c.activeID = candidate.ID
	candidate.mu.Lock()
	candidate.status = EEndpointStatus.Active()
	candidate.mu.Unlock()
	for _, e := range c.endpoints {
		if e.ID == failed.ID || e.ID == candidate.ID {
			continue
		}
		e.mu.Lock()
		if e.status != EEndpointStatus.Offline() {
			e.status = EEndpointStatus.Backup()
			e.mu.Unlock()
			break
		}
		e.mu.Unlock()
	}
	c.mu.Unlock()

	c.logger.Log(common.LogWarning, fmt.Sprintf("cdn failover: %s -> %s", failed.ID, candidate.ID))
	c.emitFailover(FailoverEvent{From: failed, To: candidate})
}

// RunRecoveryLoop re-probes offline endpoints every
// cfg.StatusRefreshInterval, promoting the first one that recovers to
// active if no endpoint is currently active (spec §4.E).
func (c *Connector) RunRecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StatusRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.recoveryTick(ctx)
		}
	}
}

func (c *Connector) recoveryTick(ctx context.Context) {
	c.mu.RLock()
	var offline []*Endpoint
	hasActive := false
	for _, e := range c.endpoints {
		switch e.Status() {
		case EEndpointStatus.Offline():
			offline = append(offline, e)
		case EEndpointStatus.Active():
			hasActive = true
		}
	}
	c.mu.RUnlock()

	for _, e := range offline {
		if !probeOnce(ctx, c.transport, e) {
			continue
		}
		e.mu.Lock()
		e.failureCount = 0
		if !hasActive {
			e.status = EEndpointStatus.Active()
		} else {
			e.status = EEndpointStatus.Backup()
		}
		e.mu.Unlock()

		if !hasActive {
			c.mu.Lock()
			c.activeID = e.ID
			c.mu.Unlock()
			hasActive = true
		}
	}
}

type invalidationRequest struct {
	URLs     []string `json:"urls"`
	Provider string   `json:"provider"`
}

// Invalidate POSTs a cache-invalidation request for the given endpoint
// (or the active one, if id is empty), retried under exponential backoff
// per spec §4.E.
func (c *Connector) Invalidate(ctx context.Context, urls []string, id string) error {
	c.mu.RLock()
	target := c.activeID
	if id != "" {
		target = id
	}
	e := c.findByIDLocked(target)
	c.mu.RUnlock()
	if e == nil {
		return common.NewError(common.ECode.Input(), "no such endpoint to invalidate", nil)
	}
	if e.InvalidationURL == "" {
		return common.NewError(common.ECode.Config(), "endpoint has no invalidation URL configured", nil)
	}

	body, err := json.Marshal(invalidationRequest{URLs: urls, Provider: e.Provider})
	if err != nil {
		return common.NewError(common.ECode.IO(), "marshalling invalidation request", err)
	}

	backoff := common.BackoffConfig{
		MaxRetries:        c.cfg.MaxRetries,
		InitialDelay:      c.cfg.RetryDelay,
		MaxDelay:          c.cfg.MaxRetryDelay,
		BackoffMultiplier: c.cfg.BackoffFactor,
	}

	_, err = common.WithBackoff(ctx, c.logger, "cdn-invalidate", backoff, func(ctx context.Context, attempt int) (struct{}, error) {
		headers := map[string]string{"Content-Type": "application/json"}
		if e.APIKey != "" {
			headers["X-API-Key"] = e.APIKey
		}
		if e.BearerToken != "" {
			headers["Authorization"] = "Bearer " + e.BearerToken
		}
		resp, err := c.transport.Do(ctx, http.MethodPost, e.InvalidationURL, adapter.RequestOptions{
			Headers: headers,
			Body:    bytes.NewReader(body),
		})
		if err != nil {
			return struct{}{}, common.NewError(common.ECode.Network(), "invalidation request failed", err)
		}
		if resp.StatusCode >= 500 {
			return struct{}{}, common.NewRetryableError(common.ECode.Server(), fmt.Sprintf("invalidation returned %d", resp.StatusCode), nil, true)
		}
		if resp.StatusCode >= 400 {
			return struct{}{}, common.NewRetryableError(common.ECode.Server(), fmt.Sprintf("invalidation rejected with %d", resp.StatusCode), nil, false)
		}
		return struct{}{}, nil
	})
	return err
}
