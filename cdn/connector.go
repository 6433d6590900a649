// Package cdn implements the CDN/Endpoint Connector (spec §4.E): a
// ranked pool of upload/download endpoints with health probing,
// failover, recovery and cache invalidation.
package cdn

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/common"
)

// EndpointStatus is one endpoint's health state.
type EndpointStatus uint8

var EEndpointStatus = EndpointStatus(0)

func (EndpointStatus) Active() EndpointStatus  { return EndpointStatus(0) }
func (EndpointStatus) Backup() EndpointStatus  { return EndpointStatus(1) }
func (EndpointStatus) Offline() EndpointStatus { return EndpointStatus(2) }

func (s EndpointStatus) String() string { return common.EnumString(s) }

// Endpoint is one CDN/origin target in the pool.
type Endpoint struct {
	ID                string
	BaseURL           string
	TestPath          string
	InvalidationURL   string
	Provider          string
	APIKey            string
	BearerToken       string

	mu              sync.Mutex
	status          EndpointStatus
	failureCount    int
	lastLatency     time.Duration
}

func (e *Endpoint) Status() EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Config tunes the connector, spec §4.E / SPEC_FULL.md §1.3 config keys.
type Config struct {
	HealthCheckInterval  time.Duration
	StatusRefreshInterval time.Duration
	FailoverThreshold    int
	MaxRetries           int
	RetryDelay           time.Duration
	BackoffFactor        float64
	MaxRetryDelay        time.Duration
}

func DefaultConfig() Config {
	return Config{
		HealthCheckInterval:   30 * time.Second,
		StatusRefreshInterval: 5 * time.Minute,
		FailoverThreshold:     3,
		MaxRetries:            5,
		RetryDelay:            time.Second,
		BackoffFactor:         2.0,
		MaxRetryDelay:         30 * time.Second,
	}
}

type FailoverEvent struct {
	From *Endpoint
	To   *Endpoint
}

// Connector owns the ranked endpoint pool. Method names mirror spec
// §4.E's public contract directly: activeEndpoint, switchTo, invalidate,
// resolveUrl, onFailover, onAllFailed, status.
type Connector struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	activeID  string
	transport adapter.Transport
	cfg       Config
	logger    common.ILogger

	onFailoverCbs  []func(FailoverEvent)
	onAllFailedCbs []func()
}

func New(endpoints []*Endpoint, transport adapter.Transport, cfg Config, logger common.ILogger) *Connector {
	if logger == nil {
		logger = common.NullLogger{}
	}
	c := &Connector{endpoints: endpoints, transport: transport, cfg: cfg, logger: logger}
	for _, e := range endpoints {
		e.status = EEndpointStatus.Active()
	}
	if len(endpoints) > 0 {
		c.activeID = endpoints[0].ID
		if len(endpoints) > 1 {
			endpoints[1].status = EEndpointStatus.Backup()
		}
	}
	return c
}

// ActiveEndpoint returns the current primary endpoint, or nil if none.
func (c *Connector) ActiveEndpoint() *Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findByIDLocked(c.activeID)
}

func (c *Connector) findByIDLocked(id string) *Endpoint {
	for _, e := range c.endpoints {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// ReportOutcome lets a caller outside the health loop (the upload engine,
// reporting a chunk request's transport-level outcome) feed the same
// failure-counter/failover machinery the HEAD-probe health loop uses.
// Spec §4.E's failoverThreshold applies to "consecutive health failures,"
// and a chunk request failing against the active endpoint is exactly that
// signal arriving out of band from the ticker.
func (c *Connector) ReportOutcome(id string, ok bool) {
	c.mu.RLock()
	e := c.findByIDLocked(id)
	c.mu.RUnlock()
	if e == nil {
		return
	}
	c.recordProbeResult(e, ok)
}

// SwitchTo promotes endpoint id to active, demoting the previous active
// to backup.
func (c *Connector) SwitchTo(id string) error {
	c.mu.Lock()
	target := c.findByIDLocked(id)
	if target == nil {
		c.mu.Unlock()
		return common.NewError(common.ECode.Input(), fmt.Sprintf("unknown endpoint %q", id), nil)
	}
	prev := c.findByIDLocked(c.activeID)
	c.activeID = id
	target.mu.Lock()
	target.status = EEndpointStatus.Active()
	target.mu.Unlock()
	if prev != nil && prev.ID != id {
		prev.mu.Lock()
		if prev.status == EEndpointStatus.Active() {
			prev.status = EEndpointStatus.Backup()
		}
		prev.mu.Unlock()
	}
	c.mu.Unlock()

	c.emitFailover(FailoverEvent{From: prev, To: target})
	return nil
}

// ResolveURL builds the download/reference URL for fileHash under the
// active endpoint (or forceId if given), spec §4.E.
func (c *Connector) ResolveURL(fileHash, fileName string, forceID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id := c.activeID
	if forceID != "" {
		id = forceID
	}
	e := c.findByIDLocked(id)
	if e == nil {
		return "", common.NewError(common.ECode.Input(), "no endpoint available to resolve URL", nil)
	}
	return fmt.Sprintf("%s/%s/%s", e.BaseURL, fileHash, url.PathEscape(fileName)), nil
}

// StickyEndpointFor deterministically maps a fileHash onto one endpoint
// in the pool using a non-cryptographic hash, so repeated resolves for
// the same file prefer the same CDN edge absent a failover. This is an
// additional routing hint layered on top of activeEndpoint(), not a
// replacement for it.
func (c *Connector) StickyEndpointFor(fileHash string) *Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.endpoints) == 0 {
		return nil
	}
	sum := xxhash.Sum64String(fileHash)
	return c.endpoints[sum%uint64(len(c.endpoints))]
}

func (c *Connector) OnFailover(cb func(FailoverEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailoverCbs = append(c.onFailoverCbs, cb)
}

func (c *Connector) OnAllFailed(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAllFailedCbs = append(c.onAllFailedCbs, cb)
}

func (c *Connector) emitFailover(evt FailoverEvent) {
	c.mu.RLock()
	cbs := append([]func(FailoverEvent){}, c.onFailoverCbs...)
	c.mu.RUnlock()
	for _, cb := range cbs {
		cb(evt)
	}
}

func (c *Connector) emitAllFailed() {
	c.mu.RLock()
	cbs := append([]func(){}, c.onAllFailedCbs...)
	c.mu.RUnlock()
	for _, cb := range cbs {
		cb()
	}
}

// StatusSnapshot is status()'s return shape.
type StatusSnapshot struct {
	ActiveID  string
	Endpoints map[string]EndpointStatus
}

func (c *Connector) Status() StatusSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := StatusSnapshot{ActiveID: c.activeID, Endpoints: make(map[string]EndpointStatus, len(c.endpoints))}
	for _, e := range c.endpoints {
		snap.Endpoints[e.ID] = e.Status()
	}
	return snap
}

// ResolveWithFallback walks non-offline endpoints in ranked order,
// HEAD-probing each, until one answers OK -- spec §4.E's "file fallback."
// Emits onAllFailed if none do.
func (c *Connector) ResolveWithFallback(ctx context.Context, fileHash, fileName string) (string, error) {
	c.mu.RLock()
	candidates := make([]*Endpoint, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		if e.Status() != EEndpointStatus.Offline() {
			candidates = append(candidates, e)
		}
	}
	c.mu.RUnlock()

	for _, e := range candidates {
		if probeOnce(ctx, c.transport, e) {
			return c.ResolveURL(fileHash, fileName, e.ID)
		}
	}
	c.emitAllFailed()
	return "", common.NewError(common.ECode.Network(), "file:allCdnsFailed", nil)
}

// NewEndpoint builds an Endpoint with a generated id, for callers that
// don't need to pin a specific identifier (e.g. config-file-driven pools).
func NewEndpoint(baseURL, testPath string) *Endpoint {
	return &Endpoint{ID: uuid.NewString(), BaseURL: baseURL, TestPath: testPath, status: EEndpointStatus.Active()}
}
