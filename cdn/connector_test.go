package cdn

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/common"
)

// fakeTransport lets tests script per-URL responses and count calls.
type fakeTransport struct {
	mu        sync.Mutex
	responder func(method, url string) (*adapter.Response, error)
	calls     int32
}

func (f *fakeTransport) Do(ctx context.Context, method, url string, opts adapter.RequestOptions) (*adapter.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responder(method, url)
}

func okResponder(method, url string) (*adapter.Response, error) {
	return &adapter.Response{StatusCode: 200}, nil
}

func TestNewConnectorFirstActiveSecondBackup(t *testing.T) {
	e1 := &Endpoint{ID: "e1", BaseURL: "https://e1", TestPath: "/health"}
	e2 := &Endpoint{ID: "e2", BaseURL: "https://e2", TestPath: "/health"}
	c := New([]*Endpoint{e1, e2}, &fakeTransport{responder: okResponder}, DefaultConfig(), nil)

	assert.Equal(t, e1.ID, c.ActiveEndpoint().ID)
	assert.Equal(t, EEndpointStatus.Backup(), e2.Status())
}

func TestSwitchToPromotesAndDemotes(t *testing.T) {
	e1 := &Endpoint{ID: "e1", BaseURL: "https://e1"}
	e2 := &Endpoint{ID: "e2", BaseURL: "https://e2"}
	c := New([]*Endpoint{e1, e2}, &fakeTransport{responder: okResponder}, DefaultConfig(), nil)

	require.NoError(t, c.SwitchTo("e2"))
	assert.Equal(t, "e2", c.ActiveEndpoint().ID)
	assert.Equal(t, EEndpointStatus.Backup(), e1.Status())
}

func TestResolveURLPercentEncodesFileName(t *testing.T) {
	e1 := &Endpoint{ID: "e1", BaseURL: "https://cdn.example.com"}
	c := New([]*Endpoint{e1}, &fakeTransport{responder: okResponder}, DefaultConfig(), nil)

	u, err := c.ResolveURL("abc123", "my file Ümlaut.txt", "")
	require.NoError(t, err)
	assert.Contains(t, u, "my%20file")
}

// literal §8 scenario 4: two active endpoints, E1 fails every /chunk-style
// probe; after failoverThreshold=2 consecutive failures the connector
// switches to E2 and fires the failover callback exactly once.
func TestFailoverAfterThresholdBreaches(t *testing.T) {
	e1 := &Endpoint{ID: "e1", BaseURL: "https://e1", TestPath: "/health"}
	e2 := &Endpoint{ID: "e2", BaseURL: "https://e2", TestPath: "/health"}

	failE1 := &fakeTransport{responder: func(method, url string) (*adapter.Response, error) {
		if contains(url, "e1") {
			return nil, assertErr
		}
		return &adapter.Response{StatusCode: 200}, nil
	}}

	cfg := DefaultConfig()
	cfg.FailoverThreshold = 2
	c := New([]*Endpoint{e1, e2}, failE1, cfg, nil)

	var failoverCount int32
	c.OnFailover(func(evt FailoverEvent) {
		atomic.AddInt32(&failoverCount, 1)
	})

	ctx := context.Background()
	c.healthTick(ctx)
	c.healthTick(ctx)

	assert.Equal(t, "e2", c.ActiveEndpoint().ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&failoverCount))
	assert.Equal(t, EEndpointStatus.Offline(), e1.Status())
}

func TestRecoveryPromotesOfflineEndpointWhenNoneActive(t *testing.T) {
	e1 := &Endpoint{ID: "e1", BaseURL: "https://e1", TestPath: "/health", status: EEndpointStatus.Offline(), failureCount: 5}
	c := &Connector{endpoints: []*Endpoint{e1}, transport: &fakeTransport{responder: okResponder}, cfg: DefaultConfig(), logger: common.NullLogger{}}

	c.recoveryTick(context.Background())

	assert.Equal(t, EEndpointStatus.Active(), e1.Status())
	assert.Equal(t, "e1", c.activeID)
}

func TestInvalidateRetriesOnServerErrorThenSucceeds(t *testing.T) {
	e1 := &Endpoint{ID: "e1", BaseURL: "https://e1", InvalidationURL: "https://e1/purge", Provider: "fastly"}
	var attempts int32
	transport := &fakeTransport{responder: func(method, url string) (*adapter.Response, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return &adapter.Response{StatusCode: 503}, nil
		}
		return &adapter.Response{StatusCode: 200}, nil
	}}
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetries = 3
	c := New([]*Endpoint{e1}, transport, cfg, nil)

	err := c.Invalidate(context.Background(), []string{"https://cdn/x"}, "e1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, int32(2))
}

func TestInvalidateFatalOn4xx(t *testing.T) {
	e1 := &Endpoint{ID: "e1", BaseURL: "https://e1", InvalidationURL: "https://e1/purge", Provider: "fastly"}
	transport := &fakeTransport{responder: func(method, url string) (*adapter.Response, error) {
		return &adapter.Response{StatusCode: 400}, nil
	}}
	c := New([]*Endpoint{e1}, transport, DefaultConfig(), nil)

	err := c.Invalidate(context.Background(), []string{"https://cdn/x"}, "e1")
	require.Error(t, err)
	assert.LessOrEqual(t, transport.calls, int32(1))
}

func TestAllFailedFiresWhenNoEndpointRecovers(t *testing.T) {
	e1 := &Endpoint{ID: "e1", BaseURL: "https://e1", TestPath: "/health"}
	failAll := &fakeTransport{responder: func(method, url string) (*adapter.Response, error) {
		return nil, assertErr
	}}
	cfg := DefaultConfig()
	cfg.FailoverThreshold = 1
	c := New([]*Endpoint{e1}, failAll, cfg, nil)

	var allFailed int32
	c.OnAllFailed(func() { atomic.AddInt32(&allFailed, 1) })

	c.healthTick(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&allFailed))
}

var assertErr = httpErr{}

type httpErr struct{}

func (httpErr) Error() string { return "network error" }

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
