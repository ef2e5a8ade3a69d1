package eventchannel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/events"
)

func startTestNATS(t *testing.T) (*natsserver.Server, string) {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv, srv.ClientURL()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForState(t *testing.T, c *Channel, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		5*time.Second, 10*time.Millisecond, "expected state %s, got %s", want, c.State())
}

func fastConfig(url string) Config {
	return Config{
		URL:         url,
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func TestConnectReceivesSemanticEvents(t *testing.T) {
	_, url := startTestNATS(t)

	var mu sync.Mutex
	var redeemed []events.CredentialRedeemed
	var generic []string

	ch := New(fastConfig(url), Callbacks{
		OnEvent: func(env events.Envelope) {
			mu.Lock()
			generic = append(generic, env.Type)
			mu.Unlock()
		},
		OnRedeemed: func(p events.CredentialRedeemed, _ time.Time) {
			mu.Lock()
			redeemed = append(redeemed, p)
			mu.Unlock()
		},
	}, discardLogger())
	defer ch.Close()

	ch.Connect()
	waitForState(t, ch, StateConnected)

	pub, err := events.NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	env, err := events.NewEnvelope(events.TypeCredentialRedeemed, events.CredentialRedeemed{
		CredentialID: "atc-chan000001",
		Holder:       "student-42",
	}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), events.TopicCredentialRedeemed, env))
	require.NoError(t, pub.Flush())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(redeemed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "atc-chan000001", redeemed[0].CredentialID)
	assert.Equal(t, []string{events.TypeCredentialRedeemed}, generic)
}

func TestUnknownEventTypeIsNoOp(t *testing.T) {
	_, url := startTestNATS(t)

	var genericCount, semanticCount atomic.Int32
	ch := New(fastConfig(url), Callbacks{
		OnEvent:       func(events.Envelope) { genericCount.Add(1) },
		OnRedeemed:    func(events.CredentialRedeemed, time.Time) { semanticCount.Add(1) },
		OnLifecycle:   func(events.IssuerLifecycle, time.Time) { semanticCount.Add(1) },
		OnSystemAlert: func(events.SystemAlert, time.Time) { semanticCount.Add(1) },
	}, discardLogger())
	defer ch.Close()

	ch.Connect()
	waitForState(t, ch, StateConnected)

	pub, err := events.NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	env, err := events.NewEnvelope("mystery-event", map[string]string{"x": "y"}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), "rollcall.mystery", env))
	require.NoError(t, pub.Flush())

	require.Eventually(t, func() bool { return genericCount.Load() == 1 },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), semanticCount.Load())
}

func TestUnreachableProbeGoesStraightToOffline(t *testing.T) {
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer probe.Close()

	var dials atomic.Int32
	cfg := fastConfig("nats://127.0.0.1:1")
	cfg.ProbeURL = probe.URL

	ch := New(cfg, Callbacks{}, discardLogger(), WithDialer(
		func(string, func()) (events.Subscriber, error) {
			dials.Add(1)
			return nil, errors.New("should not be dialed")
		}))
	defer ch.Close()

	ch.Connect()
	waitForState(t, ch, StateOffline)

	// No handshake is attempted against a backend the probe already
	// reported down.
	assert.Equal(t, int32(0), dials.Load())
}

func TestExhaustedAttemptsSettleOffline(t *testing.T) {
	var dials atomic.Int32
	cfg := fastConfig("nats://127.0.0.1:1")

	ch := New(cfg, Callbacks{}, discardLogger(), WithDialer(
		func(string, func()) (events.Subscriber, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		}))
	defer ch.Close()

	ch.Connect()
	waitForState(t, ch, StateOffline)

	// First attempt plus MaxAttempts retries.
	assert.Equal(t, int32(cfg.MaxAttempts+1), dials.Load())

	// Offline is sticky: no automatic attempts follow.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(cfg.MaxAttempts+1), dials.Load())
	assert.Equal(t, StateOffline, ch.State())
}

func TestManualConnectLeavesOffline(t *testing.T) {
	var dials atomic.Int32
	cfg := fastConfig("nats://127.0.0.1:1")
	cfg.MaxAttempts = 1

	ch := New(cfg, Callbacks{}, discardLogger(), WithDialer(
		func(string, func()) (events.Subscriber, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		}))
	defer ch.Close()

	ch.Connect()
	waitForState(t, ch, StateOffline)
	first := dials.Load()

	ch.Connect()
	waitForState(t, ch, StateOffline)
	assert.Greater(t, dials.Load(), first)
}

func TestLostConnectionReconnects(t *testing.T) {
	srv, url := startTestNATS(t)

	var states []State
	var mu sync.Mutex
	ch := New(fastConfig(url), Callbacks{
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, discardLogger())
	defer ch.Close()

	ch.Connect()
	waitForState(t, ch, StateConnected)

	// Kill the server; the channel should notice, pass through
	// Disconnected, and exhaust its retries into Offline since nothing
	// comes back up.
	srv.Shutdown()
	waitForState(t, ch, StateOffline)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateDisconnected)
}

func TestReconnectAfterRestartOnSamePort(t *testing.T) {
	_, url := startTestNATS(t)

	// Stand-in transport: fail twice, then hand out a live subscription.
	// Proves the backoff loop recovers once the backend returns.
	var dials atomic.Int32
	dialer := func(u string, onClosed func()) (events.Subscriber, error) {
		if dials.Add(1) <= 2 {
			return nil, errors.New("connection refused")
		}
		return NATSDialer(url, onClosed)
	}

	ch := New(fastConfig(url), Callbacks{}, discardLogger(), WithDialer(dialer))
	defer ch.Close()

	ch.Connect()
	waitForState(t, ch, StateConnected)
	assert.Equal(t, int32(3), dials.Load())
}

func TestProbeReachable(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	ctx := context.Background()
	assert.True(t, NewProber(ok.URL, time.Second).Reachable(ctx))
	assert.False(t, NewProber(bad.URL, time.Second).Reachable(ctx))
	assert.False(t, NewProber("http://127.0.0.1:1/healthz", 200*time.Millisecond).Reachable(ctx))
	// Probing disabled.
	assert.True(t, NewProber("", time.Second).Reachable(ctx))
}

func TestNextDelayDoublesToCap(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextDelay(time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextDelay(16*time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextDelay(30*time.Second, 30*time.Second))
}
