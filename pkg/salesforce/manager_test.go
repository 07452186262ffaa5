package salesforce

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type fakeAuth struct {
	clock    *fakeClock
	lifetime time.Duration
	delay    time.Duration
	err      error
	calls    atomic.Int32
	instance string
}

func (f *fakeAuth) Strategy() string { return "fake" }

func (f *fakeAuth) Authenticate(ctx context.Context) (*Session, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	instance := f.instance
	if instance == "" {
		instance = "https://example.my.salesforce.com"
	}
	return &Session{
		AccessToken: "token-" + string(rune('0'+n)),
		InstanceURL: instance,
		ExpiresAt:   f.clock.Now().Add(f.lifetime),
		Strategy:    "fake",
	}, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results []bool
}

func (r *recordingObserver) ObserveSessionRefresh(strategy string, success bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, success)
}

func newTestManager(t *testing.T, auth *fakeAuth, opts ...ManagerOption) *Manager {
	t.Helper()
	opts = append([]ManagerOption{WithAuthenticator(auth), WithClock(auth.clock.Now)}, opts...)
	m, err := NewManager(Config{}, opts...)
	require.NoError(t, err)
	return m
}

func TestManager_Client(t *testing.T) {
	t.Run("first call authenticates", func(t *testing.T) {
		clock := newFakeClock()
		auth := &fakeAuth{clock: clock, lifetime: 10 * time.Minute}
		m := newTestManager(t, auth)

		client, err := m.Client(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(1), auth.calls.Load())
		assert.True(t, client.ExpiresAt().After(clock.Now().Add(DefaultSafetyMargin)))
		assert.Equal(t, "https://example.my.salesforce.com", client.InstanceURL())
		assert.Equal(t, "fake", client.Strategy())
	})

	t.Run("reuses a live session", func(t *testing.T) {
		clock := newFakeClock()
		auth := &fakeAuth{clock: clock, lifetime: 10 * time.Minute}
		m := newTestManager(t, auth)

		first, err := m.Client(context.Background())
		require.NoError(t, err)

		clock.Advance(5 * time.Minute)
		second, err := m.Client(context.Background())
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, int32(1), auth.calls.Load())
	})

	t.Run("renews inside the safety margin", func(t *testing.T) {
		clock := newFakeClock()
		auth := &fakeAuth{clock: clock, lifetime: 10 * time.Minute}
		m := newTestManager(t, auth)

		first, err := m.Client(context.Background())
		require.NoError(t, err)

		// 30 seconds of lifetime left is below the 60 second margin.
		clock.Advance(9*time.Minute + 30*time.Second)
		second, err := m.Client(context.Background())
		require.NoError(t, err)

		assert.NotSame(t, first, second)
		assert.Equal(t, int32(2), auth.calls.Load())
		assert.GreaterOrEqual(t, second.ExpiresAt().Sub(clock.Now()), DefaultSafetyMargin)
	})

	t.Run("renews exactly at the margin boundary", func(t *testing.T) {
		clock := newFakeClock()
		auth := &fakeAuth{clock: clock, lifetime: 10 * time.Minute}
		m := newTestManager(t, auth)

		_, err := m.Client(context.Background())
		require.NoError(t, err)

		clock.Advance(9 * time.Minute)
		_, err = m.Client(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), auth.calls.Load())
	})

	t.Run("rejects a session born inside the margin", func(t *testing.T) {
		clock := newFakeClock()
		auth := &fakeAuth{clock: clock, lifetime: 30 * time.Second}
		m := newTestManager(t, auth)

		client, err := m.Client(context.Background())
		assert.Nil(t, client)
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("surfaces failures without retry", func(t *testing.T) {
		clock := newFakeClock()
		auth := &fakeAuth{clock: clock, lifetime: time.Hour, err: errors.New("invalid_client")}
		observer := &recordingObserver{}
		m := newTestManager(t, auth, WithRefreshObserver(observer))

		_, err := m.Client(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid_client")
		assert.Equal(t, int32(1), auth.calls.Load())

		_, err = m.Client(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(2), auth.calls.Load())
		assert.Equal(t, []bool{false, false}, observer.results)
	})

	t.Run("invalidate forces a new login", func(t *testing.T) {
		clock := newFakeClock()
		auth := &fakeAuth{clock: clock, lifetime: time.Hour}
		m := newTestManager(t, auth)

		_, err := m.Client(context.Background())
		require.NoError(t, err)

		m.Invalidate()
		_, err = m.Client(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), auth.calls.Load())
	})

	t.Run("caller cancellation", func(t *testing.T) {
		clock := newFakeClock()
		auth := &fakeAuth{clock: clock, lifetime: time.Hour, delay: 200 * time.Millisecond}
		m := newTestManager(t, auth)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := m.Client(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestManager_ConcurrentRefresh(t *testing.T) {
	clock := newFakeClock()
	auth := &fakeAuth{clock: clock, lifetime: time.Hour, delay: 50 * time.Millisecond}
	m := newTestManager(t, auth)

	var wg sync.WaitGroup
	clients := make([]*Client, 20)
	errs := make([]error, 20)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i], errs[i] = m.Client(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range clients {
		require.NoError(t, errs[i])
		assert.Same(t, clients[0], clients[i])
	}
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestManager_UnauthorizedInvalidatesSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`[{"message":"Session expired or invalid","errorCode":"INVALID_SESSION_ID"}]`))
	}))
	defer server.Close()

	clock := newFakeClock()
	auth := &fakeAuth{clock: clock, lifetime: time.Hour, instance: server.URL}
	m := newTestManager(t, auth)

	client, err := m.Client(context.Background())
	require.NoError(t, err)

	_, err = client.ToolingQuery(context.Background(), "SELECT Id FROM ApexClass")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_SESSION_ID", apiErr.ErrorCode)

	_, err = m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestNewManager_NoCredentials(t *testing.T) {
	_, err := NewManager(Config{})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestSession_Remaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: now.Add(50 * time.Minute)}

	assert.Equal(t, 50*time.Minute, s.Remaining(now))
	assert.Equal(t, 10*time.Minute, s.Remaining(now.Add(40*time.Minute)))
	assert.Negative(t, int64(s.Remaining(now.Add(time.Hour))))
}
