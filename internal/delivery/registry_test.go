package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
)

type fakeChannel struct {
	mu        sync.Mutex
	sent      [][]byte
	fail      bool
	closeCode int
	closed    bool
	onClose   func()
}

func (c *fakeChannel) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeChannel) Close(code int, _ string) error {
	c.mu.Lock()
	c.closed = true
	c.closeCode = code
	hook := c.onClose
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeChannel) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestRegistry() (*Registry, *MemoryStore, *fakeClock) {
	store := NewMemoryStore(DefaultMaxPending)
	reg := NewRegistry(store, DefaultOptions(), observability.NewNop())
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	reg.now = clock.Now
	return reg, store, clock
}

func TestSend_NoChannelStoresPending(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	delivered := reg.Send(ctx, "u1", map[string]string{"status": "processing"})
	assert.False(t, delivered)

	pending, err := reg.GetPending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"status":"processing"}`, string(pending[0].Payload))
	assert.Equal(t, "u1", pending[0].Identity)
	assert.Equal(t, 0, pending[0].Attempts)
	assert.Equal(t, DefaultMaxAttempts, pending[0].MaxAttempts)
}

func TestSend_DeliversDirectly(t *testing.T) {
	reg, _, clock := newTestRegistry()
	ctx := context.Background()
	ch := &fakeChannel{}

	reg.Connect(ctx, "u1", ch)
	clock.Advance(80 * time.Second)

	assert.True(t, reg.Send(ctx, "u1", map[string]string{"status": "completed"}))
	assert.Equal(t, []map[string]any{{"status": "completed"}}, ch.messages(t))

	// a successful send refreshes the heartbeat
	clock.Advance(80 * time.Second)
	assert.Equal(t, 0, reg.Sweep(ctx).EvictedChannels)
}

func TestSend_FailureDropsChannelAndStoresPending(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()
	ch := &fakeChannel{fail: true}

	reg.Connect(ctx, "u1", ch)
	assert.False(t, reg.Send(ctx, "u1", map[string]string{"status": "error"}))

	assert.False(t, reg.IsConnected("u1"))
	pending, err := reg.GetPending(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSend_StaleChannelIsNotUsed(t *testing.T) {
	reg, _, clock := newTestRegistry()
	ctx := context.Background()
	ch := &fakeChannel{}

	reg.Connect(ctx, "u1", ch)
	clock.Advance(91 * time.Second)

	assert.False(t, reg.Send(ctx, "u1", "late"))
	assert.Empty(t, ch.messages(t))
}

func TestConnect_RetiresPreviousChannelFirst(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	old := &fakeChannel{}
	reg.Connect(ctx, "u1", old)

	var registeredAtClose bool
	old.onClose = func() { registeredAtClose = reg.IsConnected("u1") }

	fresh := &fakeChannel{}
	reg.Connect(ctx, "u1", fresh)

	assert.True(t, old.closed)
	assert.Equal(t, CloseNormal, old.closeCode)
	assert.False(t, registeredAtClose, "old channel must be closed before the new one is registered")
	assert.Equal(t, 1, reg.ActiveCount())

	assert.True(t, reg.Send(ctx, "u1", "hello"))
	assert.Len(t, fresh.sent, 1)
	assert.Empty(t, old.sent)
}

func TestConnect_SameChannelTwiceIsNotClosed(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ch := &fakeChannel{}

	reg.Connect(context.Background(), "u1", ch)
	reg.Connect(context.Background(), "u1", ch)

	assert.False(t, ch.closed)
	assert.Equal(t, 1, reg.ActiveCount())
}

func TestConnect_FlushesPendingOldestFirst(t *testing.T) {
	reg, _, clock := newTestRegistry()
	ctx := context.Background()

	// job for u1 completes while u1 is offline
	for i := 1; i <= 3; i++ {
		assert.False(t, reg.Send(ctx, "u1", map[string]any{"status": "processing", "seq": i}))
		clock.Advance(time.Second)
	}
	assert.False(t, reg.Send(ctx, "u1", map[string]any{"status": "completed", "seq": 4}))

	ch := &fakeChannel{}
	delivered := reg.Connect(ctx, "u1", ch)
	assert.Equal(t, 4, delivered)

	msgs := ch.messages(t)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.EqualValues(t, i+1, m["seq"])
	}
	assert.Equal(t, "completed", msgs[3]["status"])

	pending, err := reg.GetPending(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConnect_FlushFailureRetainsThenDrops(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	reg.Send(ctx, "u1", "first")
	reg.Send(ctx, "u1", "second")

	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		broken := &fakeChannel{fail: true}
		assert.Equal(t, 0, reg.Connect(ctx, "u1", broken))
		reg.Disconnect("u1")

		pending, err := reg.GetPending(ctx, "u1")
		require.NoError(t, err)

		if attempt < DefaultMaxAttempts {
			require.Len(t, pending, 2)
			assert.Equal(t, attempt, pending[0].Attempts)
			// flush stops at the first failure
			assert.Equal(t, 0, pending[1].Attempts)
		} else {
			require.Len(t, pending, 1)
			assert.JSONEq(t, `"second"`, string(pending[0].Payload))
		}
	}
}

func TestPending_CappedAtFiftyOldestEvicted(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		reg.Send(ctx, "u1", fmt.Sprintf("msg-%02d", i))
	}

	pending, err := reg.GetPending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, DefaultMaxPending)
	assert.JSONEq(t, `"msg-10"`, string(pending[0].Payload))
	assert.JSONEq(t, `"msg-59"`, string(pending[len(pending)-1].Payload))
}

func TestSweep_EvictsStaleChannelsAndOldMessages(t *testing.T) {
	reg, _, clock := newTestRegistry()
	ctx := context.Background()

	stale := &fakeChannel{}
	fresh := &fakeChannel{}
	reg.Connect(ctx, "stale", stale)

	reg.Send(ctx, "offline", "old")
	clock.Advance(200 * time.Second)
	reg.Connect(ctx, "fresh", fresh)
	reg.Send(ctx, "offline", "recent")

	clock.Advance(101 * time.Second)
	reg.Touch("fresh")

	res := reg.Sweep(ctx)
	assert.Equal(t, 1, res.EvictedChannels)
	assert.Equal(t, 1, res.PurgedMessages)

	assert.True(t, stale.closed)
	assert.False(t, reg.IsConnected("stale"))
	assert.True(t, reg.IsConnected("fresh"))

	pending, err := reg.GetPending(ctx, "offline")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `"recent"`, string(pending[0].Payload))
}

func TestPing_EvictsBrokenChannels(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	good := &fakeChannel{}
	bad := &fakeChannel{fail: true}
	reg.Connect(ctx, "good", good)
	reg.Connect(ctx, "bad", bad)

	assert.Equal(t, 1, reg.Ping(ctx))
	assert.True(t, reg.IsConnected("good"))
	assert.False(t, reg.IsConnected("bad"))
	assert.Equal(t, []map[string]any{{"type": "heartbeat"}}, good.messages(t))
}

func TestPing_KeepsListenOnlyChannelsAlive(t *testing.T) {
	reg, _, clock := newTestRegistry()
	ctx := context.Background()

	listener := &fakeChannel{}
	reg.Connect(ctx, "u1", listener)

	// three heartbeat intervals pass without a client frame
	for i := 0; i < 3; i++ {
		clock.Advance(30 * time.Second)
		require.Zero(t, reg.Ping(ctx))
	}
	clock.Advance(time.Second)

	assert.Zero(t, reg.Sweep(ctx).EvictedChannels)
	assert.True(t, reg.IsConnected("u1"))
	assert.True(t, reg.Send(ctx, "u1", map[string]string{"status": "processing"}))
}

func TestDisconnect_Idempotent(t *testing.T) {
	reg, _, _ := newTestRegistry()

	reg.Disconnect("nobody")
	reg.Connect(context.Background(), "u1", &fakeChannel{})
	reg.Disconnect("u1")
	reg.Disconnect("u1")

	assert.False(t, reg.IsConnected("u1"))
}

func TestDisconnectChannel_KeepsSuccessor(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	first := &fakeChannel{}
	second := &fakeChannel{}
	reg.Connect(ctx, "u1", first)
	reg.Connect(ctx, "u1", second)

	assert.False(t, reg.DisconnectChannel("u1", first))
	assert.True(t, reg.IsConnected("u1"))
	assert.True(t, reg.DisconnectChannel("u1", second))
	assert.False(t, reg.IsConnected("u1"))
}

func TestClearPending(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	reg.Send(ctx, "u1", "a")
	reg.Send(ctx, "u1", "b")

	n, err := reg.ClearPending(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := reg.GetPending(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConcurrentConnectAndSend(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Connect(ctx, "u1", &fakeChannel{})
		}()
		go func(i int) {
			defer wg.Done()
			reg.Send(ctx, "u1", i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.ActiveCount())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := NewMemoryStore(0)
	reg := NewRegistry(store, Options{HeartbeatInterval: 5 * time.Millisecond, SweepInterval: 5 * time.Millisecond}, nil)
	ch := &fakeChannel{}
	reg.Connect(context.Background(), "u1", ch)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.NotEmpty(t, ch.messages(t))
}
