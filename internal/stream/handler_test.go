package stream

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/chuanjin/obdbridge/internal/emulator"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stepCounter wraps a generator and counts ticks across all sessions.
type stepCounter struct {
	inner Generator
	steps *atomic.Int64
}

func (s stepCounter) Step(now time.Time) []canbus.Frame {
	s.steps.Add(1)
	return s.inner.Step(now)
}

func startServer(t *testing.T) (*Handler, *atomic.Int64, string) {
	t.Helper()
	steps := &atomic.Int64{}
	h := NewHandler("stream", func() Generator {
		return stepCounter{inner: emulator.NewDrift([]string{"A", "B"}, nil), steps: steps}
	}, HandlerConfig{Interval: 5 * time.Millisecond, Baud: 500000}, zap.NewNop())

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, steps, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHandler_StreamsFramesAfterStart(t *testing.T) {
	h, _, url := startServer(t)
	conn := dial(t, url)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Active() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, conn.WriteJSON(Control{Type: CommandStart}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	seen := map[string]int{}
	for i := 0; i < 16; i++ {
		var f canbus.Frame
		require.NoError(t, conn.ReadJSON(&f))
		assert.Contains(t, []uint32{0x100, 0x200, 0x300, 0x400}, f.ID)
		assert.NoError(t, f.Validate())
		seen[f.Source]++
	}
	assert.Equal(t, 8, seen["A"])
	assert.Equal(t, 8, seen["B"])
}

func TestHandler_StopHaltsStream(t *testing.T) {
	_, steps, url := startServer(t)
	conn := dial(t, url)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start"}`)))
	require.Eventually(t, func() bool { return steps.Load() >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))
	// stop is applied asynchronously on the server; wait until ticking settles
	var last int64 = -1
	require.Eventually(t, func() bool {
		cur := steps.Load()
		settled := cur == last
		last = cur
		return settled
	}, time.Second, 30*time.Millisecond)
}

func TestHandler_BadMessagesKeepConnection(t *testing.T) {
	h, steps, url := startServer(t)
	conn := dial(t, url)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"warp"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start"}`)))

	require.Eventually(t, func() bool { return steps.Load() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(1), h.Active())
}

func TestHandler_DisconnectCancelsTimer(t *testing.T) {
	h, steps, url := startServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(Control{Type: CommandStart}))
	require.Eventually(t, func() bool { return steps.Load() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Active() == 0 }, time.Second, time.Millisecond)

	after := steps.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, steps.Load(), "no ticks after the peer is gone")
}

func TestHandler_PeersAreIndependent(t *testing.T) {
	h, _, url := startServer(t)
	a := dial(t, url)
	defer a.Close()
	b := dial(t, url)
	defer b.Close()

	require.Eventually(t, func() bool { return h.Active() == 2 }, time.Second, time.Millisecond)
	require.NoError(t, a.WriteJSON(Control{Type: CommandStart}))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f canbus.Frame
	require.NoError(t, a.ReadJSON(&f))

	// b never started, so it must not receive anything
	require.NoError(t, b.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err)
}
