package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/chuanjin/obdbridge/internal/obd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTCP(t *testing.T) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	s := NewTCPServer("127.0.0.1:0", NewDefaultDispatcher(obd.NewDecoder(nil)), zap.NewNop())
	s.now = func() time.Time { return epoch }
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	t.Cleanup(cancel)
	return s.Addr().String(), cancel, done
}

func TestTCPServer_DecodesLines(t *testing.T) {
	addr, _, _ := startTCP(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprint(conn, "7E8#04410C1AF8\n\n# comment\n(1700000000.000000) can0 7E8#03410D64\nnot-a-frame\n123#00\n")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	reader := bufio.NewReader(conn)
	var replies []Reply
	for i := 0; i < 4; i++ {
		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		var r Reply
		require.NoError(t, json.Unmarshal(line, &r))
		replies = append(replies, r)
	}

	require.NotNil(t, replies[0].Reading)
	assert.Equal(t, "Engine speed", replies[0].Reading.Name)
	assert.InDelta(t, 1726.0, replies[0].Reading.Value, 1e-9)
	assert.Equal(t, epoch.UnixMilli(), replies[0].Frame.Timestamp)

	require.NotNil(t, replies[1].Reading)
	assert.Equal(t, "Vehicle speed", replies[1].Reading.Name)
	assert.InDelta(t, 100.0, replies[1].Reading.Value, 1e-9)

	assert.Nil(t, replies[2].Frame)
	assert.NotEmpty(t, replies[2].Error)

	require.NotNil(t, replies[3].Frame)
	assert.Equal(t, uint32(0x123), replies[3].Frame.ID)
	assert.Contains(t, replies[3].Error, "no decoder bound")
}

func TestTCPServer_ShutdownClosesConnections(t *testing.T) {
	addr, cancel, done := startTCP(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}
