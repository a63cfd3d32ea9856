package diag

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxkernel/vmem/arena"
)

func TestArenaSnapshotRoundTrip(t *testing.T) {
	a, err := arena.New(arena.Config{Name: t.Name(), Quantum: 8, Base: 0x1000, Size: 4096})
	require.NoError(t, err)
	_, err = a.Alloc(64, arena.BestFit)
	require.NoError(t, err)

	want := FromArena(a)
	raw, err := want.MarshalMsg(nil)
	require.NoError(t, err)

	var got ArenaSnapshot
	leftover, err := got.UnmarshalMsg(raw)
	require.NoError(t, err)
	assert.Empty(t, leftover)
	assert.Equal(t, want, got)
}

func TestServerStreamsFrames(t *testing.T) {
	a, err := arena.New(arena.Config{Name: t.Name(), Quantum: 8, Base: 0x2000, Size: 4096})
	require.NoError(t, err)
	_, err = a.Alloc(128, arena.BestFit)
	require.NoError(t, err)

	srv := NewServer(20*time.Millisecond, nil)
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	frame, err := DecodeFrame(payload)
	require.NoError(t, err)

	var found bool
	for _, snap := range frame.Arenas {
		if snap.Name == t.Name() {
			found = true
			assert.Equal(t, uintptr(128), snap.AmtAllocated)
		}
	}
	assert.True(t, found, "streamed frame should include the arena created for this test")
}
