package diag

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tinylib/msgp/msgp"

	"github.com/nyxkernel/vmem/arena"
	"github.com/nyxkernel/vmem/internal/klog"
	"github.com/nyxkernel/vmem/slab"
)

// Frame is one brotli-compressed, msgp-encoded push: a correlation id
// plus every registered arena's and cache's current snapshot.
type Frame struct {
	ID     uuid.UUID
	Arenas []ArenaSnapshot
	Caches []CacheSnapshot
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server streams periodic Frame pushes to attached debuggers over
// websocket, the live-push analogue of spec.md's print_arena_stats /
// print_kmem_cache console output.
type Server struct {
	Interval time.Duration
	Log      *klog.Logger
}

// NewServer returns a Server pushing a snapshot every interval.
func NewServer(interval time.Duration, log *klog.Logger) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = klog.Default("diag.server")
	}
	return &Server{Interval: interval, Log: log}
}

// ServeHTTP upgrades the connection and streams Frame pushes until the
// client disconnects or the connection errors.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Error("websocket upgrade failed", klog.Err(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for range ticker.C {
		payload, err := s.encodeFrame()
		if err != nil {
			s.Log.Error("frame encode failed", klog.Err(err))
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			s.Log.Debug("client disconnected", klog.Err(err))
			return
		}
	}
}

// encodeFrame builds a Frame from the live registries, msgp-encodes it,
// and brotli-compresses the result.
func (s *Server) encodeFrame() ([]byte, error) {
	arenas := arena.All()
	caches := slab.All()

	frame := Frame{
		ID:     uuid.New(),
		Arenas: make([]ArenaSnapshot, len(arenas)),
		Caches: make([]CacheSnapshot, len(caches)),
	}
	for i, a := range arenas {
		frame.Arenas[i] = FromArena(a)
	}
	for i, c := range caches {
		frame.Caches[i] = FromCache(c)
	}

	raw, err := frame.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	w := brotli.NewWriterLevel(&compressed, brotli.DefaultCompression)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

// MarshalMsg appends the msgpack encoding of f to b.
func (f *Frame) MarshalMsg(b []byte) ([]byte, error) {
	idBytes, err := f.ID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	o := msgp.AppendBytes(b, idBytes)
	o = msgp.AppendArrayHeader(o, uint32(len(f.Arenas)))
	for i := range f.Arenas {
		if o, err = f.Arenas[i].MarshalMsg(o); err != nil {
			return nil, err
		}
	}
	o = msgp.AppendArrayHeader(o, uint32(len(f.Caches)))
	for i := range f.Caches {
		if o, err = f.Caches[i].MarshalMsg(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// UnmarshalMsg decodes a Frame from the front of bts, returning the
// remaining unread bytes.
func (f *Frame) UnmarshalMsg(bts []byte) ([]byte, error) {
	idBytes, o, err := msgp.ReadBytesBytes(bts, nil)
	if err != nil {
		return bts, err
	}
	if err := f.ID.UnmarshalBinary(idBytes); err != nil {
		return bts, err
	}
	var arenaCount uint32
	if arenaCount, o, err = msgp.ReadArrayHeaderBytes(o); err != nil {
		return bts, err
	}
	f.Arenas = make([]ArenaSnapshot, arenaCount)
	for i := range f.Arenas {
		if o, err = f.Arenas[i].UnmarshalMsg(o); err != nil {
			return bts, err
		}
	}
	var cacheCount uint32
	if cacheCount, o, err = msgp.ReadArrayHeaderBytes(o); err != nil {
		return bts, err
	}
	f.Caches = make([]CacheSnapshot, cacheCount)
	for i := range f.Caches {
		if o, err = f.Caches[i].UnmarshalMsg(o); err != nil {
			return bts, err
		}
	}
	return o, nil
}

// DecodeFrame reverses encodeFrame: brotli-decompresses then
// msgp-decodes a pushed payload, the counterpart a debugger client
// would run on each websocket message.
func DecodeFrame(payload []byte) (Frame, error) {
	r := brotli.NewReader(bytes.NewReader(payload))
	raw, err := io.ReadAll(r)
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if _, err := f.UnmarshalMsg(raw); err != nil {
		return Frame{}, err
	}
	return f, nil
}
