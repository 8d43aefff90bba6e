package runtime

import (
	"chat-relay/domain"
	"chat-relay/observability"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

var errConnClosed = errors.New("connection closed")

// fakeConn is an in-memory contract.Conn. Frames written by the relay are
// decoded and split between presence pushes and everything else.
type fakeConn struct {
	addr      string
	in        chan []byte
	out       chan domain.OutboundFrame
	presence  chan domain.OutboundFrame
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	reason    string
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:     addr,
		in:       make(chan []byte, 16),
		out:      make(chan domain.OutboundFrame, 256),
		presence: make(chan domain.OutboundFrame, 1024),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	frame, err := domain.DecodeOutbound(data)
	if err != nil {
		return err
	}
	target := c.out
	if frame.Type == string(domain.FramePresence) {
		target = c.presence
	}
	select {
	case target <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) RemoteAddr() string {
	return c.addr
}

func (c *fakeConn) push(t *testing.T, frame domain.InboundFrame) {
	data, err := domain.EncodeInbound(frame)
	require.NoError(t, err)
	c.pushRaw(string(data))
}

func (c *fakeConn) pushRaw(data string) {
	c.in <- []byte(data)
}

// expect returns the next non presence frame and checks its type.
func (c *fakeConn) expect(t *testing.T, frameType domain.FrameType) domain.OutboundFrame {
	t.Helper()
	select {
	case frame := <-c.out:
		require.Equal(t, string(frameType), frame.Type, "unexpected frame %+v", frame)
		return frame
	case <-time.After(waitFor):
		require.FailNow(t, "no frame received", "expected %s on %s", frameType, c.addr)
		return domain.OutboundFrame{}
	}
}

func (c *fakeConn) expectNothing(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case frame := <-c.out:
		require.FailNow(t, "unexpected frame", "%+v on %s", frame, c.addr)
	case <-time.After(d):
	}
}

// expectPresence waits for a snapshot listing exactly ids, in order.
// Intermediate snapshots are skipped.
func (c *fakeConn) expectPresence(t *testing.T, ids ...string) []domain.PresenceEntry {
	t.Helper()
	deadline := time.After(waitFor)
	var last []string
	for {
		select {
		case frame := <-c.presence:
			last = last[:0]
			for _, u := range frame.Users {
				last = append(last, u.ID)
			}
			if equalIDs(last, ids) {
				return frame.Users
			}
		case <-deadline:
			require.FailNow(t, "presence not received", "expected %v on %s, last %v", ids, c.addr, last)
			return nil
		}
	}
}

func (c *fakeConn) awaitClosed(t *testing.T) string {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(waitFor):
		require.FailNow(t, "connection not closed", c.addr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func testStats() *observability.Stats {
	return observability.NewStats(testLogger(), time.Second)
}

// recv reads the next frame queued on a session.
func recv(t *testing.T, s *Session) domain.OutboundFrame {
	t.Helper()
	select {
	case frame := <-s.Outbound():
		return frame
	case <-time.After(waitFor):
		require.FailNow(t, "no frame queued", s.Identity.ID)
		return domain.OutboundFrame{}
	}
}

func contextWithTimeout(t *testing.T, ms int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.Context(), time.Duration(ms)*time.Millisecond)
}
