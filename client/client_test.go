package client

import (
	"chat-relay/domain"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestCloseReason(t *testing.T) {
	req := require.New(t)
	err := fmt.Errorf("read: %w", &gorilla.CloseError{Code: 4001, Text: domain.CloseDuplicateLogin})

	req.Equal(domain.CloseDuplicateLogin, CloseReason(err))
	req.Empty(CloseReason(fmt.Errorf("plain failure")))
}

func TestClient_Requires_Connection(t *testing.T) {
	req := require.New(t)
	c := New(logs.GetLoggerFromLevel(slog.LevelDebug), Config{WriteTimeout: time.Second})

	req.ErrorIs(c.SendPrivate("b", "hi"), ErrNotConnected)
	req.ErrorIs(c.Broadcast("hi"), ErrNotConnected)
	req.ErrorIs(c.Logout(), ErrNotConnected)
	req.NoError(c.Close())
}

func TestClient_File_Signal_Types(t *testing.T) {
	req := require.New(t)
	c := New(logs.GetLoggerFromLevel(slog.LevelDebug), Config{WriteTimeout: time.Second})

	req.Error(c.SendFileSignal(domain.MessagePrivate, "b", nil))
	req.ErrorIs(c.SendFileSignal(domain.MessageFileOffer, "b", map[string]any{"name": "a.txt"}), ErrNotConnected)
}

// floodingRelay answers the login and then pushes more frames than the
// client buffers.
func floodingRelay(t *testing.T, frames int) *httptest.Server {
	upgrader := gorilla.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		ok, _ := domain.EncodeOutbound(domain.NewAuthOKFrame(domain.Identity{ID: "a", DisplayName: "A"}, "token-a"))
		_ = ws.WriteMessage(gorilla.TextMessage, ok)
		presence, _ := domain.EncodeOutbound(domain.NewPresenceFrame([]domain.PresenceEntry{{ID: "a", DisplayName: "A"}}))
		for i := 0; i < frames; i++ {
			if err := ws.WriteMessage(gorilla.TextMessage, presence); err != nil {
				return
			}
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_Close_Releases_Reader_When_Nobody_Receives(t *testing.T) {
	req := require.New(t)
	server := floodingRelay(t, 300)
	c := New(logs.GetLoggerFromLevel(slog.LevelDebug), Config{
		URL:              "ws" + strings.TrimPrefix(server.URL, "http"),
		Username:         "a",
		Password:         "pw",
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
	})
	req.NoError(c.Connect(t.Context()))

	// Given a caller that never calls Receive and a full buffer
	req.Eventually(func() bool { return len(c.results) == cap(c.results) }, 2*time.Second, 10*time.Millisecond)

	// When the connection is closed
	req.NoError(c.Close())

	// Then the reader goroutine returns
	stopped := make(chan struct{})
	go func() {
		c.readers.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		req.FailNow("reader still blocked on the Receive buffer")
	}
}
