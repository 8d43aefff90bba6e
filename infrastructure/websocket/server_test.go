package websocket

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/mocks"
	"chat-relay/observability"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type staticPresence []domain.Identity

func (p staticPresence) Snapshot() []domain.Identity { return p }
func (p staticPresence) Count() int                  { return len(p) }

func newTestServer(t *testing.T, handler contract.IConnectionHandler, origins []string) (*httptest.Server, *auth.TokenIssuer) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	presence := staticPresence{{ID: "a", DisplayName: "alice"}}
	server := NewServer(log, handler, presence, observability.NewStats(log, time.Second), tokens, ServerConfig{
		AllowedOrigins:  origins,
		Conn:            ConnConfig{WriteTimeout: time.Second, PingInterval: 50 * time.Millisecond, ReadLimit: 4096},
		ShutdownTimeout: time.Second,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, tokens
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestServer_Relays_Frames_And_Close_Reason(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	handler := mocks.NewMockIConnectionHandler(ctrl)

	// Given a handler echoing one frame then closing with LOGOUT
	handler.EXPECT().
		Serve(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, conn contract.Conn) error {
			data, err := conn.Receive(ctx)
			if err != nil {
				return err
			}
			if err := conn.Send(ctx, data); err != nil {
				return err
			}
			return conn.Close(domain.CloseLogout)
		})
	ts, _ := newTestServer(t, handler, []string{"*"})

	ws, _, err := gorilla.DefaultDialer.Dial(wsURL(ts), nil)
	req.NoError(err)
	defer ws.Close()

	req.NoError(ws.WriteMessage(gorilla.TextMessage, []byte(`{"type":"LOGOUT"}`)))
	_, data, err := ws.ReadMessage()
	req.NoError(err)
	req.JSONEq(`{"type":"LOGOUT"}`, string(data))

	// Then the close notice carries the reason
	_, _, err = ws.ReadMessage()
	var closeErr *gorilla.CloseError
	req.ErrorAs(err, &closeErr)
	req.Equal(gorilla.CloseNormalClosure, closeErr.Code)
	req.Equal(domain.CloseLogout, closeErr.Text)
}

func TestServer_Receive_Honors_Context_Deadline(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	handler := mocks.NewMockIConnectionHandler(ctrl)
	result := make(chan error, 1)

	handler.EXPECT().
		Serve(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, conn contract.Conn) error {
			authCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err := conn.Receive(authCtx)
			result <- err
			return conn.Close(domain.CloseAuthTimeout)
		})
	ts, _ := newTestServer(t, handler, []string{"*"})

	ws, _, err := gorilla.DefaultDialer.Dial(wsURL(ts), nil)
	req.NoError(err)
	defer ws.Close()

	select {
	case err := <-result:
		req.ErrorIs(err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		req.Fail("Receive should have timed out")
	}
	_, _, err = ws.ReadMessage()
	var closeErr *gorilla.CloseError
	req.ErrorAs(err, &closeErr)
	req.Equal(CloseAuthTimeout, closeErr.Code)
}

func TestServer_Rejects_Foreign_Origin(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	handler := mocks.NewMockIConnectionHandler(ctrl)
	handler.EXPECT().Serve(gomock.Any(), gomock.Any()).Times(0)
	ts, _ := newTestServer(t, handler, []string{"https://chat.example.com"})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := gorilla.DefaultDialer.Dial(wsURL(ts), header)
	req.Error(err)
	req.NotNil(resp)
	req.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestServer_Presence_Requires_Token(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	ts, tokens := newTestServer(t, mocks.NewMockIConnectionHandler(ctrl), []string{"*"})

	resp, err := http.Get(ts.URL + "/api/presence")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	token, err := tokens.GenerateToken(domain.Identity{ID: "a", DisplayName: "alice"})
	req.NoError(err)
	r, err := http.NewRequest(http.MethodGet, ts.URL+"/api/presence", nil)
	req.NoError(err)
	r.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(r)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	var body presenceResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	req.Equal(1, body.Online)
	req.Equal([]domain.Identity{{ID: "a", DisplayName: "alice"}}, body.Users)
}

func TestServer_Health_And_Stats(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	ts, _ := newTestServer(t, mocks.NewMockIConnectionHandler(ctrl), []string{"*"})

	resp, err := http.Get(ts.URL + "/healthz")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/stats")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	var snapshot observability.Snapshot
	req.NoError(json.NewDecoder(resp.Body).Decode(&snapshot))
}

func TestCloseCode(t *testing.T) {
	req := require.New(t)
	req.Equal(CloseDuplicateLogin, CloseCode(domain.CloseDuplicateLogin))
	req.Equal(CloseAuthFail, CloseCode(domain.CloseAuthFail))
	req.Equal(gorilla.CloseGoingAway, CloseCode(domain.CloseShutdown))
	req.Equal(gorilla.CloseNormalClosure, CloseCode(domain.CloseLogout))
}
