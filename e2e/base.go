package e2e

import (
	"chat-relay/auth"
	"chat-relay/client"
	"chat-relay/domain"
	"chat-relay/infrastructure/websocket"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

const Password = "Relay-Passw0rd!"

// RelaySuite runs a complete relay in process for every test: badger in a
// temp dir, the identity store, the orchestrator and the websocket server
// on a random local port.
type RelaySuite struct {
	suite.Suite
	Config Config
	Policy domain.DuplicateLoginPolicy

	log          *slog.Logger
	db           *badger.DB
	authService  services.IAuthService
	orchestrator *runtime.Orchestrator
	url          string
	cancel       context.CancelFunc
	stopped      chan struct{}
}

// SetupSuite loads the environment configuration before running tests
func (s *RelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	s.log = logs.GetLoggerFromString(s.Config.LogLevel)
}

func (s *RelaySuite) SetupTest() {
	req := s.Require()
	db, err := badger.Open(badger.DefaultOptions(s.T().TempDir()).WithLogger(nil))
	req.NoError(err)
	s.db = db

	tokens := auth.NewTokenIssuer("e2e-secret-of-32-characters-long", time.Hour)
	s.authService = services.NewAuthService(s.log, repositories.NewUserRepository(db), tokens)
	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := s.authService.Register(name, displayName(name), Password)
		req.NoError(err)
	}

	stats := observability.NewStats(s.log, 50*time.Millisecond)
	s.orchestrator = runtime.NewOrchestrator(s.log, workers.NewSupervisor(s.log, 10*time.Millisecond),
		s.authService, stats, runtime.Options{
			Policy:             s.Policy,
			OutboundBufferSize: 64,
			AuthTimeout:        time.Second,
			DeliveryTimeout:    500 * time.Millisecond,
		})
	server := websocket.NewServer(s.log, s.orchestrator.Handler(), s.orchestrator.Registry(), stats, tokens,
		websocket.ServerConfig{
			AllowedOrigins:  []string{"*"},
			Conn:            websocket.ConnConfig{WriteTimeout: time.Second, PingInterval: time.Second, ReadLimit: 1 << 20},
			ShutdownTimeout: time.Second,
		})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	s.url = fmt.Sprintf("ws://%s/ws", listener.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})
	go func() { _ = s.orchestrator.Start(ctx) }()
	go func() {
		defer close(s.stopped)
		_ = server.Serve(ctx, listener)
	}()
}

func (s *RelaySuite) TearDownTest() {
	s.orchestrator.Stop()
	s.cancel()
	select {
	case <-s.stopped:
	case <-time.After(s.Config.Wait):
		s.T().Log("relay did not stop in time")
	}
	s.Require().NoError(s.db.Close())
}

// Step prints a colorized header for a scenario step in the test logs.
func (s *RelaySuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Connect logs username in with the shared password.
func (s *RelaySuite) Connect(username string) *client.Client {
	c := s.NewClient(username, Password)
	s.Require().NoError(c.Connect(s.T().Context()), "login of %s", username)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

func (s *RelaySuite) NewClient(username, password string) *client.Client {
	return client.New(s.log, client.Config{
		URL:               s.url,
		Username:          username,
		Password:          password,
		PublicKey:         "pk-" + username,
		HandshakeTimeout:  s.Config.Wait,
		WriteTimeout:      time.Second,
		ReconnectInterval: 20 * time.Millisecond,
		MaxReconnectTries: 5,
	})
}

// Next returns the next non presence frame received by c.
func (s *RelaySuite) Next(c *client.Client) (domain.OutboundFrame, error) {
	ctx, cancel := context.WithTimeout(s.T().Context(), s.Config.Wait)
	defer cancel()
	for {
		frame, err := c.Receive(ctx)
		if err != nil {
			return frame, err
		}
		s.dump(c, frame)
		if domain.FrameType(frame.Type) != domain.FramePresence {
			return frame, nil
		}
	}
}

// Expect waits for the next non presence frame and checks its type.
func (s *RelaySuite) Expect(c *client.Client, frameType string) domain.OutboundFrame {
	frame, err := s.Next(c)
	s.Require().NoError(err, "%s waiting for %s", c.Identity().ID, frameType)
	s.Require().Equal(frameType, frame.Type, "unexpected frame %+v", frame)
	return frame
}

// ExpectPresence waits until c sees exactly ids online, in order.
func (s *RelaySuite) ExpectPresence(c *client.Client, ids ...string) []domain.PresenceEntry {
	ctx, cancel := context.WithTimeout(s.T().Context(), s.Config.Wait)
	defer cancel()
	var last []string
	for {
		frame, err := c.Receive(ctx)
		s.Require().NoError(err, "%s waiting for presence %v, last %v", c.Identity().ID, ids, last)
		s.dump(c, frame)
		if domain.FrameType(frame.Type) != domain.FramePresence {
			continue
		}
		last = last[:0]
		for _, u := range frame.Users {
			last = append(last, u.ID)
		}
		if fmt.Sprint(last) == fmt.Sprint(ids) {
			return frame.Users
		}
	}
}

// ExpectClosed waits until c's connection ends and returns the close reason.
func (s *RelaySuite) ExpectClosed(c *client.Client) string {
	for {
		_, err := s.Next(c)
		if err != nil {
			s.Require().NotErrorIs(err, context.DeadlineExceeded, "connection of %s not closed", c.Identity().ID)
			return client.CloseReason(err)
		}
	}
}

func (s *RelaySuite) dump(c *client.Client, frame domain.OutboundFrame) {
	if !s.Config.DebugJSON {
		return
	}
	data, _ := json.MarshalIndent(frame, "", "  ")
	s.T().Logf("%s <- %s", c.Identity().ID, data)
}

func displayName(username string) string {
	return fmt.Sprintf("%s (e2e)", username)
}
