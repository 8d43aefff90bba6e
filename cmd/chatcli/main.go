package main

import (
	"bufio"
	"chat-relay/client"
	"chat-relay/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
)

type Config struct {
	URL               string        `env:"CHAT_URL,default=ws://localhost:8080/ws"`
	Username          string        `env:"CHAT_USERNAME,required=true"`
	Password          string        `env:"CHAT_PASSWORD,required=true"`
	PublicKey         string        `env:"CHAT_PUBLIC_KEY"`
	HandshakeTimeout  time.Duration `env:"CHAT_HANDSHAKE_TIMEOUT,default=5s"`
	WriteTimeout      time.Duration `env:"CHAT_WRITE_TIMEOUT,default=5s"`
	ReconnectInterval time.Duration `env:"CHAT_RECONNECT_INTERVAL,default=500ms"`
	MaxReconnectTries int           `env:"CHAT_MAX_RECONNECT_TRIES,default=5"`
	LogLevel          string        `env:"LOG_LEVEL,default=WARN"`
}

type textPayload struct {
	Text string `json:"text"`
}

const help = `/msg <user> <text>  private message
/all <text>         broadcast
/who                last presence list
/reconnect          reconnect with the session token
/quit               logout and exit`

var (
	infoStyle   = color.New(color.FgCyan)
	errorStyle  = color.New(color.FgRed, color.OpBold)
	senderStyle = color.New(color.FgGreen, color.OpBold)
	systemStyle = color.New(color.BgBlack, color.FgYellow)
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Fatal error: "+err.Error()))
		os.Exit(1)
	}
}

func run() error {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(log, client.Config{
		URL:               config.URL,
		Username:          config.Username,
		Password:          config.Password,
		PublicKey:         config.PublicKey,
		HandshakeTimeout:  config.HandshakeTimeout,
		WriteTimeout:      config.WriteTimeout,
		ReconnectInterval: config.ReconnectInterval,
		MaxReconnectTries: config.MaxReconnectTries,
	})
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	me := c.Identity()
	fmt.Println(systemStyle.Render(fmt.Sprintf(" connected as %s (%s) ", me.DisplayName, me.ID)))
	fmt.Println(infoStyle.Render(help))

	presence := &presenceView{}
	go receive(ctx, log, c, presence, stop)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = c.Logout()
				return nil
			}
			done, err := handle(ctx, c, presence, strings.TrimSpace(line))
			if err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
			}
			if done {
				return nil
			}
		}
	}
}

func handle(ctx context.Context, c *client.Client, presence *presenceView, line string) (bool, error) {
	command, rest, _ := strings.Cut(line, " ")
	switch command {
	case "":
		return false, nil
	case "/quit":
		return true, c.Logout()
	case "/reconnect":
		return false, c.Reconnect(ctx)
	case "/who":
		fmt.Println(infoStyle.Render(presence.String()))
		return false, nil
	case "/all":
		return false, c.Broadcast(textPayload{Text: rest})
	case "/msg":
		to, text, ok := strings.Cut(rest, " ")
		if !ok || to == "" {
			return false, errors.New("usage: /msg <user> <text>")
		}
		return false, c.SendPrivate(to, textPayload{Text: text})
	default:
		if strings.HasPrefix(command, "/") {
			return false, fmt.Errorf("unknown command %s", command)
		}
		return false, c.Broadcast(textPayload{Text: line})
	}
}

func receive(ctx context.Context, log *slog.Logger, c *client.Client, presence *presenceView, stop context.CancelFunc) {
	for {
		frame, err := c.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			reason := client.CloseReason(err)
			log.Debug("Connection ended", "reason", reason, "error", err)
			fmt.Println(systemStyle.Render(" disconnected: " + lo.CoalesceOrEmpty(reason, err.Error()) + " "))
			if reason == domain.CloseDuplicateLogin || reason == domain.CloseLogout {
				stop()
				return
			}
			continue
		}
		render(frame, presence)
	}
}

func render(frame domain.OutboundFrame, presence *presenceView) {
	switch domain.FrameType(frame.Type) {
	case domain.FramePresence:
		presence.set(frame.Users)
		fmt.Println(infoStyle.Render(presence.String()))
	case domain.FrameDeliverFail:
		fmt.Println(errorStyle.Render(fmt.Sprintf("%s to %s failed: %s", frame.OriginalType, frame.Recipient, frame.Reason)))
	default:
		var text textPayload
		if err := json.Unmarshal(frame.Payload, &text); err != nil || text.Text == "" {
			text.Text = string(frame.Payload)
		}
		from := "?"
		if frame.Sender != nil {
			from = frame.Sender.DisplayName
		}
		prefix := from
		if domain.MessageType(frame.Type) != domain.MessageBroadcast {
			prefix = fmt.Sprintf("%s [%s]", from, frame.Type)
		}
		fmt.Printf("%s %s\n", senderStyle.Render(prefix+":"), text.Text)
	}
}
