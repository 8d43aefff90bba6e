package observability

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestStats_Counters(t *testing.T) {
	req := require.New(t)
	stats := NewStats(logs.GetLoggerFromLevel(slog.LevelDebug), time.Second).
		WithOnline(func() int { return 3 })

	stats.IncrConnections()
	stats.IncrConnections()
	stats.IncrAuthFailures()
	stats.IncrRouted()
	stats.IncrDeliveryFailures()
	stats.IncrMalformed()
	stats.IncrEvictions()
	stats.AddPresencePushes(4)

	c := stats.Counters()
	req.Equal(3, c.Online)
	req.Equal(uint64(2), c.ConnectionsTotal)
	req.Equal(uint64(1), c.AuthFailures)
	req.Equal(uint64(1), c.MessagesRouted)
	req.Equal(uint64(1), c.DeliveryFailures)
	req.Equal(uint64(1), c.MalformedEnvelopes)
	req.Equal(uint64(1), c.Evictions)
	req.Equal(uint64(4), c.PresencePushes)
}

func TestStats_Run_Samples_Process(t *testing.T) {
	req := require.New(t)
	stats := NewStats(logs.GetLoggerFromLevel(slog.LevelDebug), 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- stats.Run(ctx) }()

	req.Eventually(func() bool {
		return stats.Latest().Goroutines > 0
	}, time.Second, 10*time.Millisecond)

	// When the context is canceled the worker terminates cleanly
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("stats worker did not stop")
	}
}
