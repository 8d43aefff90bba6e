package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAwaitStopped_Returns_True_When_All_Servers_Stopped(t *testing.T) {
	req := require.New(t)

	// Given two servers that return after a short while
	release := make(chan struct{})
	first := serve(func() { <-release })
	second := serve(func() {})

	// When shutdown waits on them
	close(release)
	stopped := awaitStopped(time.Second, first, second)

	// Then both were seen stopping within the timeout
	req.True(stopped)
}

func TestAwaitStopped_Gives_Up_After_Timeout(t *testing.T) {
	req := require.New(t)

	// Given a server that never returns until the test ends
	release := make(chan struct{})
	defer close(release)
	stuck := serve(func() { <-release })
	done := serve(func() {})

	// When shutdown waits on both with a short timeout
	start := time.Now()
	stopped := awaitStopped(50*time.Millisecond, done, stuck)

	// Then the wait ends at the timeout instead of hanging
	req.False(stopped)
	req.Less(time.Since(start), time.Second)
}
