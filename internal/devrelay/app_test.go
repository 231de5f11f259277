package devrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gatewaykit/internal/config"
)

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.Target = "127.0.0.1:0"
	cfg.Log.Level = "error"

	app, err := NewApp(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BadAddressReturns(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.Target = "bad::addr"
	cfg.Log.Level = "error"

	app, err := NewApp(cfg)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		app.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return on listen failure")
	}
}

func TestNewApp_InvalidLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "loud"
	_, err := NewApp(cfg)
	require.Error(t, err)
}
