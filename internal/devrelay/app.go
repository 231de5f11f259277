// Package devrelay runs the in-process relay on a TCP address so that
// applications can be developed against a local gateway.
package devrelay

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gatewaykit/internal/config"
	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/relaytest"
)

type App struct {
	config *config.Config
	logger logging.Logger
	relay  *relaytest.Relay
}

func NewApp(c *config.Config) (*App, error) {
	logger, err := logging.New(os.Stdout, c.Log.Format, c.Log.Level)
	if err != nil {
		return nil, err
	}
	return &App{
		config: c,
		logger: logger,
		relay:  relaytest.New(relaytest.WithLogger(logger)),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startRelay(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.relay.Run(ctx, app.config.Relay.Target); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is done or the process is signalled.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting development relay...", "address", app.config.Relay.Target)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startRelay(ctx, cancelFunc)
	}()

	wg.Wait()
}
