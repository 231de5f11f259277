package gatewaykit

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/gatewaykit/internal/gateway/grpcrelay"
	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
)

type options struct {
	clock      clock.Clock
	logger     logging.Logger
	registerer prometheus.Registerer
	store      persistence.Store
	relay      *grpcrelay.Client
}

type Option func(*options)

func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithLogger replaces the logger built from the log configuration.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the gateway metrics with reg. Without it the
// metrics are kept but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithStore uses store instead of opening the configured backend. The Kit
// does not close it.
func WithStore(store persistence.Store) Option {
	return func(o *options) { o.store = store }
}

// WithRelayClient uses client instead of dialing the configured relay. The
// Kit does not close it.
func WithRelayClient(client *grpcrelay.Client) Option {
	return func(o *options) { o.relay = client }
}
