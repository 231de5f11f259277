package gatewaykit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dmitrijs2005/gatewaykit/internal/logging"
)

// Params are the dependencies Module takes from the application graph.
// Only the configuration is required.
type Params struct {
	fx.In

	Config     *Config
	Logger     logging.Logger        `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
	Options    []Option              `group:"gatewaykit_options"`
}

// Module provides a *Kit that binds to the relay on start and is closed on
// stop.
//
// Provides:
//   - *Kit
//
// Lifecycle:
//   - OnStart: bind to the relay; a relay that is not up yet is logged, not fatal
//   - OnStop: close the Kit
func Module() fx.Option {
	return fx.Module("gatewaykit",
		fx.Provide(ProvideKit),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideKit builds a Kit from p.
func ProvideKit(p Params) (*Kit, error) {
	var opts []Option
	if p.Logger != nil {
		opts = append(opts, WithLogger(p.Logger))
	}
	if p.Registerer != nil {
		opts = append(opts, WithRegisterer(p.Registerer))
	}
	opts = append(opts, p.Options...)
	return New(context.Background(), p.Config, opts...)
}

func registerLifecycle(lc fx.Lifecycle, k *Kit) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := k.Bind(ctx); err != nil {
				k.logger.Warn(ctx, "relay not reachable at start", "error", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return k.Close(ctx)
		},
	})
}

// AsOption contributes opt to the Kit built by Module.
func AsOption(opt Option) fx.Option {
	return fx.Provide(fx.Annotate(
		func() Option { return opt },
		fx.ResultTags(`group:"gatewaykit_options"`),
	))
}
