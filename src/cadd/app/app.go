package app

import (
	"context"
	"time"

	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/gateway"
	"github.com/uber/cad-server/src/cadd/handler"
	"github.com/uber/cad-server/src/cadd/internal/core"
	"github.com/uber/cad-server/src/cadd/internal/fs"
	"github.com/uber/cad-server/src/cadd/internal/serverinfofile"
	"github.com/uber/cad-server/src/cadd/internal/workerpool"
	"github.com/uber/cad-server/src/cadd/internal/wsfx"
	"github.com/uber/cad-server/src/cadd/repository/document"
	"github.com/uber/cad-server/src/cadd/repository/meshcache"
	"go.uber.org/fx"
)

// Module defines the cad-daemon application module.
var Module = fx.Options(
	gateway.Module, // outbounds
	handler.Module, // inbounds
	document.Module,
	meshcache.Module,
	workerpool.Module,
	wsfx.Module,
	fs.Module,
	serverinfofile.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "cad-daemon",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
	fx.Decorate(decorateEnvContext),
	fx.Decorate(decorateConfigProvider),
	fx.Provide(func() Context {
		return Context{
			Environment:        EnvLocal,
			RuntimeEnvironment: EnvLocal,
		}
	}),
)
