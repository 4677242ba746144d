package handler

import (
	controller "github.com/uber/cad-server/src/cadd/controller"
	caddaemon "github.com/uber/cad-server/src/cadd/controller/cad-daemon"
	handler "github.com/uber/cad-server/src/cadd/handler/cad-daemon"
	"github.com/uber/cad-server/src/cadd/repository/session"
	"go.uber.org/fx"
)

// Module provides the cad-daemon server into an Fx application.
var Module = fx.Options(
	controller.Module,
	fx.Provide(session.New),
	fx.Provide(handler.New),
	fx.Invoke(func(m handler.Handler) {}),
	fx.Invoke(func(m caddaemon.Controller) {}),
)
