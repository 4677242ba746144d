package controller

import (
	caddaemon "github.com/uber/cad-server/src/cadd/controller/cad-daemon"
	"github.com/uber/cad-server/src/cadd/controller/scheduler"
	"go.uber.org/fx"
)

// Module provides the business logic controllers.
var Module = fx.Options(
	fx.Provide(caddaemon.New),
	scheduler.Module,
)
