package gateway

import (
	"github.com/uber/cad-server/src/cadd/gateway/geometry"
	sessionclient "github.com/uber/cad-server/src/cadd/gateway/session-client"
	"go.uber.org/fx"
)

// Module provides the outbound gateways: the geometry kernel and the session clients.
var Module = fx.Options(
	geometry.Module,
	sessionclient.Module,
)
