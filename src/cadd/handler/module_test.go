package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/gateway"
	"github.com/uber/cad-server/src/cadd/internal/fs"
	"github.com/uber/cad-server/src/cadd/internal/serverinfofile"
	"github.com/uber/cad-server/src/cadd/internal/workerpool"
	"github.com/uber/cad-server/src/cadd/internal/wsfx"
	"github.com/uber/cad-server/src/cadd/repository/document"
	"github.com/uber/cad-server/src/cadd/repository/meshcache"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestModule(t *testing.T) {
	assert.NoError(t, fx.ValidateApp(
		Module,
		gateway.Module,
		document.Module,
		meshcache.Module,
		workerpool.Module,
		wsfx.Module,
		serverinfofile.Module,
		fs.Module,
		fx.Provide(func() (config.Provider, error) {
			return config.NewStaticProvider(map[string]interface{}{})
		}),
		fx.Provide(func() *zap.SugaredLogger { return zap.NewNop().Sugar() }),
		fx.Provide(func() tally.Scope { return tally.NoopScope }),
	))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
