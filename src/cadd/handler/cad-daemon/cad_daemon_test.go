package caddaemon

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/controller/cad-daemon/caddaemonmock"
	"github.com/uber/cad-server/src/cadd/factory"
	"github.com/uber/cad-server/src/cadd/gateway/session-client/sessionclientmock"
	"github.com/uber/cad-server/src/cadd/internal/wsfx/wsfxmock"
	"github.com/uber/cad-server/src/cadd/mapper"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("registers connection manager", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		wsMock := wsfxmock.NewMockWebSocketModule(ctrl)
		wsMock.EXPECT().RegisterConnectionManager(gomock.Any()).Return(nil)

		h, err := New(caddaemonmock.NewMockController(ctrl), sessionclientmock.NewMockGateway(ctrl), wsMock, zap.NewNop().Sugar(), tally.NoopScope)
		assert.NoError(t, err)
		assert.IsType(t, &connectionManager{}, h)
	})

	t.Run("registration failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		wsMock := wsfxmock.NewMockWebSocketModule(ctrl)
		wsMock.EXPECT().RegisterConnectionManager(gomock.Any()).Return(errors.New("cannot register a duplicate connection manager"))

		_, err := New(caddaemonmock.NewMockController(ctrl), sessionclientmock.NewMockGateway(ctrl), wsMock, zap.NewNop().Sugar(), tally.NoopScope)
		assert.Error(t, err)
	})
}

func TestNewConnection(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	c := caddaemonmock.NewMockController(ctrl)
	mgr := connectionManager{
		ctrl:   c,
		logger: zap.NewNop().Sugar(),
		stats:  tally.NewTestScope("testing", make(map[string]string, 0)),
	}

	t.Run("create success", func(t *testing.T) {
		id := factory.UUID()
		outbox := sessionclientmock.NewMockOutbox(ctrl)
		c.EXPECT().InitSession(gomock.Any(), "10.0.0.1:5555").Return(id, outbox, nil)

		r, gotOutbox, err := mgr.NewConnection(ctx, "10.0.0.1:5555")
		require.NoError(t, err)
		assert.IsType(t, &router{}, r)
		assert.Equal(t, id, r.UUID())
		assert.Equal(t, outbox, gotOutbox)
	})

	t.Run("create failure", func(t *testing.T) {
		c.EXPECT().InitSession(gomock.Any(), gomock.Any()).Return(uuid.Nil, nil, errors.New("error"))
		_, _, err := mgr.NewConnection(ctx, "10.0.0.1:5555")
		assert.Error(t, err)
	})
}

func TestRemoveConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := caddaemonmock.NewMockController(ctrl)
	mgr := connectionManager{
		ctrl:   c,
		logger: zap.NewNop().Sugar(),
	}

	id := factory.UUID()
	c.EXPECT().EndSession(gomock.Any(), id).DoAndReturn(func(ctx context.Context, got uuid.UUID) error {
		resultID, err := mapper.ContextToSessionUUID(ctx)
		assert.NoError(t, err)
		assert.Equal(t, got, resultID)
		return errors.New("already ended")
	})

	mgr.RemoveConnection(context.Background(), id)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
