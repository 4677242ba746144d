// Package serverinfofile publishes the daemon's connection info for clients that discover it on disk.
package serverinfofile

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/uber/cad-server/src/cadd/internal/fs"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyInfoFile = "serverInfoFilePath"
	_defaultDir        = "cadd"
	_defaultFileName   = "server-info.json"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

//go:generate mockgen -source=server_info_file.go -destination=serverinfofilemock/server_info_file_mock.go -package=serverinfofilemock

// ServerInfoFile manages the contents of a single server info file.
// Fields are written when listeners come up and the file is removed on shutdown.
type ServerInfoFile interface {
	UpdateField(key string, value string) error
	Path() string
}

type module struct {
	infofile     string
	fs           fs.CadFS
	logger       *zap.SugaredLogger
	fileContents map[string]string
	written      bool
	mu           sync.Mutex
}

// Params define values to be used by ServerInfoFile.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
	FS        fs.CadFS
}

// New creates a new ServerInfoFile. Without a configured path the file lives in the user cache directory.
func New(p Params) (ServerInfoFile, error) {
	m := module{
		fs:           p.FS,
		logger:       p.Logger,
		fileContents: make(map[string]string),
	}

	if err := m.processConfig(p.Config); err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: m.OnStop,
	})

	return &m, nil
}

func (m *module) OnStop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.written {
		return nil
	}
	if err := m.fs.Remove(m.infofile); err != nil {
		return fmt.Errorf("removing info file: %w", err)
	}
	m.written = false
	return nil
}

func (m *module) Path() string {
	return m.infofile
}

func (m *module) UpdateField(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fileContents[key] = value
	jsonOutput, err := json.Marshal(m.fileContents)
	if err != nil {
		return fmt.Errorf("marshalling json: %w", err)
	}

	if err := m.fs.MkdirAll(filepath.Dir(m.infofile)); err != nil {
		return fmt.Errorf("creating info file directory: %w", err)
	}
	if err := m.fs.WriteFileAtomic(m.infofile, jsonOutput); err != nil {
		return fmt.Errorf("writing info file: %w", err)
	}
	m.written = true
	m.logger.Infow("connection info saved", zap.String("file", m.infofile), zap.String(key, value))
	return nil
}

func (m *module) processConfig(cfg config.Provider) error {
	if val := cfg.Get(_configKeyInfoFile); val.HasValue() {
		if err := val.Populate(&m.infofile); err != nil {
			// incorrectly formatted config
			return fmt.Errorf("getting config field %q: %w", _configKeyInfoFile, err)
		}
	}
	if m.infofile != "" {
		return nil
	}

	cacheDir, err := m.fs.UserCacheDir()
	if err != nil {
		return fmt.Errorf("resolving default info file location: %w", err)
	}
	m.infofile = filepath.Join(cacheDir, _defaultDir, _defaultFileName)
	return nil
}
