package gitnote

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/YusukeImai797/Gitnote/internal/platform"
	"github.com/YusukeImai797/Gitnote/pkg/bus"
	"github.com/YusukeImai797/Gitnote/pkg/connectivity"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/engine"
)

// --- Types ---

type (
	Note          = core.Note
	ConflictError = core.ConflictError
	Session       = engine.Session
	State         = engine.State
	Workspace     = platform.Workspace
	Config        = platform.Config
)

// --- Configuration ---

// Option configures Open and Init.
type Option = platform.Option

// DefaultConfig returns the configuration written by Init.
func DefaultConfig() Config {
	return platform.DefaultConfig()
}

// WithConfig uses cfg instead of reading .gitnote/gitnote.yaml.
func WithConfig(cfg Config) Option {
	return platform.WithConfig(cfg)
}

// WithLogger sets the logger of every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithRepository injects the repository tier.
func WithRepository(repo core.FileStore) Option {
	return platform.WithRepository(repo)
}

// WithMetadata injects the metadata store.
func WithMetadata(store core.MetadataStore) Option {
	return platform.WithMetadata(store)
}

// WithBus injects the coordination broker.
func WithBus(b bus.Broker) Option {
	return platform.WithBus(b)
}

// WithConnectivity injects the connectivity monitor.
func WithConnectivity(m connectivity.Monitor) Option {
	return platform.WithConnectivity(m)
}

// WithAutoInit creates the work tree and runs git init when missing.
func WithAutoInit(auto bool) Option {
	return platform.WithAutoInit(auto)
}

// --- Factory ---

// Open starts the workspace at root.
func Open(ctx context.Context, root string, opts ...Option) (*Workspace, error) {
	return platform.Open(ctx, root, opts...)
}

// Init writes cfg as the workspace configuration, unless one exists, and
// opens the workspace, creating the git repository when needed.
func Init(ctx context.Context, root string, cfg Config, opts ...Option) (*Workspace, error) {
	if _, err := platform.WriteConfig(root, cfg, false); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	opts = append([]Option{WithAutoInit(true)}, opts...)
	return platform.Open(ctx, root, opts...)
}

// FindRoot returns the workspace root containing dir.
func FindRoot(dir string) (string, error) {
	return platform.FindRoot(dir)
}
