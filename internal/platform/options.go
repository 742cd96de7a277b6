package platform

import (
	"log/slog"

	"github.com/YusukeImai797/Gitnote/pkg/bus"
	"github.com/YusukeImai797/Gitnote/pkg/connectivity"
	"github.com/YusukeImai797/Gitnote/pkg/core"
)

// options holds the internal configuration of a workspace.
type options struct {
	config       *Config
	logger       *slog.Logger
	repository   core.FileStore
	metadata     core.MetadataStore
	broker       bus.Broker
	connectivity connectivity.Monitor
	autoInit     bool
}

// Option configures Open.
type Option func(*options)

func defaultOptions() *options {
	return &options{}
}

// WithConfig uses cfg instead of reading .gitnote/gitnote.yaml.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = &cfg
	}
}

// WithLogger sets the logger of every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRepository injects the repository tier, skipping the configured backend.
func WithRepository(repo core.FileStore) Option {
	return func(o *options) {
		o.repository = repo
	}
}

// WithMetadata injects the metadata store, skipping the configured backend.
func WithMetadata(store core.MetadataStore) Option {
	return func(o *options) {
		o.metadata = store
	}
}

// WithBus injects the coordination broker. The workspace does not close an
// injected broker.
func WithBus(b bus.Broker) Option {
	return func(o *options) {
		o.broker = b
	}
}

// WithConnectivity injects the connectivity monitor, skipping the prober.
func WithConnectivity(m connectivity.Monitor) Option {
	return func(o *options) {
		o.connectivity = m
	}
}

// WithAutoInit creates the work tree and runs git init when missing.
func WithAutoInit(auto bool) Option {
	return func(o *options) {
		o.autoInit = auto
	}
}
