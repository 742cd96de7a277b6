package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/YusukeImai797/Gitnote/pkg/adapters/cache"
	"github.com/YusukeImai797/Gitnote/pkg/adapters/github"
	"github.com/YusukeImai797/Gitnote/pkg/adapters/gitrepo"
	"github.com/YusukeImai797/Gitnote/pkg/adapters/metadata"
	"github.com/YusukeImai797/Gitnote/pkg/adapters/remotemeta"
	"github.com/YusukeImai797/Gitnote/pkg/bus"
	"github.com/YusukeImai797/Gitnote/pkg/connectivity"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/engine"
	"github.com/YusukeImai797/Gitnote/pkg/git"
)

// Workspace is a started engine wired to the stores configured for one
// root directory.
type Workspace struct {
	Root         string
	Config       Config
	Engine       *engine.Engine
	Cache        *cache.Store
	Metadata     core.MetadataStore
	Repository   core.FileStore
	Bus          bus.Broker
	Connectivity connectivity.Monitor

	logger  *slog.Logger
	closers []func() error
}

// Open builds and starts the workspace at root. The engine stops when ctx
// ends or Close is called.
//
//	ws, err := platform.Open(ctx, root, platform.WithLogger(logger))
func Open(ctx context.Context, root string, opts ...Option) (*Workspace, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	var cfg Config
	if o.config != nil {
		cfg = *o.config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else if cfg, err = LoadConfig(abs); err != nil {
		return nil, err
	}

	ws := &Workspace{Root: abs, Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = ws.Close()
		}
	}()

	ws.Cache = cache.New(cache.Config{Dir: filepath.Join(abs, SystemDir), Logger: logger})

	if ws.Repository = o.repository; ws.Repository == nil {
		if ws.Repository, err = ws.openRepository(ctx, o.autoInit); err != nil {
			return nil, err
		}
	}
	if ws.Metadata = o.metadata; ws.Metadata == nil {
		if ws.Metadata, err = ws.openMetadata(ctx); err != nil {
			return nil, err
		}
	}
	if ws.Connectivity = o.connectivity; ws.Connectivity == nil {
		if ws.Connectivity, err = ws.openConnectivity(ctx); err != nil {
			return nil, err
		}
	}
	if ws.Bus = o.broker; ws.Bus == nil {
		if ws.Bus, err = ws.openBus(ctx); err != nil {
			return nil, err
		}
	}

	e, err := engine.New(engine.Config{
		Cache:           ws.Cache,
		Metadata:        ws.Metadata,
		Repository:      ws.Repository,
		Bus:             ws.Bus,
		Connectivity:    ws.Connectivity,
		Logger:          logger,
		CacheDelay:      cfg.Sync.CacheDelay,
		MetadataDelay:   cfg.Sync.MetadataDelay,
		RepositoryDelay: cfg.Sync.RepositoryDelay,
		EditingThrottle: cfg.Sync.EditingThrottle,
		DefaultFolder:   cfg.Folders.Default,
		Folders:         cfg.Folders.Paths,
	})
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	ws.Engine = e
	ws.closers = append(ws.closers, e.Close)

	ok = true
	return ws, nil
}

func (w *Workspace) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.Root, filepath.FromSlash(p))
}

func (w *Workspace) openRepository(ctx context.Context, autoInit bool) (core.FileStore, error) {
	rc := w.Config.Repository
	switch rc.Backend {
	case BackendGitHub:
		return github.New(github.Config{
			BaseURL: rc.GitHub.BaseURL,
			Token:   rc.GitHub.Token,
			Owner:   rc.GitHub.Owner,
			Repo:    rc.GitHub.Repo,
			Branch:  rc.GitHub.Branch,
			Logger:  w.logger,
		})
	default:
		store := gitrepo.New(gitrepo.Config{
			Path:      w.Root,
			SystemDir: SystemDir,
			Gitless:   rc.Gitless,
			AutoInit:  autoInit,
			Identity:  git.Identity{Name: rc.AuthorName, Email: rc.AuthorEmail},
			Logger:    w.logger,
		})
		if err := store.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize repository: %w", err)
		}
		return store, nil
	}
}

func (w *Workspace) openMetadata(ctx context.Context) (core.MetadataStore, error) {
	mc := w.Config.Metadata
	opts := metadata.Options{Tolerance: mc.Tolerance}
	switch mc.Backend {
	case BackendMemory:
		return metadata.NewMemoryStore(opts), nil
	case BackendRemote:
		return remotemeta.New(remotemeta.Config{BaseURL: mc.URL, Token: mc.Token, Logger: w.logger}), nil
	default:
		store, err := metadata.OpenSQLite(ctx, w.resolve(mc.Path), opts)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, store.Close)
		return store, nil
	}
}

func (w *Workspace) openConnectivity(ctx context.Context) (connectivity.Monitor, error) {
	cc := w.Config.Connectivity
	if cc.ProbeURL == "" {
		return connectivity.NewSwitch(true), nil
	}
	p := connectivity.NewProber(connectivity.ProberConfig{
		URL:      cc.ProbeURL,
		Interval: cc.Interval,
		Timeout:  cc.Timeout,
		Logger:   w.logger,
	})
	if err := p.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start connectivity prober: %w", err)
	}
	w.closers = append(w.closers, func() error { return p.Stop(context.Background()) })
	return p, nil
}

func (w *Workspace) openBus(ctx context.Context) (bus.Broker, error) {
	bc := w.Config.Bus
	switch bc.Backend {
	case BackendDir:
		d := bus.NewDir(bus.DirConfig{Path: w.resolve(bc.Path), Logger: w.logger})
		if err := d.Start(ctx); err != nil {
			return nil, err
		}
		w.closers = append(w.closers, d.Close)
		return d, nil
	case BackendWS:
		c := bus.NewClient(bus.ClientConfig{URL: bc.URL, Token: bc.Token, Logger: w.logger})
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		w.closers = append(w.closers, c.Close)
		return c, nil
	default:
		return nil, nil
	}
}

// Close stops the engine and releases every component the workspace opened,
// in reverse order.
func (w *Workspace) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}
