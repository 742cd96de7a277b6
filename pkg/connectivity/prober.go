package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
)

// ProberConfig configures a Prober.
type ProberConfig struct {
	// URL is requested with GET; any response below 500 counts as online.
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	// Failures is the number of consecutive failed probes before going offline.
	Failures   int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Prober is a worker that polls a health endpoint and drives a Switch.
type Prober struct {
	*worker.BaseWorker
	sw     *Switch
	cfg    ProberConfig
	cancel context.CancelFunc
}

var _ Monitor = (*Prober)(nil)

// NewProber creates a prober assuming the remote is reachable until a probe
// says otherwise.
func NewProber(cfg ProberConfig) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Failures <= 0 {
		cfg.Failures = 2
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Prober{
		BaseWorker: worker.NewBaseWorker("connectivity-prober"),
		sw:         NewSwitch(true),
		cfg:        cfg,
	}
}

func (p *Prober) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	status := p.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("prober already started (status: %s)", status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.SetStatus(worker.StatusRunning)
	return p.StartFunc(runCtx, p.run)
}

func (p *Prober) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.StopRequested = true
		p.cancel()
	}
	return p.BaseWorker.Stop(ctx)
}

func (p *Prober) State() worker.State {
	return p.ExportState(func(s *worker.State) {
		online := "false"
		if p.Online() {
			online = "true"
		}
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"url":               p.cfg.URL,
			"online":            online,
		}
	})
}

// Online implements Monitor.
func (p *Prober) Online() bool {
	return p.sw.Online()
}

// Watch implements Monitor.
func (p *Prober) Watch(fn func(online bool)) func() {
	return p.sw.Watch(fn)
}

// Probe performs a single check.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

func (p *Prober) run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	check := func() {
		if p.Probe(ctx) {
			failures = 0
			if !p.Online() {
				p.cfg.Logger.Info("remote reachable again", "url", p.cfg.URL)
			}
			p.sw.Set(true)
			return
		}
		if ctx.Err() != nil {
			return
		}
		failures++
		if failures >= p.cfg.Failures && p.Online() {
			p.cfg.Logger.Warn("remote unreachable, going offline", "url", p.cfg.URL, "failures", failures)
			p.sw.Set(false)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			check()
		}
	}
}
