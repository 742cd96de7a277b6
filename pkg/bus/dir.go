package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/google/uuid"

	"github.com/YusukeImai797/Gitnote/internal/fsutil"
)

// DefaultRetention is how long message files are kept in the bus directory.
const DefaultRetention = time.Minute

// DirConfig configures a Dir broker.
type DirConfig struct {
	// Path is the directory shared by every participating process.
	Path      string
	Retention time.Duration
	Logger    *slog.Logger
}

// Dir is a broker for processes sharing a directory. Every message is a
// JSON file; a supervised fsnotify worker delivers new files to local
// subscribers.
type Dir struct {
	path      string
	retention time.Duration
	logger    *slog.Logger
	local     *Memory

	mu   sync.Mutex
	seen map[string]time.Time
	sup  runner
}

// runner is the part of the supervisor used by the broker.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var _ Broker = (*Dir)(nil)

// NewDir creates a directory broker. Call Start to begin delivery.
func NewDir(cfg DirConfig) *Dir {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Dir{
		path:      cfg.Path,
		retention: cfg.Retention,
		logger:    cfg.Logger,
		local:     NewMemory(cfg.Logger),
		seen:      make(map[string]time.Time),
	}
}

// Start creates the directory and starts the supervised watcher. Files
// already present are treated as history and not delivered.
func (d *Dir) Start(ctx context.Context) error {
	if err := os.MkdirAll(d.path, 0755); err != nil {
		return fmt.Errorf("failed to create bus directory: %w", err)
	}
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return fmt.Errorf("failed to read bus directory: %w", err)
	}
	now := time.Now()
	d.mu.Lock()
	for _, e := range entries {
		d.seen[e.Name()] = now
	}
	d.mu.Unlock()

	spec := supervisor.Spec{
		Name: "bus-watcher",
		Type: string(worker.TypeGoroutine),
		Factory: func() (worker.Worker, error) {
			return newDirWorker(d), nil
		},
		Backoff: supervisor.Backoff{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			ResetDuration:   30 * time.Second,
			MaxRestarts:     10,
			MaxDuration:     time.Minute,
		},
		RestartPolicy: supervisor.RestartOnFailure,
	}

	d.mu.Lock()
	d.sup = supervisor.New("bus", supervisor.StrategyOneForOne, spec)
	sup := d.sup
	d.mu.Unlock()
	return sup.Start(ctx)
}

// Publish writes msg as a new file in the bus directory and prunes expired
// messages.
func (d *Dir) Publish(ctx context.Context, msg Message) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	name := fmt.Sprintf("%020d-%s.json", msg.SentAt.UnixNano(), uuid.NewString())
	if err := fsutil.WriteFileAtomic(filepath.Join(d.path, name), data, 0644); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	d.prune()
	return nil
}

// Subscribe registers h for topic.
func (d *Dir) Subscribe(topic string, h Handler) (Subscription, error) {
	return d.local.Subscribe(topic, h)
}

// Close stops the watcher and local delivery.
func (d *Dir) Close() error {
	d.mu.Lock()
	sup := d.sup
	d.sup = nil
	d.mu.Unlock()

	var err error
	if sup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = sup.Stop(ctx)
	}
	if cerr := d.local.Close(); err == nil {
		err = cerr
	}
	return err
}

// deliver reads a message file once and hands it to local subscribers.
func (d *Dir) deliver(ctx context.Context, name string) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".json") || strings.HasPrefix(base, ".") {
		return
	}

	d.mu.Lock()
	if _, dup := d.seen[base]; dup {
		d.mu.Unlock()
		return
	}
	d.seen[base] = time.Now()
	d.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(d.path, base))
	if err != nil {
		// Pruned before we got to it.
		return
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		d.logger.Debug("ignoring malformed bus message", "file", base, "error", err)
		return
	}
	if err := d.local.Publish(ctx, msg); err != nil {
		d.logger.Debug("local delivery failed", "error", err)
	}
}

func (d *Dir) prune() {
	cutoff := time.Now().Add(-d.retention)
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(d.path, e.Name()))
	}

	d.mu.Lock()
	for name, at := range d.seen {
		if at.Before(cutoff.Add(-d.retention)) {
			delete(d.seen, name)
		}
	}
	d.mu.Unlock()
}
