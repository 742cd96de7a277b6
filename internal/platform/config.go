package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/YusukeImai797/Gitnote/internal/fsutil"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/engine"
	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

const (
	// SystemDir holds the workspace configuration, cache and lock files.
	SystemDir = ".gitnote"
	// ConfigName is the configuration file name inside SystemDir, without
	// extension.
	ConfigName = "gitnote"
	// EnvPrefix prefixes environment overrides, e.g. GITNOTE_METADATA_BACKEND.
	EnvPrefix = "GITNOTE"
)

// Backend names.
const (
	BackendGit    = "git"
	BackendGitHub = "github"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRemote = "remote"
	BackendNone   = "none"
	BackendDir    = "dir"
	BackendWS     = "ws"
)

// Config is the workspace configuration read from .gitnote/gitnote.yaml.
type Config struct {
	Repository   RepositoryConfig   `mapstructure:"repository" yaml:"repository"`
	Metadata     MetadataConfig     `mapstructure:"metadata" yaml:"metadata"`
	Bus          BusConfig          `mapstructure:"bus" yaml:"bus"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity" yaml:"connectivity"`
	Sync         SyncConfig         `mapstructure:"sync" yaml:"sync"`
	Folders      FoldersConfig      `mapstructure:"folders" yaml:"folders"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
}

type RepositoryConfig struct {
	// Backend is "git" or "github".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Gitless writes the work tree without committing.
	Gitless     bool         `mapstructure:"gitless" yaml:"gitless"`
	AuthorName  string       `mapstructure:"author_name" yaml:"author_name,omitempty"`
	AuthorEmail string       `mapstructure:"author_email" yaml:"author_email,omitempty"`
	GitHub      GitHubConfig `mapstructure:"github" yaml:"github"`
}

type GitHubConfig struct {
	Owner   string `mapstructure:"owner" yaml:"owner,omitempty"`
	Repo    string `mapstructure:"repo" yaml:"repo,omitempty"`
	Branch  string `mapstructure:"branch" yaml:"branch,omitempty"`
	Token   string `mapstructure:"token" yaml:"token,omitempty"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

type MetadataConfig struct {
	// Backend is "memory", "sqlite" or "remote".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path of the SQLite database, relative to the workspace root.
	Path      string        `mapstructure:"path" yaml:"path"`
	URL       string        `mapstructure:"url" yaml:"url,omitempty"`
	Token     string        `mapstructure:"token" yaml:"token,omitempty"`
	Tolerance time.Duration `mapstructure:"tolerance" yaml:"tolerance"`
}

type BusConfig struct {
	// Backend is "none", "dir" or "ws".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path of the shared bus directory, relative to the workspace root.
	Path  string `mapstructure:"path" yaml:"path"`
	URL   string `mapstructure:"url" yaml:"url,omitempty"`
	Token string `mapstructure:"token" yaml:"token,omitempty"`
}

type ConnectivityConfig struct {
	// ProbeURL enables the health prober; empty means always online.
	ProbeURL string        `mapstructure:"probe_url" yaml:"probe_url,omitempty"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SyncConfig struct {
	CacheDelay      time.Duration `mapstructure:"cache_delay" yaml:"cache_delay"`
	MetadataDelay   time.Duration `mapstructure:"metadata_delay" yaml:"metadata_delay"`
	RepositoryDelay time.Duration `mapstructure:"repository_delay" yaml:"repository_delay"`
	EditingThrottle time.Duration `mapstructure:"editing_throttle" yaml:"editing_throttle"`
}

type FoldersConfig struct {
	Default string `mapstructure:"default" yaml:"default"`
	// Paths maps folder IDs to repository folders.
	Paths map[string]string `mapstructure:"paths" yaml:"paths,omitempty"`
}

type ServerConfig struct {
	Addr  string `mapstructure:"addr" yaml:"addr"`
	Token string `mapstructure:"token" yaml:"token,omitempty"`
}

// DefaultConfig returns the configuration of a fresh workspace.
func DefaultConfig() Config {
	return Config{
		Repository: RepositoryConfig{Backend: BackendGit},
		Metadata: MetadataConfig{
			Backend:   BackendSQLite,
			Path:      filepath.ToSlash(filepath.Join(SystemDir, "metadata.db")),
			Tolerance: core.DefaultTolerance,
		},
		Bus: BusConfig{
			Backend: BackendDir,
			Path:    filepath.ToSlash(filepath.Join(SystemDir, "bus")),
		},
		Connectivity: ConnectivityConfig{
			Interval: 15 * time.Second,
			Timeout:  5 * time.Second,
		},
		Sync: SyncConfig{
			CacheDelay:      engine.DefaultCacheDelay,
			MetadataDelay:   engine.DefaultMetadataDelay,
			RepositoryDelay: engine.DefaultRepositoryDelay,
			EditingThrottle: engine.DefaultEditingThrottle,
		},
		Folders: FoldersConfig{Default: notefile.DefaultFolder},
		Server:  ServerConfig{Addr: "127.0.0.1:7420"},
	}
}

// ConfigPath returns the configuration file of the workspace at root.
func ConfigPath(root string) string {
	return filepath.Join(root, SystemDir, ConfigName+".yaml")
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("repository.backend", cfg.Repository.Backend)
	v.SetDefault("repository.gitless", cfg.Repository.Gitless)
	v.SetDefault("repository.author_name", cfg.Repository.AuthorName)
	v.SetDefault("repository.author_email", cfg.Repository.AuthorEmail)
	v.SetDefault("repository.github.owner", cfg.Repository.GitHub.Owner)
	v.SetDefault("repository.github.repo", cfg.Repository.GitHub.Repo)
	v.SetDefault("repository.github.branch", cfg.Repository.GitHub.Branch)
	v.SetDefault("repository.github.token", cfg.Repository.GitHub.Token)
	v.SetDefault("repository.github.base_url", cfg.Repository.GitHub.BaseURL)

	v.SetDefault("metadata.backend", cfg.Metadata.Backend)
	v.SetDefault("metadata.path", cfg.Metadata.Path)
	v.SetDefault("metadata.url", cfg.Metadata.URL)
	v.SetDefault("metadata.token", cfg.Metadata.Token)
	v.SetDefault("metadata.tolerance", cfg.Metadata.Tolerance)

	v.SetDefault("bus.backend", cfg.Bus.Backend)
	v.SetDefault("bus.path", cfg.Bus.Path)
	v.SetDefault("bus.url", cfg.Bus.URL)
	v.SetDefault("bus.token", cfg.Bus.Token)

	v.SetDefault("connectivity.probe_url", cfg.Connectivity.ProbeURL)
	v.SetDefault("connectivity.interval", cfg.Connectivity.Interval)
	v.SetDefault("connectivity.timeout", cfg.Connectivity.Timeout)

	v.SetDefault("sync.cache_delay", cfg.Sync.CacheDelay)
	v.SetDefault("sync.metadata_delay", cfg.Sync.MetadataDelay)
	v.SetDefault("sync.repository_delay", cfg.Sync.RepositoryDelay)
	v.SetDefault("sync.editing_throttle", cfg.Sync.EditingThrottle)

	v.SetDefault("folders.default", cfg.Folders.Default)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.token", cfg.Server.Token)
}

// LoadConfig reads the workspace configuration at root. A missing file
// yields the defaults; GITNOTE_* environment variables override both.
func LoadConfig(root string) (Config, error) {
	v := viper.New()
	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(root, SystemDir))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read %s: %w", ConfigPath(root), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend names and the settings each backend requires.
func (c Config) Validate() error {
	switch c.Repository.Backend {
	case BackendGit:
	case BackendGitHub:
		if c.Repository.GitHub.Owner == "" || c.Repository.GitHub.Repo == "" {
			return fmt.Errorf("repository.github.owner and repository.github.repo are required")
		}
	default:
		return fmt.Errorf("unknown repository backend %q", c.Repository.Backend)
	}

	switch c.Metadata.Backend {
	case BackendMemory, BackendSQLite:
	case BackendRemote:
		if c.Metadata.URL == "" {
			return fmt.Errorf("metadata.url is required for the remote backend")
		}
	default:
		return fmt.Errorf("unknown metadata backend %q", c.Metadata.Backend)
	}

	switch c.Bus.Backend {
	case BackendNone, BackendDir, "":
	case BackendWS:
		if c.Bus.URL == "" {
			return fmt.Errorf("bus.url is required for the ws backend")
		}
	default:
		return fmt.Errorf("unknown bus backend %q", c.Bus.Backend)
	}
	return nil
}

// WriteConfig stores cfg as the workspace configuration at root. An
// existing file is only replaced when overwrite is set.
func WriteConfig(root string, cfg Config, overwrite bool) (string, error) {
	path := ConfigPath(root)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return path, os.ErrExist
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", SystemDir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
