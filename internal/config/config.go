package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rzbill/maestro/internal/journal"
	"github.com/rzbill/maestro/internal/workqueue"
	logpkg "github.com/rzbill/maestro/pkg/log"
	"github.com/spf13/viper"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// Replica identifies this process in the shared state store.
	Replica  string `json:"replica" mapstructure:"replica"`
	DataDir  string `json:"dataDir" mapstructure:"dataDir"`
	HTTPAddr string `json:"httpAddr" mapstructure:"httpAddr"`
	GRPCAddr string `json:"grpcAddr" mapstructure:"grpcAddr"`
	// Fsync is always, interval or never.
	Fsync string `json:"fsync" mapstructure:"fsync"`
	// StartStopped brings the replica up in Stopped instead of Initializing;
	// an operator start is then required before any work is admitted.
	StartStopped    bool          `json:"startStopped" mapstructure:"startStopped"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" mapstructure:"shutdownTimeout"`
	// PoisonPolicy is a CEL expression; empty means dequeue_count > 5.
	PoisonPolicy string           `json:"poisonPolicy" mapstructure:"poisonPolicy"`
	Queues       []QueueConfig    `json:"queues" mapstructure:"queues"`
	StateStore   StateStoreConfig `json:"stateStore" mapstructure:"stateStore"`
	Prereq       PrereqConfig     `json:"prereq" mapstructure:"prereq"`

	// JournalRetention bounds the transition history; zero keeps it all.
	JournalRetention time.Duration `json:"journalRetention" mapstructure:"journalRetention"`
	Log              logpkg.Config `json:"log" mapstructure:"log"`
}

// QueueConfig declares one consumed queue.
type QueueConfig struct {
	Name              string        `json:"name" mapstructure:"name"`
	Consumers         int           `json:"consumers" mapstructure:"consumers"`
	VisibilityTimeout time.Duration `json:"visibilityTimeout" mapstructure:"visibilityTimeout"`
	PollInterval      time.Duration `json:"pollInterval" mapstructure:"pollInterval"`
}

// StateStoreConfig selects where replica state is published.
type StateStoreConfig struct {
	// Backend is memory, pebble, s3 or azure.
	Backend         string        `json:"backend" mapstructure:"backend"`
	Prefix          string        `json:"prefix" mapstructure:"prefix"`
	PublishInterval time.Duration `json:"publishInterval" mapstructure:"publishInterval"`
	StaleAfter      time.Duration `json:"staleAfter" mapstructure:"staleAfter"`
	S3              S3Config      `json:"s3" mapstructure:"s3"`
	Azure           AzureConfig   `json:"azure" mapstructure:"azure"`
}

// S3Config configures the s3 backend.
type S3Config struct {
	Endpoint       string `json:"endpoint" mapstructure:"endpoint"`
	Region         string `json:"region" mapstructure:"region"`
	Bucket         string `json:"bucket" mapstructure:"bucket"`
	Prefix         string `json:"prefix" mapstructure:"prefix"`
	AccessKey      string `json:"accessKey" mapstructure:"accessKey"`
	SecretKey      string `json:"secretKey" mapstructure:"secretKey"`
	Insecure       bool   `json:"insecure" mapstructure:"insecure"`
	ForcePathStyle bool   `json:"forcePathStyle" mapstructure:"forcePathStyle"`
}

// AzureConfig configures the azure backend.
type AzureConfig struct {
	Account    string `json:"account" mapstructure:"account"`
	AccountKey string `json:"accountKey" mapstructure:"accountKey"`
	Endpoint   string `json:"endpoint" mapstructure:"endpoint"`
	SASToken   string `json:"sasToken" mapstructure:"sasToken"`
	Container  string `json:"container" mapstructure:"container"`
	Prefix     string `json:"prefix" mapstructure:"prefix"`
}

// PrereqConfig lists the preparation done before work is admitted.
type PrereqConfig struct {
	// MirrorDir is created and checked for writability. Empty skips it.
	MirrorDir string `json:"mirrorDir" mapstructure:"mirrorDir"`
	// MinFreeDisk is a size such as "1GiB" required free under DataDir.
	MinFreeDisk   string        `json:"minFreeDisk" mapstructure:"minFreeDisk"`
	RetryInterval time.Duration `json:"retryInterval" mapstructure:"retryInterval"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Replica:         DefaultReplica(),
		DataDir:         DefaultDataDir(),
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		Fsync:           "interval",
		ShutdownTimeout: 5 * time.Minute,
		Queues: []QueueConfig{{
			Name:              "workitems",
			Consumers:         4,
			VisibilityTimeout: workqueue.DefaultVisibilityTimeout,
			PollInterval:      time.Second,
		}},
		StateStore: StateStoreConfig{
			Backend:         "pebble",
			Prefix:          "replicas/",
			PublishInterval: 30 * time.Second,
			StaleAfter:      2 * time.Minute,
		},
		Prereq:           PrereqConfig{RetryInterval: 2 * time.Second},
		JournalRetention: journal.DefaultRetention,
		Log:              logpkg.Config{Level: "info", Format: "text"},
	}
}

// DefaultReplica returns the host name, or a random name when it is unknown.
func DefaultReplica() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "maestro-" + uuid.NewString()[:8]
}

// Load reads configuration from a JSON, YAML or TOML file (by extension)
// over the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if v.IsSet("queues") {
		cfg.Queues = nil
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem in cfg at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Replica) == "" {
		errs = append(errs, errors.New("replica must not be empty"))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("dataDir must not be empty"))
	}
	switch c.Fsync {
	case "always", "interval", "never":
	default:
		errs = append(errs, fmt.Errorf("fsync %q: want always, interval or never", c.Fsync))
	}
	if len(c.Queues) == 0 {
		errs = append(errs, errors.New("at least one queue is required"))
	}
	seen := make(map[string]bool)
	for _, q := range c.Queues {
		if !workqueue.ValidName(q.Name) {
			errs = append(errs, fmt.Errorf("queue %q: invalid name", q.Name))
		}
		if seen[q.Name] {
			errs = append(errs, fmt.Errorf("queue %q: declared twice", q.Name))
		}
		seen[q.Name] = true
		if q.Consumers < 1 {
			errs = append(errs, fmt.Errorf("queue %q: consumers must be >= 1", q.Name))
		}
	}
	switch c.StateStore.Backend {
	case "memory", "pebble":
	case "s3":
		if c.StateStore.S3.Bucket == "" {
			errs = append(errs, errors.New("stateStore.s3.bucket is required"))
		}
	case "azure":
		if c.StateStore.Azure.Account == "" || c.StateStore.Azure.Container == "" {
			errs = append(errs, errors.New("stateStore.azure.account and container are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("stateStore.backend %q: want memory, pebble, s3 or azure", c.StateStore.Backend))
	}
	if c.JournalRetention < 0 {
		errs = append(errs, errors.New("journalRetention must not be negative"))
	}
	if c.Log.Level != "" {
		if _, err := logpkg.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
