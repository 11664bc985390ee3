package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays MAESTRO_* environment variables onto cfg. Unparseable
// values are ignored.
func FromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("MAESTRO_REPLICA", &cfg.Replica)
	str("MAESTRO_DATA_DIR", &cfg.DataDir)
	str("MAESTRO_HTTP_ADDR", &cfg.HTTPAddr)
	str("MAESTRO_GRPC_ADDR", &cfg.GRPCAddr)
	str("MAESTRO_FSYNC", &cfg.Fsync)
	str("MAESTRO_POISON_POLICY", &cfg.PoisonPolicy)
	dur("MAESTRO_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	dur("MAESTRO_JOURNAL_RETENTION", &cfg.JournalRetention)
	if v := os.Getenv("MAESTRO_START_STOPPED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StartStopped = b
		}
	}
	if v := os.Getenv("MAESTRO_CONSUMERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			for i := range cfg.Queues {
				cfg.Queues[i].Consumers = n
			}
		}
	}

	str("MAESTRO_LOG_LEVEL", &cfg.Log.Level)
	str("MAESTRO_LOG_FORMAT", &cfg.Log.Format)

	str("MAESTRO_STATE_BACKEND", &cfg.StateStore.Backend)
	str("MAESTRO_STATE_PREFIX", &cfg.StateStore.Prefix)
	dur("MAESTRO_STATE_PUBLISH_INTERVAL", &cfg.StateStore.PublishInterval)
	str("MAESTRO_S3_ENDPOINT", &cfg.StateStore.S3.Endpoint)
	str("MAESTRO_S3_REGION", &cfg.StateStore.S3.Region)
	str("MAESTRO_S3_BUCKET", &cfg.StateStore.S3.Bucket)
	str("MAESTRO_S3_ACCESS_KEY", &cfg.StateStore.S3.AccessKey)
	str("MAESTRO_S3_SECRET_KEY", &cfg.StateStore.S3.SecretKey)
	str("MAESTRO_AZURE_ACCOUNT", &cfg.StateStore.Azure.Account)
	str("MAESTRO_AZURE_ACCOUNT_KEY", &cfg.StateStore.Azure.AccountKey)
	str("MAESTRO_AZURE_SAS_TOKEN", &cfg.StateStore.Azure.SASToken)
	str("MAESTRO_AZURE_CONTAINER", &cfg.StateStore.Azure.Container)
	str("MAESTRO_AZURE_ENDPOINT", &cfg.StateStore.Azure.Endpoint)

	str("MAESTRO_MIRROR_DIR", &cfg.Prereq.MirrorDir)
	str("MAESTRO_MIN_FREE_DISK", &cfg.Prereq.MinFreeDisk)
}
