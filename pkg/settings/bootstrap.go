package settings

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cognia-ai/loghub/pkg/loghub"
	"github.com/cognia-ai/loghub/pkg/transports"
)

// Bootstrap creates a Hub from cfg and registers the transports its toggles
// enable. The console transport is handled lazily by the Hub itself.
// storePath overrides the persistent store location; empty uses the default
// per-user path.
func Bootstrap(cfg loghub.Config, storePath string) (*loghub.Hub, error) {
	hub, err := loghub.New(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.EnableStorage {
		if storePath == "" {
			storePath = defaultStorePath()
		}
		report := func(msg string, err error) {
			hub.ReportTransportError("storage", msg, err)
		}
		store, err := transports.NewFileStore(storePath,
			transports.WithStoreBufferSize(cfg.BufferSize),
			transports.WithStoreFlushInterval(cfg.FlushInterval),
			transports.WithStoreMaxEntries(cfg.MaxStorageEntries),
			transports.WithStoreRetention(time.Duration(cfg.RetentionDays)*24*time.Hour),
			transports.WithStoreErrorHandler(report),
		)
		if err != nil {
			return nil, err
		}
		hub.RegisterTransport(store)
	}

	if cfg.EnableRemote {
		shipper := transports.NewRemoteShipper(cfg.RemoteEndpoint,
			transports.WithRemoteHeaders(cfg.RemoteHeaders),
			transports.WithRemoteBufferSize(cfg.BufferSize),
			transports.WithRemoteFlushInterval(cfg.FlushInterval),
			transports.WithRemoteErrorHandler(func(msg string, err error) {
				hub.ReportTransportError("remote", msg, err)
			}),
		)
		hub.RegisterTransport(shipper)
	}

	return hub, nil
}

func defaultStorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "loghub", "logs.jsonl")
}
