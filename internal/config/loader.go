package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
)

// Loader re-parses the environment into cfg on SIGHUP and dumps the
// current configuration to stdout on SIGUSR1, the same two signals the
// teacher's secrets-backed loader watched for — reload and introspect —
// minus the secrets round trip this service has no use for.
type Loader struct {
	cfg              *ServiceConfig
	configSignalChan chan os.Signal
	reloadErrors     chan error
}

func NewLoader(cfg *ServiceConfig) *Loader {
	return &Loader{
		cfg:              cfg,
		configSignalChan: make(chan os.Signal, 1),
		reloadErrors:     make(chan error, 1),
	}
}

// WatchConfigSignals starts the signal watcher and returns a channel
// reporting the outcome of each SIGHUP-triggered reload (nil on
// success). The channel is closed once ctx is done.
func (l *Loader) WatchConfigSignals(ctx context.Context) <-chan error {
	signal.Notify(l.configSignalChan, syscall.SIGHUP, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(l.configSignalChan)
		defer close(l.configSignalChan)
		defer close(l.reloadErrors)

		for {
			select {
			case <-ctx.Done():
				return

			case sig := <-l.configSignalChan:
				switch sig {
				case syscall.SIGHUP:
					l.reload()
				case syscall.SIGUSR1:
					l.DumpConfig()
				}
			}
		}
	}()

	return l.reloadErrors
}

func (l *Loader) reload() {
	next := &ServiceConfig{}
	if err := envconfig.Process("", next); err != nil {
		l.reportReloadStatus(fmt.Errorf("reloading configuration: %w", err))
		return
	}

	*l.cfg = *next
	l.reportReloadStatus(nil)
}

func (l *Loader) DumpConfig() {
	configJSON, err := json.MarshalIndent(l.cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stdout, "error marshaling config: %v\n", err)
		return
	}

	fmt.Fprintf(os.Stdout, "\n=== Configuration Dump ===\n%s\n=== End Configuration ===\n\n", string(configJSON))
}

func (l *Loader) reportReloadStatus(err error) {
	select {
	case l.reloadErrors <- err:
	default:
	}
}

// Init parses the environment into a fresh ServiceConfig, applying
// every `default` declared on ServiceConfig's fields.
func Init() (*ServiceConfig, error) {
	cfg := &ServiceConfig{}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("unable to parse service configuration: %w", err)
	}

	return cfg, nil
}
