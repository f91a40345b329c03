// Command gatewayd is the entry point for the multi-provider LLM gateway
// server. It loads configuration, wires every core component (§2 of the
// specification), and serves the downstream proxy and admin HTTP surface
// until it receives SIGINT/SIGTERM.
//
// Grounded on the teacher's cmd/server/main.go: flag parsing, config
// load, and a graceful-shutdown run loop, generalized from the teacher's
// single-provider CLI-login modes to this gateway's config-driven
// provider/credential registry (OAuth login is a server endpoint here,
// not a CLI flag -- see cmd/gatewayctl for the interactive helper).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/credential"
	"github.com/router-for-me/llmgateway/internal/dispatch"
	"github.com/router-for-me/llmgateway/internal/eventlog"
	"github.com/router-for-me/llmgateway/internal/httpapi"
	"github.com/router-for-me/llmgateway/internal/logging"
	"github.com/router-for-me/llmgateway/internal/oauthflow"
	"github.com/router-for-me/llmgateway/internal/store"
	_ "github.com/router-for-me/llmgateway/internal/translatorall"
	"github.com/router-for-me/llmgateway/internal/usage"
)

var (
	version = "dev"
	commit  = "none"
)

const (
	usageQueueDepth   = 256
	eventLogQueueDepth = 512
)

func main() {
	var (
		host       string
		port       int
		adminKey   string
		dsn        string
		proxyURL   string
		logFile    bool
		configPath string
	)

	flag.StringVar(&host, "host", "", "bind host (overrides config/env)")
	flag.IntVar(&port, "port", 0, "bind port (overrides config/env)")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key (overrides config/env)")
	flag.StringVar(&dsn, "dsn", "", "bbolt data store path (overrides config/env)")
	flag.StringVar(&proxyURL, "proxy", "", "egress proxy URL (overrides config/env)")
	flag.BoolVar(&logFile, "log-file", true, "write logs to a rotating file instead of stdout")
	flag.StringVar(&configPath, "config", "config.yaml", "configuration file path")
	flag.Parse()

	logging.SetupBaseLogger()
	if err := logging.ConfigureLogOutput(logFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	log.Infof("gatewayd version=%s commit=%s", version, commit)

	cli := config.CLIOverrides{Host: host, Port: port, AdminKey: adminKey, DSN: dsn, Proxy: proxyURL}
	env := config.LoadEnvOverrides()

	// The DSN chooses the bbolt file backing the default embedded usage
	// and event-log stores (configuration itself is a separate YAML file,
	// per SPEC_FULL §A.3); only the "bbolt://", "sqlite://" and plain-path
	// forms are understood directly -- a relational DSN from an external storage
	// adapter would be handled by a different implementation, per spec §1.
	dsnPath := resolveDSNPath(firstNonEmpty(cli.DSN, env.DSN, "./data/gateway.db"))
	if dir := parentDir(dsnPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create data directory: %v", err)
		}
	}

	boltStore, err := store.Open(dsnPath)
	if err != nil {
		log.Fatalf("failed to open data store: %v", err)
	}
	defer boltStore.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fileStore := config.NewFileStore(configPath)
	cfg, err := config.Merge(ctx, fileStore, env, cli)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	snapStore := config.NewStore(cfg)

	watcher, err := config.NewWatcher(snapStore, fileStore, fileStore.Path())
	if err != nil {
		log.Warnf("config file watcher unavailable: %v", err)
	} else {
		go watcher.Run(ctx)
	}

	registry := credential.NewRegistry()
	selector := credential.NewSelector()

	httpClient, streamClient, err := dispatch.NewUpstreamClient(cfg.Global.Proxy, cfg.Global.UpstreamTimeoutOrDefault())
	if err != nil {
		log.Fatalf("failed to build upstream client: %v", err)
	}
	engine := dispatch.NewEngine(registry, selector, httpClient, streamClient)
	engine.PersistToken = func(pctx context.Context, credentialID int64, accessToken, refreshToken string, expiry time.Time) {
		snap := snapStore.Current()
		cred, ok := snap.Credential(credentialID)
		if !ok {
			return
		}
		updated, err := cred.WithRefreshedToken(accessToken, refreshToken, expiry)
		if err != nil {
			log.WithError(err).Warn("failed to apply refreshed oauth token to credential")
			return
		}
		next := *snap.Config()
		next.Credentials = append([]config.Credential(nil), next.Credentials...)
		next.ReplaceCredential(updated)
		if err := fileStore.Save(pctx, &next); err != nil {
			log.WithError(err).Warn("failed to persist refreshed oauth token")
			return
		}
		snapStore.Swap(&next)
	}

	usageManager := usage.NewManager(boltStore, usageQueueDepth)
	usageManager.Start(ctx)
	defer usageManager.Stop()

	redact := func() bool { return snapStore.Current().Global().EventRedactSensitive }
	eventSink := eventlog.NewSink(boltStore, eventLogQueueDepth, redact)
	eventSink.Start(ctx)
	defer eventSink.Stop()

	oauthMachine := oauthflow.NewMachine()

	deps := httpapi.Deps{
		Snapshots:  snapStore,
		Persisted:  fileStore,
		Engine:     engine,
		Registry:   registry,
		EventSink:  eventSink,
		LogStore:   boltStore,
		UsageWrite: usageManager,
		UsageRead:  boltStore,
		OAuth:      oauthMachine,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Global.Host, cfg.Global.Port)
	srv := httpapi.NewServer(deps, addr)
	srv.Start()
	log.Infof("gatewayd listening on %s", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received, draining in-flight requests")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warnf("graceful shutdown did not complete cleanly: %v", err)
	}
	cancel()
	log.Info("gatewayd stopped")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveDSNPath strips a "bbolt://" or "sqlite://" scheme if present (the
// remainder is opened as a bbolt file path); any other scheme
// (e.g. a relational "postgres://" DSN meant for an external storage
// adapter) is passed through unchanged since this binary only knows how
// to open a bbolt file -- wiring a different PersistedStore is a
// deployment-time choice outside this core (spec §1).
func resolveDSNPath(dsn string) string {
	const scheme = "bbolt://"
	if len(dsn) > len(scheme) && dsn[:len(scheme)] == scheme {
		return dsn[len(scheme):]
	}
	if len(dsn) > len("sqlite://") && dsn[:len("sqlite://")] == "sqlite://" {
		return dsn[len("sqlite://"):]
	}
	return dsn
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
