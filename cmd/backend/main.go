package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletsync/pkg/api"
	"walletsync/pkg/config"
	"walletsync/pkg/db"
	"walletsync/pkg/store"
	"walletsync/pkg/telemetry"
	"walletsync/pkg/version"
)

func main() {
	defaults := config.Defaults()
	addr := flag.String("addr", ":5000", "listen address")
	storeType := flag.String("store", "memory", "store backend: memory|sqlite|mysql|consul (consul requires build tag consul)")
	sqlitePath := flag.String("sqlite-path", "walletsync.db", "sqlite database file (when store=sqlite)")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address (when store=consul)")
	secret := flag.String("secret", envOr(config.EnvSecretKey, defaults.SecretKey), "JWT signing secret shared with clients")
	event := flag.String("event", envOr(config.EnvSocketEvent, defaults.SocketEvent), "socket event name for modal pushes")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	clientCA := flag.String("client-ca", "", "require and verify client certs using this CA (optional)")
	sentryDSN := flag.String("sentry-dsn", os.Getenv(config.EnvSentryDSN), "Sentry DSN (optional)")
	flag.Parse()

	log.Printf("%s starting", version.String("walletsync-backend"))
	if err := telemetry.Init(*sentryDSN, version.Build); err != nil {
		log.Printf("sentry init failed: %v", err)
	}
	defer telemetry.Flush()
	defer telemetry.RecoverPanic()

	st, closeStore, err := openStore(*storeType, *sqlitePath, *consulAddr)
	if err != nil {
		log.Fatalf("open %s store: %v", *storeType, err)
	}
	defer closeStore()

	server := api.NewServer(st, *secret, *event)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		server.Hub().Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("backend listening on %s store=%s event=%s", *addr, *storeType, *event)
	if *tlsCert != "" && *tlsKey != "" {
		cfg, errTLS := api.ServerTLSConfig(*tlsCert, *tlsKey, *clientCA)
		if errTLS != nil {
			log.Fatalf("failed to build TLS config: %v", errTLS)
		}
		srv.TLSConfig = cfg
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("backend stopped")
}

func openStore(kind, sqlitePath, consulAddr string) (store.Store, func(), error) {
	noop := func() {}
	switch kind {
	case "memory":
		return store.NewMemoryStore(), noop, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(sqlitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case "mysql":
		gdb, err := db.Init()
		if err != nil {
			return nil, noop, err
		}
		s, err := store.NewGormStore(gdb)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "consul":
		return store.NewConsulStore(consulAddr), noop, nil
	default:
		return nil, noop, errors.New("unsupported store type: " + kind)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
