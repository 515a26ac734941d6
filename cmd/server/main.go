// Command server runs the shared-credential broker: the Credential
// Store, Session Registry, Notification Hub, and Access Coordinator
// behind the External Interface Layer and Admin Surface of spec.md.
//
// Wiring follows cmd/server/main.go in the teacher repo: flags parsed
// up front, singletons constructed in dependency order, a listener
// built through internal/listener for slowloris protection, and a
// signal-driven graceful shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiki-broker/cookiebroker/internal/access"
	"github.com/hibiki-broker/cookiebroker/internal/admin"
	"github.com/hibiki-broker/cookiebroker/internal/adminkey"
	"github.com/hibiki-broker/cookiebroker/internal/config"
	"github.com/hibiki-broker/cookiebroker/internal/cookie"
	"github.com/hibiki-broker/cookiebroker/internal/debug"
	"github.com/hibiki-broker/cookiebroker/internal/hub"
	"github.com/hibiki-broker/cookiebroker/internal/httpapi"
	"github.com/hibiki-broker/cookiebroker/internal/listener"
	"github.com/hibiki-broker/cookiebroker/internal/middleware"
	"github.com/hibiki-broker/cookiebroker/internal/session"
)

func main() {
	cfg := config.Parse()
	if cfg.Debug {
		os.Setenv("BROKER_DEBUG", "1")
	}

	settings, err := config.NewSettingsStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to load server config: %v", err)
	}

	key, err := adminkey.Load(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to load admin key: %v", err)
	}

	store := cookie.NewStore(cfg.DataDir)
	if err := store.Load(); err != nil {
		log.Fatalf("failed to load persisted cookies: %v", err)
	}

	sessions := session.NewRegistry()
	sessions.StartReaper(session.DefaultReapGrace)
	h := hub.NewHub()

	current := settings.Current()
	coordinator := access.NewCoordinator(access.Config{
		MaxConcurrentClients: current.MaxConcurrentClients,
		MaxInactiveMinutes:   current.MaxInactiveMinutes,
	}, store, h)
	coordinator.SetPersistFunc(settings.SetMaxConcurrentClients)
	coordinator.Start()

	// Persistence is the one reaction every mutation needs
	// unconditionally (spec.md §4.A: "persist is called on every
	// mutation"). Broadcasting is NOT done here: internal/admin's
	// handlers emit the notification themselves, since smart-import
	// needs to pick a different message type — or suppress the
	// broadcast outright — depending on the import strategy, which a
	// generic change handler can't see.
	store.SetChangeHandler(func(ev cookie.ChangeEvent) {
		if err := store.Persist(); err != nil {
			debug.Warn("store", "persist failed: %v", err)
		}
	})

	// On disconnect (remote close, write failure, or lossless
	// overflow) release whatever access the session held and clear
	// its attached flag — spec.md §4.F's push-channel contract.
	h.SetOnDisconnect(func(sessionID string) {
		coordinator.ReleaseAccess(sessionID, "disconnected")
		sessions.DetachChannel(sessionID)
	})

	publicAPI := httpapi.NewServer(store, coordinator, sessions, h, settings, key)
	adminAPI := admin.NewServer(store, coordinator, sessions, h, settings, key, time.Now())

	root := http.NewServeMux()
	root.Handle("/", publicAPI.Routes())
	// Registered directly on root, not inside publicAPI.Routes()'s own
	// tree: "GET /admin/key" is a more specific pattern than "/admin/"
	// below, so it takes precedence for that one path even though the
	// rest of /admin/ is AdminAuth-gated.
	root.HandleFunc("GET /admin/key", publicAPI.AdminKeyBootstrap)
	root.Handle("/admin/", http.StripPrefix("/admin", adminAPI.Routes()))

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimit, middleware.DefaultBurst)
	handler := middleware.RequestTracing(middleware.BodySizeLimit(middleware.MaxBodySize)(limiter.Middleware(root)))

	ln, err := listener.ListenTCP("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("failed to bind %s: %v", cfg.ListenAddr, err)
	}
	ln = listener.NewConnLimiter(ln, listener.ConnLimiterConfig{})

	srv := &http.Server{Handler: handler}

	go func() {
		log.Printf("broker listening on %s (data dir %s)", cfg.ListenAddr, cfg.DataDir)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	// Cooperative shutdown per spec.md §5: stop accepting new
	// connections and drain in-flight requests, then revoke active
	// sessions and persist. srv.Shutdown does not wait for hijacked
	// WebSocket connections, so the revocations still reach workers.
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)

	h.Shutdown("shutting_down", 5*time.Second)
	coordinator.Stop()
	sessions.StopReaper()
	if err := store.Persist(); err != nil {
		log.Printf("final persist failed: %v", err)
	}

	if shutdownErr != nil {
		log.Printf("server forced to shutdown: %v", shutdownErr)
		os.Exit(1)
	}
	log.Println("broker stopped")
}
