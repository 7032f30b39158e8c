package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"farmer-auth/internal/config"
	"farmer-auth/internal/factory"
	"farmer-auth/internal/handler"
	"farmer-auth/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// Loads config and initializes all clients
	f, err := factory.NewFactory(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()

	cfg := f.Config()
	router := setupRouter(f)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	var sweeperDone sync.WaitGroup
	sweeperDone.Add(1)
	go func() {
		defer sweeperDone.Done()
		sf := f.ServiceFactory()
		sf.Sweeper().Run(sweepCtx, sf.SweepInterval())
	}()

	var servers []*http.Server
	errCh := make(chan error, 2)

	if cfg.Server.EnableTLS {
		servers = startTLSServers(f, cfg, router, errCh)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		server := newServer(cfg, cfg.GetServerAddress(), router)
		serve(server, errCh, func() error { return server.ListenAndServe() })
		servers = append(servers, server)
	}

	select {
	case <-ctx.Done():
		util.Info("Received shutdown signal")
	case err := <-errCh:
		util.Error("Server failed", util.ErrorField(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			util.Error("Failed to shutdown server gracefully",
				util.String("address", srv.Addr),
				util.ErrorField(err))
		}
	}
	util.Info("HTTP servers stopped")

	stopSweeper()
	sweeperDone.Wait()

	if err := f.Close(shutdownCtx); err != nil {
		util.Error("Factory shutdown reported errors", util.ErrorField(err))
	}
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	authHandler := handler.NewAuthHandler(f.ServiceFactory().AuthCore(), f.Logger().Named("http"))
	return handler.NewRouter(authHandler, handler.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequireHTTPS:   cfg.Server.EnableTLS,
		RequestTimeout: cfg.Server.WriteTimeout,
	}, f.Logger())
}

func newServer(cfg *config.Config, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func serve(server *http.Server, errCh chan<- error, listen func() error) {
	go func() {
		util.Info("Server listening", util.String("address", server.Addr))
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s: %w", server.Addr, err)
		}
	}()
}

// startTLSServers serves the API over TLS. With AutoCert the plain port
// answers ACME challenges and redirects everything else to HTTPS.
func startTLSServers(f *factory.Factory, cfg *config.Config, router http.Handler, errCh chan<- error) []*http.Server {
	tlsManager := f.TLSManager()

	httpsServer := newServer(cfg, fmt.Sprintf(":%d", cfg.Server.TLSPort), router)
	httpsServer.TLSConfig = tlsManager.GetTLSConfig()
	serve(httpsServer, errCh, func() error { return httpsServer.ListenAndServeTLS("", "") })

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)

	servers := []*http.Server{httpsServer}

	if acm := tlsManager.GetAutocertManager(); acm != nil {
		challengeServer := &http.Server{
			Addr:              cfg.GetServerAddress(),
			Handler:           acm.HTTPHandler(nil),
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		}
		serve(challengeServer, errCh, func() error { return challengeServer.ListenAndServe() })
		servers = append(servers, challengeServer)
	}

	return servers
}
