// Package httpserver runs an http.Server with signal-driven graceful
// shutdown, the same run contract every serving command in this repo uses.
package httpserver

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// Config carries the tunables for one server run.
type Config struct {
	ListenAddr          string
	Handler             http.Handler
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	OnStarting func()
	OnStopping func()
}

// Run blocks serving HTTP until SIGINT/SIGTERM/SIGQUIT, then drains in-flight
// requests for up to ShutdownGracePeriod.
func Run(conf Config) {
	if conf.ReadTimeout == 0 {
		conf.ReadTimeout = 5 * time.Second
	}
	if conf.WriteTimeout == 0 {
		conf.WriteTimeout = 35 * time.Second
	}
	if conf.IdleTimeout == 0 {
		conf.IdleTimeout = 2 * time.Minute
	}
	if conf.ShutdownGracePeriod == 0 {
		conf.ShutdownGracePeriod = 10 * time.Second
	}

	srv := &http.Server{
		Addr:         conf.ListenAddr,
		Handler:      conf.Handler,
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
		IdleTimeout:  conf.IdleTimeout,
	}

	if conf.OnStarting != nil {
		conf.OnStarting()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-signalChan:
		log.Infof("Received signal %q, shutting down...", sig)
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Graceful shutdown failed: %v", err)
	}

	if conf.OnStopping != nil {
		conf.OnStopping()
	}
}
