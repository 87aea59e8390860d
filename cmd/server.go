/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/satsqueue/satsqueue/api"
	"github.com/satsqueue/satsqueue/config"
	trace "github.com/satsqueue/satsqueue/internal/traces"
)

const shutdownTimeout = 10 * time.Second

// tlsServer builds an HTTPS server whose certificates are managed by CertMagic. With
// no domain configured the server falls back to localhost.
func tlsServer(ctx context.Context, r http.Handler, conf config.ServerConfig) (*http.Server, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: filepath.Join(".", "certmagic")}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(ctx, domains); err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}, nil
}

func initializeRouter(s *satsqueueInstance) *gin.Engine {
	return api.NewAPI(s.satsqueue).Router()
}

func initializeTracing(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := trace.SetupOTelSDK(ctx, "SATSQUEUE")
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// startServer serves until ctx is cancelled, then drains in-flight requests.
func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	if cfg.SSL {
		var err error
		server, err = tlsServer(ctx, router, cfg)
		if err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.SSL {
			log.Printf("Starting HTTPS server on %s\n", cfg.Port)
			err = server.ListenAndServeTLS("", "")
		} else {
			log.Printf("Starting server on http://localhost:%s", cfg.Port)
			err = server.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// serverCommands returns the command that starts the HTTP API.
func serverCommands(s *satsqueueInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start satsqueue server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			shutdown, err := initializeTracing(ctx, cfg)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			router := initializeRouter(s)
			defer s.satsqueue.Close()
			defer func() { _ = s.queue.Close() }()

			if err := startServer(ctx, router, cfg.Server); err != nil {
				logrus.WithError(err).Error("server stopped")
			}
		},
	}

	return cmd
}
