/*
Copyright 2024 Blnk Finance Authors.

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
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/maintflow/maintflow"
	"github.com/maintflow/maintflow/api"
	"github.com/maintflow/maintflow/config"
	trace "github.com/maintflow/maintflow/internal/traces"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// tlsConfig obtains certificates through CertMagic. If no domain is
// configured the certificate is issued for localhost.
func tlsConfig(ctx context.Context, conf config.ServerConfig) (*tls.Config, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "./.certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(ctx, domains); err != nil {
		return nil, err
	}
	return cfg.TLSConfig(), nil
}

func initializeRouter(m *maintflowInstance) *gin.Engine {
	return api.NewAPI(m.maintflow).Router()
}

func initializeTracing(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// initializeObservability sets up tracing when telemetry is enabled. The
// returned shutdown is always safe to call.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	return initializeTracing(ctx, cfg.ProjectName)
}

// startServer serves router until ctx is cancelled, then drains in-flight
// requests.
func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	if cfg.SSL {
		tlsCfg, err := tlsConfig(ctx, cfg)
		if err != nil {
			return err
		}
		server.TLSConfig = tlsCfg
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
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

/*
serverCommands returns the start command. With --dispatcher the outbox
dispatcher runs inside the API process instead of a separate worker.
*/
func serverCommands(m *maintflowInstance) *cobra.Command {
	var withDispatcher bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "start maintflow server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			router := initializeRouter(m)

			shutdown, err := initializeObservability(ctx, m.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			if withDispatcher {
				dispatcher := maintflow.NewOutboxDispatcher(m.maintflow, m.cnf.Approval)
				dispatcher.Start(ctx)
				startOutboxListener(ctx, m.cnf.DataSource.Dns, dispatcher)
				defer dispatcher.Stop()
			}

			if err := startServer(ctx, router, m.cnf.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	cmd.Flags().BoolVar(&withDispatcher, "dispatcher", false, "also run the approval outbox dispatcher")
	return cmd
}
