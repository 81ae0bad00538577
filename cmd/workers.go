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
	"log"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/maintflow/maintflow"
	"github.com/maintflow/maintflow/database"
	pg_listener "github.com/maintflow/maintflow/internal/pg-listener"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// workerCommands defines the "workers" command. It runs the approval outbox
// dispatcher until the process is interrupted.
func workerCommands(m *maintflowInstance) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start maintflow workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeObservability(ctx, m.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			dispatcher := maintflow.NewOutboxDispatcher(m.maintflow, m.cnf.Approval)
			if once {
				n := dispatcher.ProcessBatch(ctx)
				logrus.WithField("processed", n).Info("approval outbox drained once")
				return
			}

			dispatcher.Start(ctx)
			startOutboxListener(ctx, m.cnf.DataSource.Dns, dispatcher)
			<-ctx.Done()
			dispatcher.Stop()
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "process a single batch and exit")
	return cmd
}

// startOutboxListener wakes the dispatcher when a row becomes due. Polling keeps
// working if the listener cannot connect.
func startOutboxListener(ctx context.Context, dns string, dispatcher *maintflow.OutboxDispatcher) {
	listener := pg_listener.NewDBListener(pg_listener.ListenerConfig{
		PgConnStr: dns,
		Channel:   database.OutboxNotifyChannel,
	}, dispatcher)
	go func() {
		if err := listener.Start(ctx); err != nil {
			logrus.WithError(err).Warn("outbox listener stopped, dispatcher continues polling")
		}
	}()
}
