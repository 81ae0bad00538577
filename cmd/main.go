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
	"fmt"
	"log"
	"os"

	"github.com/maintflow/maintflow"
	"github.com/maintflow/maintflow/config"
	"github.com/maintflow/maintflow/database"
	"github.com/maintflow/maintflow/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Maintflow represents the CLI application, encapsulating the root Cobra command.
type Maintflow struct {
	cmd *cobra.Command
}

// maintflowInstance holds the service and its configuration for the commands.
type maintflowInstance struct {
	maintflow *maintflow.Maintflow
	cnf       *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the service before any command runs.
func preRun(app *maintflowInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		m, err := setupMaintflow(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.maintflow = m
		app.cnf = cnf
		return nil
	}
}

func setupMaintflow(cfg *config.Configuration) (*maintflow.Maintflow, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	m, err := maintflow.NewMaintflow(db)
	if err != nil {
		return nil, fmt.Errorf("error creating maintflow: %v", err)
	}
	return m, nil
}

// NewCLI creates the root command and wires the subcommands.
func NewCLI() *Maintflow {
	configFile := "./maintflow.json"
	m := &maintflowInstance{}

	var rootCmd = &cobra.Command{
		Use:   "maintflow",
		Short: "Approval workflow engine for maintenance management",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", configFile, "Configuration file for maintflow")
	rootCmd.PersistentPreRunE = preRun(m, &configFile)

	rootCmd.AddCommand(serverCommands(m))
	rootCmd.AddCommand(workerCommands(m))
	rootCmd.AddCommand(migrateCommands(m))
	rootCmd.AddCommand(configCommands())

	return &Maintflow{cmd: rootCmd}
}

func (w Maintflow) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
