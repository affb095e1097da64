// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command armetd serves the polls example resources over a configurable
// http connector and model connector.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.aporeto.io/armet"
	"go.aporeto.io/armet/store/memstore"
	"go.uber.org/zap"
)

var version = "dev"

func main() {

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {

	flags := &flagValues{}

	cmd := &cobra.Command{
		Use:           "armetd",
		Short:         "armetd serves RESTful resources",
		Version:       version,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {

			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer logger.Sync() // nolint: errcheck

			zap.ReplaceGlobals(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	flags.install(cmd)

	cmd.AddCommand(newRoutesCmd())

	return cmd
}

func newRoutesCmd() *cobra.Command {

	flags := &flagValues{}

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the routes served by armetd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {

			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}

			api, err := newAPI(cfg, memstore.New(), armet.NewLocalPubSubClient())
			if err != nil {
				return err
			}

			return printRoutes(cmd.OutOrStdout(), api)
		},
	}

	flags.install(cmd)

	return cmd
}

func printRoutes(w io.Writer, api *armet.API) error {

	for _, r := range api.Routes() {
		if _, err := fmt.Fprintln(w, r.String()); err != nil {
			return err
		}
	}

	return nil
}

