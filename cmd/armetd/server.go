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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.aporeto.io/armet"
	"go.aporeto.io/armet/authorizer/simple"
	"go.aporeto.io/armet/connectors/fiberhttp"
	"go.aporeto.io/armet/example/polls"
	"go.aporeto.io/armet/store"
	"go.aporeto.io/armet/store/memstore"
	"go.aporeto.io/armet/store/objstore"
	"go.aporeto.io/armet/store/sqlstore"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// openStore opens the configured model connector. The returned
// function releases it.
func openStore(ctx context.Context, cfg Config) (store.Store, func(), error) {

	noop := func() {}

	switch cfg.Store {

	case storeMemory:
		return memstore.New(), noop, nil

	case storeSQLite:

		db, err := sqlstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}

		s := sqlstore.New(db, sqlstore.SQLite, polls.Tables()...)
		if err := s.CreateTables(ctx); err != nil {
			db.Close() // nolint: errcheck
			return nil, nil, err
		}

		return s, func() { db.Close() }, nil // nolint: errcheck

	case storePostgres:

		db, err := sqlstore.OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}

		return sqlstore.New(db, sqlstore.Postgres, polls.Tables()...), func() { db.Close() }, nil // nolint: errcheck

	case storeMinIO:

		s, err := objstore.New(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, nil, err
		}

		return s, noop, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store '%s'", cfg.Store)
	}
}

// newPubSub returns the pubsub client carrying the change events.
func newPubSub(cfg Config) armet.PubSubClient {

	if cfg.NATSURL != "" {
		return armet.NewNATSPubSubClient(cfg.NATSURL, armet.NATSOptClientID("armetd"))
	}

	return armet.NewLocalPubSubClient()
}

// apiOptions returns the options shared by the api and the server.
func apiOptions(cfg Config, ps armet.PubSubClient) []armet.Option {

	opts := []armet.Option{
		armet.OptAPIName("armetd"),
		armet.OptMaxBodySize(cfg.MaxBodySize),
		armet.OptPushPublisher(ps, cfg.Topic),
		armet.OptServiceInfo("armetd", version, nil),
	}

	if cfg.Prefix != "" {
		opts = append(opts, armet.OptPrefix(cfg.Prefix))
	}

	if cfg.Debug {
		opts = append(opts, armet.OptDebug())
	}

	if cfg.ReadOnly {
		opts = append(opts, armet.OptAuthorizers(simple.NewReadOnlyAuthorizer()))
	}

	return opts
}

// newAPI returns the api serving the polls resources on the given store.
func newAPI(cfg Config, s store.Store, ps armet.PubSubClient) (*armet.API, error) {

	api := armet.NewAPI(apiOptions(cfg, ps)...)

	if err := polls.Register(api, s); err != nil {
		return nil, err
	}

	return api, nil
}

// serverOptions returns the options of the net/http server.
func serverOptions(cfg Config, ps armet.PubSubClient) []armet.Option {

	opts := append(
		apiOptions(cfg, ps),
		armet.OptRestServer(cfg.Listen),
		armet.OptPushServer(ps, cfg.Topic),
		armet.OptShutdownTimeout(shutdownTimeout),
	)

	if cfg.HealthListen != "" {
		opts = append(opts,
			armet.OptHealthServer(cfg.HealthListen, armet.NewProcessHealthCheck(90, 0)),
			armet.OptHealthServerMetricsManager(armet.NewPrometheusMetricsManager()),
		)
	}

	if cfg.CORSOrigin != "" {
		opts = append(opts, armet.OptCORSAccessControl(armet.NewDefaultCORSController(cfg.CORSOrigin, nil)))
	}

	if cfg.RateLimit > 0 {
		opts = append(opts, armet.OptRateLimiting(armet.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)))
	}

	return opts
}

// newFiberApp returns a fiber app serving the given api.
func newFiberApp(cfg Config, api *armet.API) *fiber.App {

	app := fiber.New(fiber.Config{
		AppName:               "armetd",
		BodyLimit:             int(cfg.MaxBodySize),
		DisableStartupMessage: true,
	})

	fiberhttp.Mount(app, api)

	return app
}

// run serves the api until the given context is done.
func run(ctx context.Context, cfg Config) error {

	s, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("unable to open store: %w", err)
	}
	defer closeStore()

	ps := newPubSub(cfg)

	api, err := newAPI(cfg, s, ps)
	if err != nil {
		return err
	}

	zap.L().Info("Serving api",
		zap.String("connector", cfg.Connector),
		zap.String("store", cfg.Store),
		zap.String("listen", cfg.Listen),
	)

	if cfg.Connector == connectorHTTP {
		return armet.NewServer(api, serverOptions(cfg, ps)...).Run(ctx)
	}

	if cfg.HealthListen != "" || cfg.RateLimit > 0 || cfg.CORSOrigin != "" {
		zap.L().Warn("Health server, rate limiting and CORS are only supported by the http connector")
	}

	return runFiber(ctx, newFiberApp(cfg, api), ps, cfg.Listen)
}

func runFiber(ctx context.Context, app *fiber.App, ps armet.PubSubClient, listen string) error {

	if err := ps.Connect(ctx); err != nil {
		return fmt.Errorf("unable to connect pubsub client: %w", err)
	}

	defer func() {
		if err := ps.Disconnect(); err != nil {
			zap.L().Error("Unable to disconnect pubsub client", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- app.Listen(listen) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("unable to serve api: %w", err)
	case <-ctx.Done():
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("unable to stop api: %w", err)
	}

	zap.L().Info("API server stopped")

	return nil
}
