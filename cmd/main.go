// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/api"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/config"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/logger"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/metrics"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/pauseledger"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence/sqlitestore"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/workorder"
)

func main() {
	// Initialize the global logger first thing
	logger.Initialize()

	log := logger.For(logger.ComponentCore)
	log.Info("Starting shopfloor-core...")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Errorf("Failed to load config: %s", err)
		os.Exit(1)
	}

	var store persistence.Store
	switch cfg.Store.Backend {
	case config.BackendMemory:
		store = memory.NewInMemoryStore()
	case config.BackendSQLite:
		store, err = sqlitestore.NewStore(cfg.Store.DBPath)
		if err != nil {
			log.Errorf("Failed to open store at %s: %s", cfg.Store.DBPath, err)
			os.Exit(1)
		}
	}
	log.Infof("Store initialized (backend %s)", cfg.Store.Backend)

	ledger := pauseledger.NewLedger(nil)
	service := workorder.NewService(store, ledger, nil)

	// Metrics server
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Metrics.Port))

	// Liveness catches goroutine leaks, readiness gates traffic on the
	// store being reachable.
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(200))
	health.AddReadinessCheck("store", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return store.Ping(ctx)
	})
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.HealthPort),
		Handler:           health,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Healthcheck server failed: %s", err)
		}
	}()
	log.Infof("Healthcheck initialized on :%d", cfg.API.HealthPort)

	apiServer := api.SetupRestAPI(service, store, config.LoadAuthAccounts(), cfg.API.Port)
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("REST API server failed: %s", err)
			os.Exit(1)
		}
	}()
	log.Infof("REST API listening on :%d", cfg.API.Port)

	// Allow graceful shutdown. Kubernetes sends SIGTERM 30 seconds before
	// shutting down the pod.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigs
	log.Infof("Received %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to shutdown REST API server: %s", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to shutdown healthcheck server: %s", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to shutdown metrics server: %s", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Errorf("Failed to close store: %s", err)
	}

	_ = logger.Sync()
	log.Info("Successful shutdown. Exiting.")
}
