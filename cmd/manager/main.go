/*
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
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	"github.com/4sarathbabu/blazar/pkg/config"
	"github.com/4sarathbabu/blazar/pkg/enforcement"
	"github.com/4sarathbabu/blazar/pkg/enforcement/maxduration"
	"github.com/4sarathbabu/blazar/pkg/events"
	"github.com/4sarathbabu/blazar/pkg/lease"
	"github.com/4sarathbabu/blazar/pkg/logging"
	"github.com/4sarathbabu/blazar/pkg/monitor"
	"github.com/4sarathbabu/blazar/pkg/notify"
	"github.com/4sarathbabu/blazar/pkg/plugin"
	"github.com/4sarathbabu/blazar/pkg/plugin/dummy"
	"github.com/4sarathbabu/blazar/pkg/repository/memstore"
)

// factories is the fixed, compiled-in set of plugin names manager.plugins
// may reference (spec §9: no reflection on class attributes).
var factories = map[string]plugin.Factory{
	"dummy.vm.plugin": func() plugin.Plugin { return dummy.New() },
}

func main() {
	opts := config.Options{}
	opts.AddFlags(flag.CommandLine)
	flag.Parse()

	if err := opts.Validate(); err != nil {
		panic(fmt.Sprintf("invalid manager configuration: %s", err.Error()))
	}

	logger := logging.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	pluginGroups, err := opts.PluginGroups()
	if err != nil {
		logger.Fatalw("could not load plugin configuration", "error", err)
	}
	registry, err := plugin.NewRegistry(ctx, opts.Plugins, factories, pluginGroups)
	if err != nil {
		logger.Fatalw("could not build plugin registry", "error", err)
	}
	logger.Infow("plugin registry ready", "resource_types", registry.ResourceTypes())

	pipeline := enforcement.New(logger, maxduration.Filter{})

	repo := memstore.New()
	notifier := notify.NewLoggingNotifier(logger)
	clk := clock.RealClock{}

	svc := lease.NewService(repo, registry, pipeline, notifier, clk, lease.Options{
		MinutesBeforeEndLease: opts.MinutesBeforeEndLease,
		EventMaxRetries:       opts.EventMaxRetries,
	}, logger)

	engine := events.NewEngine(repo, svc, notifier, clk, events.Options{
		TickInterval: opts.EventInterval,
		MaxRetries:   opts.EventMaxRetries,
	}, logger)

	mon := monitor.New(repo, registry, notifier, clk, monitor.Options{
		PollInterval: opts.MonitorPollInterval,
	}, logger)

	go engine.Run(ctx)
	go mon.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: fmt.Sprintf(":%d", opts.MetricsPort), Handler: mux}
	go func() {
		logger.Infow("serving metrics", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("metrics server exited", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
