// Copyright 2026 Blink Labs Software
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
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ibc "github.com/blinklabs-io/goibc"
	"github.com/blinklabs-io/goibc/address"
	"github.com/blinklabs-io/goibc/bridge"
	"github.com/blinklabs-io/goibc/metrics"
	"github.com/blinklabs-io/goibc/netstack"
	"github.com/blinklabs-io/goibc/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type globalFlags struct {
	flagset    *flag.FlagSet
	configFile string
}

func newGlobalFlags() *globalFlags {
	f := &globalFlags{
		flagset: flag.NewFlagSet(os.Args[0], flag.ExitOnError),
	}
	f.flagset.StringVar(
		&f.configFile,
		"config",
		"",
		"path to TOML config file",
	)
	return f
}

func main() {
	f := newGlobalFlags()
	err := f.flagset.Parse(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to parse command args: %s\n", err)
		os.Exit(1)
	}
	cfg, err := LoadConfig(f.configFile)
	if err != nil {
		fmt.Printf("failed to load config: %s\n", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("handler exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewHandlerMetrics(reg)
	if err != nil {
		return err
	}
	s, err := store.OpenBadger(cfg.DataDir, logger.With("component", "store"))
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.RelayerAddress)
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("dial relayer %s: %w", cfg.RelayerAddress, err)
	}
	logger.Info("connected to relayer", "address", cfg.RelayerAddress)
	sb := bridge.NewStreamBridge(conn, logger.With("component", "bridge"))

	router := netstack.NewRouter(logger.With("component", "router"))
	h, err := ibc.NewHandler(
		ibc.WithLogger(logger),
		ibc.WithBridge(sb),
		ibc.WithInbounder(router),
		ibc.WithStore(s),
		ibc.WithMetrics(m),
		ibc.WithDefaultTimeout(cfg.DefaultTimeout),
	)
	if err != nil {
		sb.Stop()
		_ = s.Close()
		return err
	}
	router.Use(h)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sb.Serve(ctx, h.HandleUpcall); err != nil {
			return err
		}
		if ctx.Err() == nil {
			return bridge.ErrStreamClosed
		}
		return nil
	})
	g.Go(func() error {
		err := metricsServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	})
	g.Go(func() error {
		return bindEchoPorts(ctx, router, cfg.EchoPorts, logger)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	closeErr := h.Close()
	sb.Stop()
	if err != nil {
		return err
	}
	return closeErr
}

func bindEchoPorts(
	ctx context.Context,
	router *netstack.Router,
	portIDs []string,
	logger *slog.Logger,
) error {
	for _, portID := range portIDs {
		p, err := router.Bind(ctx, address.PortAddress(portID))
		if err != nil {
			return fmt.Errorf("bind echo port %s: %w", portID, err)
		}
		if err := p.Listen(ctx, netstack.EchoListener{}); err != nil {
			return fmt.Errorf("listen on echo port %s: %w", portID, err)
		}
		logger.Info("echo port listening", "port_id", portID)
	}
	return nil
}
