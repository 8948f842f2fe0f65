// Package serve is a subcommand of the root command. It exports resolved property values as
// Prometheus metrics.
package serve

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"powerconf/internal/app"
	"powerconf/internal/common"
	"powerconf/internal/props"
)

const cmdName = "serve"

var examples = []string{
	fmt.Sprintf("  Export all properties of local host:     $ %s %s", app.Name, cmdName),
	fmt.Sprintf("  Export uncore properties every 10s:      $ %s %s --classes uncore --interval 10s", app.Name, cmdName),
	fmt.Sprintf("  Export properties of remote targets:     $ %s %s --listen :9200 --targets targets.yaml", app.Name, cmdName),
}

var Cmd = &cobra.Command{
	Use:   cmdName,
	Short: "Export property values as Prometheus metrics",
	Long: `Reads the numeric properties of target(s) periodically and serves them as Prometheus gauges at
/metrics. Boolean properties are exported as 0 and 1. Runs until interrupted.`,
	Example:       strings.Join(examples, "\n"),
	PreRunE:       validateFlags,
	RunE:          runCmd,
	GroupID:       "other",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var (
	flagListen   string
	flagInterval time.Duration
	flagClasses  []string
)

const (
	flagListenName   = "listen"
	flagIntervalName = "interval"
	flagClassesName  = "classes"
)

var serveFlags = []app.Flag{
	{Name: flagListenName, Help: "address to serve metrics on"},
	{Name: flagIntervalName, Help: "time between property reads"},
	{Name: flagClassesName, Help: "property classes to export: " + strings.Join(props.Classes, ", ")},
}

func init() {
	Cmd.Flags().StringVar(&flagListen, flagListenName, ":9101", serveFlags[0].Help)
	Cmd.Flags().DurationVar(&flagInterval, flagIntervalName, 30*time.Second, serveFlags[1].Help)
	Cmd.Flags().StringSliceVar(&flagClasses, flagClassesName, props.Classes, serveFlags[2].Help)
	common.AddTargetFlags(Cmd)
	Cmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		return []app.FlagGroup{
			{GroupName: "Server Options", Flags: serveFlags},
			common.GetTargetFlagGroup(),
		}
	}))
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if flagInterval < time.Second {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s must be at least 1s", flagIntervalName))
	}
	for _, class := range flagClasses {
		if !slices.Contains(props.Classes, class) {
			return common.FlagValidationError(cmd, fmt.Sprintf("unknown class %q, use one of: %s", class, strings.Join(props.Classes, ", ")))
		}
	}
	if err := common.ValidateTargetFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	appContext := common.GetAppContext(cmd)
	targets, err := common.GetTargets(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	systems, err := common.OpenSystems(ctx, targets, appContext.LocalTempDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	systems = slices.DeleteFunc(systems, func(sys *common.System) bool { return sys == nil })
	if len(systems) == 0 {
		return common.ReportError(cmd, errors.New("no targets remain"))
	}
	e, err := newExporter(flagClasses)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	e.update(ctx, systems)
	server := newServer(flagListen, e)
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting Prometheus metrics server", slog.String("address", flagListen))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	fmt.Printf("Serving metrics at http://%s/metrics, press Ctrl+C to stop\n", displayAddr(flagListen))
	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("failed to shut down metrics server", slog.String("error", err.Error()))
			}
			slog.Info("metrics server stopped")
			return nil
		case err, ok := <-serverErr:
			if ok && err != nil {
				return common.ReportError(cmd, fmt.Errorf("metrics server failed: %w", err))
			}
			serverErr = nil
		case <-ticker.C:
			e.update(ctx, systems)
		}
	}
}

func newServer(listenAddr string, e *exporter) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

func displayAddr(listenAddr string) string {
	if strings.HasPrefix(listenAddr, ":") {
		return "localhost" + listenAddr
	}
	return listenAddr
}
