package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"taskreminder/internal/app"
	"taskreminder/internal/server"
	"taskreminder/internal/tui"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and fire alarms",
		Long: `Start the HTTP API server. The server restores persisted alarms, fires them
when due and pushes notifications to websocket subscribers on <base-path>/stream.
Set TASKREMINDER_JWT_SECRET (or server.jwt_secret) to accept bearer tokens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.With(ctx, runtimeOptions(false), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
					basePath = cfg.Server.BasePath
				}
				secret := cfg.Server.JWTSecret
				if s := viper.GetString("jwt-secret"); s != "" {
					secret = s
				}
				authCfg := server.AuthConfig{
					JWTSecret:    secret,
					Required:     cfg.Server.RequireAuth,
					DefaultActor: viper.GetString("actor-id"),
					Logger:       rt.Logger,
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Hub:      rt.Hub,
					Logger:   rt.Logger,
				})
				if err != nil {
					return err
				}

				report, err := rt.Engine.RestoreAlarms(ctx)
				if err != nil {
					return fmt.Errorf("restore alarms: %w", err)
				}
				rt.Logger.Info("alarms restored",
					slog.Int("resumed", report.Resumed),
					slog.Int("expired", report.Expired),
					slog.Int("armed", report.Armed))

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return rt.Engine.RunReconciler(gctx, cfg.Scheduler.ResyncInterval.Std())
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					fmt.Printf("Serving Task Reminder API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func watchCmd() *cobra.Command {
	var passive bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show live countdowns and fire alarms in the terminal",
		Long: `Show a live countdown of every open task with an alarm. Fired alarms
appear as a banner for ten seconds. With --passive the watcher only displays
countdowns and leaves firing to a running 'remind serve'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			opts := runtimeOptions(passive)
			// the TUI owns the terminal; logs go to the workspace log instead
			logFile, err := os.OpenFile(watchLogPath(opts.Workspace), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			defer logFile.Close()
			opts.LogOutput = logFile
			return app.With(ctx, opts, func(ctx context.Context, rt *app.Runtime) error {
				if !passive {
					if _, err := rt.Engine.RestoreAlarms(ctx); err != nil {
						return fmt.Errorf("restore alarms: %w", err)
					}
				}
				alarms, unsubscribe := rt.Hub.Subscribe()
				defer unsubscribe()

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return rt.Engine.RunReconciler(gctx, rt.Config.Scheduler.ResyncInterval.Std())
				})
				g.Go(func() error {
					defer stop()
					return tui.Run(gctx, tui.Config{
						Source:   rt.Engine,
						Alarms:   alarms,
						AppName:  rt.Config.Notify.Title,
						Interval: rt.Config.Countdown.Interval.Std(),
					})
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().BoolVar(&passive, "passive", false, "display countdowns without firing alarms")
	return cmd
}
