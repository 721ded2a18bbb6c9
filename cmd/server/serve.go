package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"safetunes/internal/handler"
	"safetunes/internal/middleware"
)

func serveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("Starting SafeTunes service...")

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if a.dispatcher != nil {
				a.dispatcher.Start(ctx)
				defer a.dispatcher.Stop()
				go a.digest.Run(ctx)
			}
			if a.telegram != nil {
				go a.telegram.Start(ctx)
			}

			// Setup Gin router
			gin.SetMode(gin.ReleaseMode)
			router := gin.New()
			router.Use(gin.Recovery(), middleware.RequestLogger(logger))

			var mod handler.ModerationService
			if a.moderation != nil {
				mod = a.moderation
			}
			handler.NewHandler(a.engine, mod, a.registry, logger).
				RegisterRoutes(router, middleware.AuthMiddleware([]byte(cfg.Server.JWTSecret), logger))

			serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
			srv := &http.Server{
				Addr:              serverAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Server starting", zap.String("address", serverAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("failed to start server: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			logger.Info("Server exited")
			return nil
		},
	}
}
