package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/YusukeImai797/Gitnote"
	"github.com/YusukeImai797/Gitnote/internal/httpapi"
	"github.com/YusukeImai797/Gitnote/pkg/bus"
)

var (
	serveAddr  string
	serveToken string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the note API, the metadata store and the coordination bus over HTTP",
	Long: `Serve the workspace over HTTP. Other devices can point their metadata
backend ("remote") at /v1/records and their bus ("ws") at /v1/bus.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		hub := bus.NewHub(logger)
		defer func() {
			if err := hub.Close(); err != nil {
				logger.Warn("failed to close bus hub", "error", err)
			}
		}()

		ws, err := openWorkspace(ctx, gitnote.WithBus(hub))
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		addr := serveAddr
		if addr == "" {
			addr = ws.Config.Server.Addr
		}
		token := serveToken
		if token == "" {
			token = ws.Config.Server.Token
		}

		srv := &http.Server{
			Addr: addr,
			Handler: httpapi.NewServer(httpapi.ServerConfig{
				Engine:  ws.Engine,
				Records: ws.Metadata,
				Bus:     hub,
				Token:   token,
				Logger:  logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", "addr", addr, "auth", token != "")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from the configuration)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token required from clients (default: server.token)")
}
