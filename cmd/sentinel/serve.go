package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-sentinel/internal/api"
	"github.com/Veraticus/receipt-sentinel/internal/certs"
	"github.com/Veraticus/receipt-sentinel/internal/config"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the verification API",
		Long: `Start the HTTP API used by the browser-side worklist integration.

Endpoints:
  GET    /api/health
  POST   /api/verify              multipart images + expected_amount
  GET    /api/transactions        ?status=&since=&limit=&offset=
  GET    /api/transactions/:id
  DELETE /api/transactions/:id
  GET    /api/stats               ?day=YYYY-MM-DD`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().Bool("tls", false, "Serve HTTPS with a self-signed localhost certificate")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.tls", cmd.Flags().Lookup("tls"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	addr := viper.GetString("server.addr")

	holder, err := loadSettings()
	if err != nil {
		return err
	}
	watchSettings(holder)

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	v, err := newVerifier(store)
	if err != nil {
		return err
	}
	defer v.Close()

	srv, err := api.New(api.Config{
		Verifier: v,
		Store:    store,
		Settings: holder,
		Logger:   slog.Default(),
		Version:  version,
	})
	if err != nil {
		return err
	}

	listen := func() error { return srv.Listen(addr) }
	if viper.GetBool("server.tls") {
		cm := certs.NewFileManager(config.ExpandPath(viper.GetString("server.cert_dir")), nil)
		cert, err := cm.GetOrCreate()
		if err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		slog.Info("Using self-signed certificate", "path", cm.CertFile())
		listen = func() error { return srv.ListenTLS(addr, cert) }
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutting down API server")
		if err := srv.Shutdown(10 * time.Second); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	}
}
