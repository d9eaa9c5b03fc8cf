package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wipecert/internal/api"
)

func newServeCmd() *cobra.Command {
	var pubkeyFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the certificate chain over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := openChain(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer chain.Close()

			srvCfg := api.ConfigFrom(cfg)
			if pubkeyFile != "" {
				pub, err := verificationKey(chain, pubkeyFile)
				if err != nil {
					return err
				}
				srvCfg.PublicKey = pub
			}
			srv := api.NewServer(chain, srvCfg, logger)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case sig := <-quit:
				logger.Log("INFO", "shutting down", "signal", sig.String())
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Log("ERROR", "shutdown error", "error", err)
				return err
			}
			logger.Log("INFO", "server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&pubkeyFile, "pubkey", "", "PEM public key to verify against")
	return cmd
}
