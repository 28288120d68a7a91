package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thechriswalker/go-decide/api"
	"github.com/thechriswalker/go-decide/config"
	"github.com/thechriswalker/go-decide/storage"
	"github.com/thechriswalker/go-decide/trustee"
	"github.com/thechriswalker/go-decide/voting"
)

// Register the API server command
func Register(rootCmd *cobra.Command, cfg *config.Config) {
	var withTrustee bool
	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the voting API",
		Long:  "Runs the HTTP API with the local trustee. With --with-trustee the trustee is also served to other nodes over gRPC",
		Run: func(cmd *cobra.Command, args []string) {
			if err := cfg.Validate(); err != nil {
				log.Fatal().Err(err).Msg("Invalid configuration")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := storage.Open(cfg.Database, cfg.DSN, cfg.DataDir)
			if err != nil {
				log.Fatal().Err(err).Str("database", cfg.Database).Msg("Could not open storage")
			}
			defer store.Close()

			local, err := trustee.NewLocal(cfg.KeyDir(), trustee.WithTokens(cfg.TrusteeTokens...))
			if err != nil {
				log.Fatal().Err(err).Msg("Could not open the trustee keystore")
			}
			pool := trustee.NewPool(local, cfg.TrusteeToken, cfg.TrusteeTimeout)
			defer pool.Close()

			opts, err := cfg.ServiceOptions()
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid configuration")
			}
			svc := voting.NewService(store, pool, opts...)

			actors, err := cfg.Actors()
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid token table")
			}
			if len(actors) == 0 {
				log.Warn().Msg("No API tokens configured, only reads will work")
			}
			a, err := api.New(svc, api.TokenAuth(actors))
			if err != nil {
				log.Fatal().Err(err).Msg("Could not create the API")
			}

			errs := make(chan error, 2)
			if withTrustee {
				go func() {
					errs <- trustee.Serve(ctx, cfg.TrusteeAddr, local, nil)
				}()
			}
			go func() {
				errs <- a.Serve(ctx, cfg.HTTPAddr, nil)
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("Shutting down")
			case err := <-errs:
				if err != nil {
					log.Fatal().Err(err).Msg("Server failed")
				}
			}
		},
	}
	serveCmd.Flags().BoolVar(&withTrustee, "with-trustee", false, "Also serve the local trustee over gRPC")
	rootCmd.AddCommand(serveCmd)
}
