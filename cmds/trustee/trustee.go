package trustee

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thechriswalker/go-decide/config"
	"github.com/thechriswalker/go-decide/trustee"
)

// Register the trustee commands
func Register(rootCmd *cobra.Command, cfg *config.Config) {
	var trusteeCmd = &cobra.Command{
		Use:   "trustee",
		Short: "Trustee Commands",
		Long:  "Run a standalone trustee holding voting keys for other nodes",
	}
	rootCmd.AddCommand(trusteeCmd)

	open := func() *trustee.Local {
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
		local, err := trustee.NewLocal(cfg.KeyDir(), trustee.WithTokens(cfg.TrusteeTokens...))
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.KeyDir()).Msg("Could not open the trustee keystore")
		}
		return local
	}

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the trustee over gRPC",
		Run: func(cmd *cobra.Command, args []string) {
			local := open()
			if len(cfg.TrusteeTokens) == 0 {
				log.Warn().Msg("No trustee tokens configured, any caller can tally")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := trustee.Serve(ctx, cfg.TrusteeAddr, local, nil); err != nil {
				log.Fatal().Err(err).Msg("Trustee failed")
			}
		},
	}

	var votingID int64
	var keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Create (or show) the key of a voting",
		Run: func(cmd *cobra.Command, args []string) {
			local := open()
			pk, err := local.GenerateKey(context.Background(), votingID, cfg.KeyBits)
			if err != nil {
				log.Fatal().Err(err).Int64("voting", votingID).Msg("Could not create key")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(pk); err != nil {
				log.Fatal().Err(err).Msg("Could not print key")
			}
		},
	}
	keygenCmd.Flags().Int64Var(&votingID, "voting", 0, "Voting ID")
	keygenCmd.MarkFlagRequired("voting")

	trusteeCmd.AddCommand(serveCmd, keygenCmd)
}
