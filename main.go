package main

import (
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thechriswalker/go-decide/cmds/admin"
	"github.com/thechriswalker/go-decide/cmds/server"
	"github.com/thechriswalker/go-decide/cmds/trustee"
	"github.com/thechriswalker/go-decide/config"
	"github.com/thechriswalker/go-decide/decide"
)

func preamble(cmd *cobra.Command, args []string) {
	// preamble dump some info
	log.Info().
		Str("version", decide.Version).
		Str("protocol", decide.ProtocolVersion).
		Msg("Decide Voting")

	log.Debug().
		Str("commit", decide.ShortCommit()).
		Str("built", decide.BuildDate).
		Str("arch", runtime.GOARCH).
		Str("os", runtime.GOOS).
		Msg("Build Info")
}

const timeFormatMs = "2006-01-02T15:04:05.000Z07:00"
const timeFormatLocal = "2006-01-02 15:04:05.000"

func main() {
	// configure the logger.
	// remember pretty logs are only good on the console
	zerolog.TimeFieldFormat = timeFormatMs
	log.Logger = log.Output(zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) {
		cw.TimeFormat = timeFormatLocal
		cw.NoColor = true
	}))

	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// defaults, then DECIDE_* env, then flags
	cfg := config.Default()
	if err := cfg.LoadEnv(); err != nil {
		log.Fatal().Err(err).Msg("Invalid environment")
	}

	var rootCmd = &cobra.Command{
		Use:              "decide",
		Short:            "Decide e-voting node",
		Version:          decide.Version,
		PersistentPreRun: preamble,
	}
	cfg.BindFlags(rootCmd.PersistentFlags())

	// commands:
	//
	// - serve: the voting API with the local trustee
	// - trustee: a standalone trustee for other nodes
	// - admin: create and run votings, manage the census and cast ballots against a server
	server.Register(rootCmd, cfg)
	trustee.Register(rootCmd, cfg)
	admin.Register(rootCmd, cfg)

	if err := rootCmd.Execute(); err != nil {
		log.Err(err).Msg("An Error Occured")
		os.Exit(1)
	}
}
