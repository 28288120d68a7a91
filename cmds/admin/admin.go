package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"github.com/thechriswalker/go-decide/api"
	"github.com/thechriswalker/go-decide/config"
	"github.com/thechriswalker/go-decide/trustee"
	"github.com/thechriswalker/go-decide/voting"
)

// census entries are sent in batches of this size
const censusBatch = 500

// Register the admin commands. They talk to a running server over its API.
func Register(rootCmd *cobra.Command, cfg *config.Config) {
	var server, token string
	var timeout time.Duration
	var adminCmd = &cobra.Command{
		Use:   "admin",
		Short: "Administer votings on a decide server",
	}
	adminCmd.PersistentFlags().StringVar(&server, "server", cfg.BaseURL, "URL of the decide server")
	adminCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("DECIDE_TOKEN"), "API token")
	adminCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Request timeout")
	rootCmd.AddCommand(adminCmd)

	client := func() *api.Client {
		return api.NewClient(server, token, timeout)
	}

	adminCmd.AddCommand(votingCommands(cfg, client), censusCommands(client), ballotCommands(client))
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("Could not print")
	}
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Fatal().Str("id", s).Msg("Not a valid ID")
	}
	return id
}

func votingCommands(cfg *config.Config, client func() *api.Client) *cobra.Command {
	var votingCmd = &cobra.Command{
		Use:   "voting",
		Short: "Create, show and run votings",
	}

	var nv voting.NewVoting
	var auths []string
	var createCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a voting",
		Run: func(cmd *cobra.Command, args []string) {
			for _, a := range auths {
				nv.Auths = append(nv.Auths, voting.Auth{URL: a})
			}
			v, err := client().CreateVoting(context.Background(), nv)
			if err != nil {
				log.Fatal().Err(err).Msg("Could not create voting")
			}
			log.Info().Int64("voting", v.ID).Str("name", v.Name).Msg("Voting created")
			printJSON(v)
		},
	}
	createCmd.Flags().StringVar(&nv.Name, "name", "", "Name of the voting")
	createCmd.Flags().StringVar(&nv.Desc, "desc", "", "Description of the voting")
	createCmd.Flags().StringVar(&nv.Question, "question", "", "The question")
	createCmd.Flags().StringSliceVar(&nv.Options, "option", nil, "An option, repeat for each one")
	createCmd.Flags().BoolVar(&nv.IsYesNo, "yes-no", false, "A YES/NO question")
	createCmd.Flags().StringSliceVar(&auths, "auth", nil, "Trustee URL, repeat for each one (default this server)")

	var showCmd = &cobra.Command{
		Use:   "show ID",
		Short: "Show a voting",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			v, err := client().Voting(context.Background(), parseID(args[0]))
			if err != nil {
				log.Fatal().Err(err).Msg("Could not load voting")
			}
			printJSON(v)
		},
	}

	var openReport bool
	var actionCmd = &cobra.Command{
		Use:   "action ID start|stop|tally|save",
		Short: "Move a voting through its lifecycle",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			ctx := context.Background()
			msg, err := client().Action(ctx, id, args[1])
			if err != nil {
				log.Fatal().Err(err).Int64("voting", id).Str("action", args[1]).Msg("Action failed")
			}
			log.Info().Int64("voting", id).Msg(msg)

			if !openReport || args[1] != string(voting.ActionSave) {
				return
			}
			v, err := client().Voting(ctx, id)
			if err != nil {
				log.Fatal().Err(err).Msg("Could not load voting")
			}
			// only useful when the server shares our report directory
			path := voting.NewReportWriter(cfg.ReportDir, nil).Location(v.File)
			if err := open.Run(path); err != nil {
				log.Warn().Err(err).Str("file", path).Msg("Failed to open the report")
			}
		},
	}
	actionCmd.Flags().BoolVar(&openReport, "open", false, "Open the report after save")

	votingCmd.AddCommand(createCmd, showCmd, actionCmd)
	return votingCmd
}

// readVoters reads one voter ID per line, blank lines and # comments are skipped
func readVoters(file string) ([]int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []int64
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", file, line, err)
		}
		out = append(out, id)
	}
	return out, sc.Err()
}

func censusCommands(client func() *api.Client) *cobra.Command {
	var censusCmd = &cobra.Command{
		Use:   "census",
		Short: "Manage who can vote",
	}
	var file string
	var addCmd = &cobra.Command{
		Use:   "add VOTING [VOTER...]",
		Short: "Add voters to the census of a voting",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			var voters []int64
			for _, a := range args[1:] {
				voters = append(voters, parseID(a))
			}
			if file != "" {
				more, err := readVoters(file)
				if err != nil {
					log.Fatal().Err(err).Msg("Could not read voters file")
				}
				voters = append(voters, more...)
			}

			bar := trustee.MaybeProgress("census", len(voters))
			bar.Start()
			added := 0
			cl := client()
			for len(voters) > 0 {
				n := censusBatch
				if n > len(voters) {
					n = len(voters)
				}
				got, err := cl.AddCensus(context.Background(), id, voters[:n]...)
				if err != nil {
					bar.Finish()
					log.Fatal().Err(err).Int64("voting", id).Int("added", added).Msg("Census update failed")
				}
				added += got
				for i := 0; i < n; i++ {
					bar.Increment()
				}
				voters = voters[n:]
			}
			bar.Finish()
			log.Info().Int64("voting", id).Int("added", added).Msg("Census updated")
		},
	}
	addCmd.Flags().StringVar(&file, "file", "", "File with one voter ID per line")
	censusCmd.AddCommand(addCmd)
	return censusCmd
}

func ballotCommands(client func() *api.Client) *cobra.Command {
	var ballotCmd = &cobra.Command{
		Use:   "ballot",
		Short: "Cast ballots",
	}
	var voter int64
	var submitCmd = &cobra.Command{
		Use:   "submit VOTING OPTION",
		Short: "Encrypt an option with the voting key and cast it",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			id, option := parseID(args[0]), parseID(args[1])
			cl := client()
			v, err := cl.Voting(ctx, id)
			if err != nil {
				log.Fatal().Err(err).Msg("Could not load voting")
			}
			if v.PublicKey == nil {
				log.Fatal().Int64("voting", id).Msg("Voting has no key yet")
			}
			if !v.Question.HasOption(option) {
				log.Warn().Int64("option", option).Msg("Not an option of the question, the ballot will be spoiled")
			}
			ct, err := v.PublicKey.EncryptInt(option)
			if err != nil {
				log.Fatal().Err(err).Msg("Could not encrypt the vote")
			}
			res, err := cl.SubmitBallot(ctx, api.BallotRequest{Voting: id, Voter: voter, Vote: ct})
			if err != nil {
				log.Fatal().Err(err).Msg("Ballot rejected")
			}
			log.Info().Str("ballot", res.ID).Str("receipt", res.Receipt).Msg("Ballot cast")
		},
	}
	submitCmd.Flags().Int64Var(&voter, "voter", 0, "Your voter ID")
	submitCmd.MarkFlagRequired("voter")
	ballotCmd.AddCommand(submitCmd)
	return ballotCmd
}
