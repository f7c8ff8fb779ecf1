// File: cmd/results.go
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/argus-qa/playprobe/internal/config"
	"github.com/argus-qa/playprobe/internal/observability"
	"github.com/argus-qa/playprobe/internal/store"
)

// newResultsCmd creates the `results` command, which lists past runs for a
// target from the results database.
func newResultsCmd() *cobra.Command {
	resultsCmd := &cobra.Command{
		Use:   "results [target]",
		Short: "Lists persisted runs for a target URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize config: %w", err)
			}
			if !cfg.Store.Enabled {
				return fmt.Errorf("the results store is not enabled; set store.enabled and store.dsn")
			}

			pool, err := pgxpool.New(ctx, cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("failed to connect to the results database: %w", err)
			}
			defer pool.Close()

			st, err := store.New(ctx, pool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize the results store: %w", err)
			}

			results, err := st.GetResultsByTarget(ctx, args[0])
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no recorded runs for", args[0])
				return nil
			}

			data, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode results: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
	return resultsCmd
}
