package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/gridvm/internal/output"
	"github.com/jbweber/gridvm/internal/status"
)

var (
	outputFormat string
	noHeaders    bool
)

var statusCmd = &cobra.Command{
	Use:   "status [machine...]",
	Short: "Show machine status",
	Long: `Show the state of the named machines, or every machine of the configuration.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   One YAML document per machine
  -o json   JSON array`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}
		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close session: %v\n", err)
			}
		}()

		machines, err := s.machines(args)
		if err != nil {
			return err
		}

		reports := make([]status.Report, 0, len(machines))
		for _, mc := range machines {
			m, rec, err := s.load(mc)
			if err != nil {
				return err
			}
			st, err := s.orch.State(ctx, s.env(m, nil))
			if err != nil {
				return fmt.Errorf("%s: %w", mc.Name, err)
			}

			r := status.Report{
				Name:    m.Name,
				Ordinal: m.Ordinal,
				JobID:   m.ID,
				State:   st,
				Address: m.Address,
			}
			if rec != nil {
				r.Site = rec.Site
				r.CreatedAt = rec.CreatedAt
			}
			reports = append(reports, r)
		}

		result, err := formatter.Format(reports)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, yaml, json)")
	statusCmd.Flags().BoolVar(&noHeaders, "no-headers", false, "Omit table headers")
}
