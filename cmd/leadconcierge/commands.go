package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jkindrix/leadconcierge/internal/domain"
	"github.com/jkindrix/leadconcierge/internal/metrics"
	"github.com/jkindrix/leadconcierge/internal/report"
)

// oneShot opens the app for a command that exits after one action. Metrics
// go to a private registry nobody scrapes.
func oneShot(ctx context.Context) (*app, error) {
	return newApp(ctx, metrics.NewMetricsWithRegistry(prometheus.NewRegistry()))
}

func newRecontactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recontact",
		Short: "Run one recontact pass over silent leads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := oneShot(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := a.load(ctx); err != nil {
				return err
			}
			svc, err := a.wire()
			if err != nil {
				return err
			}
			res, runErr := svc.recontact.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "reminders=%d follow_ups=%d exhausted=%d failed=%d\n",
				res.Reminders, res.FollowUps, res.Exhausted, res.Failed)
			return runErr
		},
	}
}

type reportOptions struct {
	stage    string
	interest int
	export   bool
}

// filter converts the flags. A negative interest means any.
func (o reportOptions) filter() (report.Filter, error) {
	var f report.Filter
	if o.stage != "" {
		stage, err := domain.ParseStage(o.stage)
		if err != nil {
			return f, err
		}
		f.Stage = &stage
	}
	if o.interest >= 0 {
		if o.interest > domain.MaxInterest {
			return f, errors.New("interest must be between 0 and " + strconv.Itoa(domain.MaxInterest))
		}
		interest := o.interest
		f.Interest = &interest
	}
	return f, nil
}

func newReportCmd() *cobra.Command {
	opts := reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the interest report or export the leads spreadsheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := opts.filter()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := oneShot(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := a.store.LoadAll(ctx); err != nil {
				return err
			}
			if opts.export {
				n, err := a.reporter.ExportLeads(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d leads to %s\n", n, report.ExportKey)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.reporter.InterestReport(filter))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.stage, "stage", "", "only leads in this stage (prospeccion, calificacion, negociacion, cierre)")
	cmd.Flags().IntVar(&opts.interest, "interest", -1, "only leads with this interest level")
	cmd.Flags().BoolVar(&opts.export, "export", false, "write the leads spreadsheet instead of printing")
	return cmd
}

func newFAQCmd() *cobra.Command {
	faq := &cobra.Command{
		Use:   "faq",
		Short: "Manage the FAQ",
	}

	var project string
	add := &cobra.Command{
		Use:   "add QUESTION ANSWER",
		Short: "Append a question and answer to a project's FAQ",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := oneShot(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := a.knowledge.AddFAQ(ctx, project, args[0], args[1]); err != nil {
				return err
			}
			name := project
			if name == "" {
				name = domain.GeneralFAQ
			}
			fmt.Fprintf(cmd.OutOrStdout(), "faq added to %s\n", name)
			return nil
		},
	}
	add.Flags().StringVarP(&project, "project", "p", "", "project name (default general)")
	faq.AddCommand(add)
	return faq
}
