package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/importer"
	"github.com/conduit-ecg/annotator/internal/persistence/sqlite"
	"github.com/conduit-ecg/annotator/internal/persistence/sqlite/migration"
	"github.com/conduit-ecg/annotator/internal/synth"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			storage, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(e.cfg.SQLitePath), e.logger)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer func() { _ = storage.Close() }()

			if err := storage.Migrate(ctx); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			status, err := storage.MigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("read migration status: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %s (%d applied, %d pending)\n",
				status.CurrentVersion, len(status.AppliedMigrations), status.PendingCount)
			return err
		},
	}
}

// demoAnnotators are created by seed so a fresh install can be logged into.
var demoAnnotators = []application.CreateAnnotatorParams{
	{Name: "Billy Foo", Username: "bfoo", Designation: "MD"},
	{Name: "Bob Bar", Username: "bbar", Designation: "Student"},
	{Name: "Joe Baz", Username: "jbaz", Designation: "Student"},
}

func newSeedCmd(e *env) *cobra.Command {
	var (
		file          string
		count         int
		seed          uint64
		password      string
		windowSeconds int
		strideSeconds int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with demo annotators and segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, openOptions{migrate: true})
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			out := cmd.OutOrStdout()
			for _, demo := range demoAnnotators {
				demo.Principal = cliPrincipal
				demo.Password = password
				if _, err := a.annotators.Create(ctx, demo); err != nil {
					if errors.Is(err, application.ErrConflict) {
						_, _ = fmt.Fprintf(out, "annotator %s already exists, skipped\n", demo.Username)
						continue
					}
					return fmt.Errorf("create annotator %s: %w", demo.Username, err)
				}
				_, _ = fmt.Fprintf(out, "created annotator %s\n", demo.Username)
			}

			var inputs []application.SegmentInput
			if file != "" {
				inputs, err = recordingInputs(file, windowSeconds, strideSeconds)
			} else {
				inputs, err = syntheticInputs(count, windowSeconds, seed)
			}
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				_, err = fmt.Fprintln(out, "no segments to create")
				return err
			}

			created, err := a.segments.CreateBatch(ctx, cliPrincipal, inputs)
			if err != nil {
				return fmt.Errorf("create segments: %w", err)
			}
			_, err = fmt.Fprintf(out, "created %d segments\n", len(created))
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSON recordings file to cut into segments instead of synthetic data")
	cmd.Flags().IntVar(&count, "count", 200, "number of synthetic segments")
	cmd.Flags().Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "seed for synthetic signals")
	cmd.Flags().StringVar(&password, "password", "password", "password for the demo annotators")
	cmd.Flags().IntVar(&windowSeconds, "window-seconds", synth.DefaultWindowSeconds, "segment length in seconds")
	cmd.Flags().IntVar(&strideSeconds, "stride-seconds", 0, "distance between segment starts in seconds (defaults to the window length)")
	return cmd
}

func recordingInputs(path string, windowSeconds, strideSeconds int) ([]application.SegmentInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	recordings, err := importer.ReadRecordings(f)
	if err != nil {
		return nil, err
	}
	engine := synth.NewEngine(windowSeconds, strideSeconds)
	return recordings.Segments(engine, synth.WindowOptions{KeepPartial: true})
}

func syntheticInputs(count, windowSeconds int, seed uint64) ([]application.SegmentInput, error) {
	if count < 0 {
		return nil, fmt.Errorf("count must not be negative")
	}
	generator := synth.NewSineGenerator(synth.DefaultSampleRate, windowSeconds, 4, 200, seed)
	pool := ids.OpaquePoolRef("synthetic")

	windows := generator.Windows(count)
	inputs := make([]application.SegmentInput, 0, len(windows))
	for _, window := range windows {
		input, err := importer.SegmentInput(window, pool)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func newImportCampaignsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "import-campaigns <csv>",
		Short: "Replace annotators' current campaigns from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			batches, err := importer.ReadCampaigns(f)
			if err != nil {
				return err
			}

			a, err := e.open(ctx, openOptions{migrate: true})
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			result, err := a.campaigns.ImportCampaigns(ctx, application.ImportCampaignsParams{
				Principal: cliPrincipal,
				Batches:   batches,
			})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "USERNAME\tCAMPAIGN\tSEGMENTS\tRESULT")
			for _, outcome := range result.Outcomes {
				status := "ok"
				if outcome.Err != nil {
					status = application.Message(outcome.Err)
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", outcome.Username, outcome.Name, outcome.Segments, status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if failed := result.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d campaigns failed to import", len(failed), len(result.Outcomes))
			}
			return nil
		},
	}
}

func newAddAnnotatorCmd(e *env) *cobra.Command {
	var params application.CreateAnnotatorParams

	cmd := &cobra.Command{
		Use:   "add-annotator",
		Short: "Create an annotator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, openOptions{migrate: true})
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			params.Principal = cliPrincipal
			annotator, err := a.annotators.Create(ctx, params)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created annotator %s (%s)\n", annotator.Username, annotator.Name)
			return err
		},
	}

	cmd.Flags().StringVar(&params.Name, "name", "", "display name")
	cmd.Flags().StringVar(&params.Username, "username", "", "login name")
	cmd.Flags().StringVar(&params.Designation, "designation", "", "role or qualification")
	cmd.Flags().StringVar(&params.Password, "password", "", "initial password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newResetPasswordCmd(e *env) *cobra.Command {
	var params application.ResetCredentialParams

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Replace an annotator's password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, openOptions{migrate: true})
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			params.Principal = cliPrincipal
			if err := a.annotators.ResetCredential(ctx, params); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "password reset for %s\n", params.Username)
			return err
		},
	}

	cmd.Flags().StringVar(&params.Username, "username", "", "login name")
	cmd.Flags().StringVar(&params.Password, "password", "", "new password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newClassesCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "Print the label vocabulary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vocabulary, err := application.LoadVocabulary(e.cfg.LabelsFile)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "VALUE\tNAME\tDESCRIPTION")
			for _, class := range vocabulary.Classes() {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", class.Value, class.Name, class.Description)
			}
			return tw.Flush()
		},
	}
}

func newAuditCmd(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the most recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, openOptions{migrate: true})
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			events, err := a.store.ListAuditEvents(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TIME\tACTOR\tOPERATION\tOUTCOME")
			for _, event := range events {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					event.OccurredAt.Format(time.RFC3339), event.Actor, event.Operation, event.Outcome)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}
