package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"avatar-pipeline/internal/bootstrap"
	"avatar-pipeline/internal/config"
	"avatar-pipeline/internal/ledger"
	"avatar-pipeline/internal/models"
	"avatar-pipeline/internal/store"
)

// appContext holds what every command needs.
type appContext struct {
	cfg    config.Config
	store  *store.Postgres
	ledger *ledger.Ledger
}

func newAppContext(ctx context.Context, envFile string) (*appContext, error) {
	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return nil, err
	}
	st, err := bootstrap.Postgres(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &appContext{cfg: cfg, store: st, ledger: ledger.New(st, cfg.FreeCredits)}, nil
}

func (a *appContext) Close() { a.store.Close() }

// CreditsGrantAction adds paid credits, by amount or by package name.
func CreditsGrantAction(ctx context.Context, cmd *cli.Command) error {
	amount := int(cmd.Int("amount"))
	pkg := cmd.String("package")
	if (amount > 0) == (pkg != "") {
		return fmt.Errorf("exactly one of --amount or --package is required")
	}

	app, err := newAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	var acct models.Account
	if pkg != "" {
		acct, err = app.ledger.GrantPackage(ctx, cmd.String("user"), pkg)
	} else {
		acct, err = app.ledger.Grant(ctx, cmd.String("user"), amount)
	}
	if err != nil {
		return err
	}
	return renderAccount(os.Stdout, acct, app.ledger.StatusOf(acct))
}

// AccountShowAction prints an account's balances.
func AccountShowAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	acct, err := app.store.GetAccount(ctx, cmd.String("user"))
	if err != nil {
		return err
	}
	return renderAccount(os.Stdout, acct, app.ledger.StatusOf(acct))
}

// JobShowAction prints one job.
func JobShowAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	job, err := app.store.GetJob(ctx, cmd.String("id"))
	if err != nil {
		return err
	}
	return renderJobDetail(os.Stdout, job)
}

// JobListAction lists an account's jobs.
func JobListAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	jobs, total, err := app.store.ListJobs(ctx, cmd.String("user"), int(cmd.Int("limit")), int(cmd.Int("offset")))
	if err != nil {
		return err
	}
	if err := renderJobs(os.Stdout, jobs); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d jobs\n", len(jobs), total)
	return nil
}

// JobStuckAction lists jobs left in processing, for manual reconciliation.
func JobStuckAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer app.Close()

	olderThan := cmd.Duration("older-than")
	if olderThan <= 0 {
		olderThan = app.cfg.StuckAfter
	}
	jobs, err := app.store.ListStuck(ctx, time.Now().Add(-olderThan), int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Printf("no jobs processing for longer than %s\n", olderThan)
		return nil
	}
	return renderJobs(os.Stdout, jobs)
}

func renderAccount(w io.Writer, acct models.Account, status ledger.Status) error {
	table := tablewriter.NewWriter(w)
	table.Header("User ID", "Email", "Credits", "Free Used", "Total Generated", "Next Watermarked", "Last Login")
	table.Append(
		acct.ID,
		acct.Email,
		strconv.Itoa(acct.Credits),
		strconv.Itoa(acct.FreeCreditsUsed),
		strconv.Itoa(acct.TotalGenerated),
		strconv.FormatBool(status.HasWatermark),
		acct.LastLoginAt.Format("2006-01-02 15:04"),
	)
	return table.Render()
}

func renderJobs(w io.Writer, jobs []models.Job) error {
	table := tablewriter.NewWriter(w)
	table.Header("Job ID", "User ID", "Status", "Watermark", "Created At", "Updated At")
	for _, job := range jobs {
		table.Append(
			job.ID,
			job.OwnerID,
			job.Status,
			strconv.FormatBool(job.Watermark),
			job.CreatedAt.Format("2006-01-02 15:04"),
			job.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	return table.Render()
}

func renderJobDetail(w io.Writer, job models.Job) error {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	table.Append("job_id", job.ID)
	table.Append("user_id", job.OwnerID)
	table.Append("status", job.Status)
	table.Append("input", job.InputRef)
	table.Append("output", deref(job.OutputRef))
	table.Append("error", deref(job.Error))
	table.Append("watermark", strconv.FormatBool(job.Watermark))
	table.Append("composite", strconv.FormatBool(job.Composite))
	table.Append("style", job.Metadata.Style)
	table.Append("model", job.Metadata.Model)
	table.Append("processing_time_ms", strconv.FormatInt(job.Metadata.ProcessingTimeMS, 10))
	table.Append("avatar", job.Metadata.AvatarRef)
	table.Append("created_at", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		table.Append("completed_at", job.CompletedAt.Format(time.RFC3339))
	}
	return table.Render()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
