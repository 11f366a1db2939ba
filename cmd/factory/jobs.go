package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/Factory/internal/model"
	"github.com/CZERTAINLY/Factory/internal/registry"
	"github.com/CZERTAINLY/Factory/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "jobs manages the job file without starting a machine",
}

func init() {
	jobsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "list all jobs grouped by status",
			Args:  cobra.NoArgs,
			RunE: withRegistry(func(_ context.Context, reg *registry.Registry, w io.Writer, _ []string) error {
				l := reg.ListAll()
				printGroup(w, "InWork", l.InWork)
				printGroup(w, "Pending", l.Pending)
				printGroup(w, "Done", l.Done)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "new <product> <quantity>",
			Short: "new creates a pending job",
			Args:  cobra.MinimumNArgs(2),
			RunE: withRegistry(func(ctx context.Context, reg *registry.Registry, w io.Writer, args []string) error {
				qty, err := strconv.Atoi(args[len(args)-1])
				if err != nil {
					return fmt.Errorf("parsing quantity: %w", err)
				}
				job, err := reg.CreateJob(ctx, strings.Join(args[:len(args)-1], " "), qty)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "Created %s\n", job)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "cancel <id>",
			Short: "cancel removes a job which is not done yet",
			Args:  cobra.ExactArgs(1),
			RunE: withRegistry(func(ctx context.Context, reg *registry.Registry, w io.Writer, args []string) error {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("parsing job id: %w", err)
				}
				if _, err := reg.CancelJob(ctx, id); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "Cancelled and removed Job #%d\n", id)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status <id>",
			Short: "status prints a single job",
			Args:  cobra.ExactArgs(1),
			RunE: withRegistry(func(_ context.Context, reg *registry.Registry, w io.Writer, args []string) error {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("parsing job id: %w", err)
				}
				job, err := reg.JobStatus(id)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(w, job)
				return nil
			}),
		},
	)
}

func printGroup(w io.Writer, title string, jobs []model.Job) {
	_, _ = fmt.Fprintf(w, "%s:\n", title)
	for _, job := range jobs {
		_, _ = fmt.Fprintf(w, "  %s\n", job)
	}
}

type registryFunc func(ctx context.Context, reg *registry.Registry, w io.Writer, args []string) error

// withRegistry opens the configured job file for the duration of one command.
func withRegistry(f registryFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(config.Store.Dir, 0o755); err != nil {
			return fmt.Errorf("creating job store dir %s: %w", config.Store.Dir, err)
		}
		fs, err := store.NewFileStore(config.Store.Dir, config.Store.File)
		if err != nil {
			return err
		}
		defer func() {
			_ = fs.Close()
		}()
		ctx := cmd.Context()
		return f(ctx, registry.New(ctx, fs), cmd.OutOrStdout(), args)
	}
}
