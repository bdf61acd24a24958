package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func statusCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of the realm, or of every realm with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all {
				st, err := a.client.Realms(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(st)
			}
			st, err := a.realm().Status(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(st)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "show every loaded realm")
	return cmd
}

func addCmd(a *app) *cobra.Command {
	var (
		queueID string
		data    string
		tags    []string
	)
	cmd := &cobra.Command{
		Use:   "add [job-id]",
		Short: "Add a job; a random id is used when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := uuid.NewString()
			if len(args) == 1 {
				jobID = args[0]
			}
			if queueID == "" {
				queueID = a.cfg.QueueID
			}
			if err := a.realm().Add(cmd.Context(), jobID, queueID, jobData(data), tags...); err != nil {
				return err
			}
			_, err := fmt.Fprintln(a.out, jobID)
			return err
		},
	}
	cmd.Flags().StringVarP(&queueID, "queue", "q", "", "queue id (default $RESTQ_CLI_QUEUE_ID)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "job data, JSON or a plain string")
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "tag the job (repeatable)")
	return cmd
}

func removeCmd(a *app) *cobra.Command {
	var tag bool
	cmd := &cobra.Command{
		Use:   "remove id...",
		Short: "Remove jobs, or every job carrying the given tags with --tag",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rlm := a.realm()
			for _, id := range args {
				var err error
				if tag {
					err = rlm.RemoveTag(cmd.Context(), id)
				} else {
					err = rlm.Remove(cmd.Context(), id)
				}
				if err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tag, "tag", false, "treat arguments as tag ids")
	return cmd
}

func jobCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "job job-id",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.realm().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(st)
		},
	}
}

func pullCmd(a *app) *cobra.Command {
	var (
		count  int
		across bool
	)
	cmd := &cobra.Command{
		Use:   "pull [realm...]",
		Short: "Lease jobs from the realm, or across realms with --across",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				count = a.cfg.Count
			}
			if across {
				ds, err := a.client.Pull(cmd.Context(), count, args...)
				if err != nil {
					return err
				}
				return a.print(ds)
			}
			if len(args) > 0 {
				return fmt.Errorf("realm arguments need --across")
			}
			jobs, err := a.realm().Pull(cmd.Context(), count)
			if err != nil {
				return err
			}
			return a.print(jobs)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "jobs to lease (default $RESTQ_CLIENT_COUNT)")
	cmd.Flags().BoolVar(&across, "across", false, "pull across the named realms, or all loaded realms")
	return cmd
}

func leaseCmd(a *app) *cobra.Command {
	var (
		def     int
		queueID string
		seconds int
	)
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Set the default lease time of the realm or the lease time of one queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireAnyFlag(cmd, "default", "queue"); err != nil {
				return err
			}
			rlm := a.realm()
			if cmd.Flags().Changed("default") {
				if err := rlm.SetDefaultLeaseTime(cmd.Context(), def); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("queue") {
				if !cmd.Flags().Changed("seconds") {
					return fmt.Errorf("--queue needs --seconds")
				}
				return rlm.SetQueueLeaseTime(cmd.Context(), queueID, seconds)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&def, "default", 0, "default lease time in seconds")
	cmd.Flags().StringVarP(&queueID, "queue", "q", "", "queue whose lease time to set")
	cmd.Flags().IntVar(&seconds, "seconds", 0, "lease time in seconds for --queue")
	return cmd
}
