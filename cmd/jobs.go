package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/keystone-supply/catalog-etl/internal/model"
	"github.com/keystone-supply/catalog-etl/internal/store"
)

var (
	jobsStatus string
	jobsLimit  int
	jobsOffset int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage extraction jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListJobs(cmd.Context(), store.JobFilter{
			Status: model.JobStatus(jobsStatus),
			Limit:  jobsLimit,
			Offset: jobsOffset,
		})
		if err != nil {
			return err
		}
		for _, jb := range jobs {
			fmt.Printf("%s  %-20s  %s\n", jb.ID, jb.Status, jb.SourceFile)
		}
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job with its recorded engine calls",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		jb, err := st.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		calls, err := st.ListLLMCalls(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(map[string]any{"job": jb, "calls": calls}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.UpdateJobStatus(cmd.Context(), args[0], model.JobStatusCancelled, model.JobStatusPending); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a finished job and its lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(cfg.Jobs.Dir, args[0])); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to list")
	jobsListCmd.Flags().IntVar(&jobsOffset, "offset", 0, "jobs to skip")
	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsCancelCmd, jobsDeleteCmd)
	rootCmd.AddCommand(jobsCmd)
}
