package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/flowforge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and operate on the job queue",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, optionally filtered by status",
	RunE:  runJobsList,
}

var jobsRequeueCmd = &cobra.Command{
	Use:   "requeue <job-id>",
	Short: "Put a failed or cancelled job back on the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRequeue,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var (
	jobsStatus string
	jobsLimit  int
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsRequeueCmd, jobsCancelCmd)

	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "",
		"filter by status (queued, running, completed, failed, cancelled)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")
}

// openStore opens the state database for one-shot ops commands.
func openStore() (*state.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return state.NewSQLiteStore(cfg.State.Path)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.ListJobs(cmd.Context(), core.JobStatus(jobsStatus), jobsLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCAPABILITY\tATTEMPTS\tAGE\tERROR")
	for _, job := range jobs {
		attempts := fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)
		age := time.Since(job.CreatedAt).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Status, job.Capability, attempts, age, truncate(job.Error, 60))
	}
	return w.Flush()
}

func runJobsRequeue(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	job, err := store.RetryJob(cmd.Context(), core.JobID(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("job %s requeued (capability %s)\n", job.ID, job.Capability)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CancelJob(cmd.Context(), core.JobID(args[0])); err != nil {
		return err
	}
	fmt.Printf("job %s cancelled\n", args[0])
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
