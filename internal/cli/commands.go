package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
)

// DefaultFollowInterval is the poll interval of events --follow
const DefaultFollowInterval = 2 * time.Second

// NewCommands returns every genflowctl subcommand
func NewCommands(clientFn func() *Client, outputFn func() *Output) []*cobra.Command {
	return []*cobra.Command{
		newStartCmd(clientFn, outputFn),
		newStatusCmd(clientFn, outputFn),
		newCancelCmd(clientFn, outputFn),
		newRetryCmd(clientFn, outputFn),
		newListCmd(clientFn, outputFn),
		newEventsCmd(clientFn, outputFn),
		newMetricsCmd(clientFn, outputFn),
		newPipelinesCmd(clientFn, outputFn),
	}
}

func newStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipelineID string
	var prd string
	var prdType string
	var data []string
	var webhooks []string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a process",
		Long: "Start a process. With --prd, one process is started per file matching\n" +
			"the pattern (for example docs/**/*.md).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			initial, err := parseKeyValues(data)
			if err != nil {
				return err
			}

			base := StartRequest{
				PipelineID: pipelineID,
				PRDType:    prdType,
				Webhooks:   webhooks,
			}

			var requests []StartRequest
			if prd == "" {
				req := base
				req.Data = initial
				requests = append(requests, req)
			} else {
				files, err := doublestar.FilepathGlob(prd, doublestar.WithFilesOnly())
				if err != nil {
					return fmt.Errorf("invalid --prd pattern: %w", err)
				}
				if len(files) == 0 {
					return fmt.Errorf("no files match %q", prd)
				}
				for _, file := range files {
					content, err := os.ReadFile(file)
					if err != nil {
						return fmt.Errorf("failed to read %s: %w", file, err)
					}
					req := base
					req.Data = cloneData(initial)
					req.Data["source"] = file
					req.PRDContent = string(content)
					requests = append(requests, req)
				}
			}

			started := make([]*StartResponse, 0, len(requests))
			rows := make([][]string, 0, len(requests))
			for _, req := range requests {
				resp, err := client.Start(cmd.Context(), req)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Process started: %s", resp.ProcessID))
				started = append(started, resp)
				rows = append(rows, []string{resp.ProcessID, resp.PipelineID, resp.Status, formatTime(resp.EstimatedCompletion)})
			}

			var jsonData any = started
			if len(started) == 1 {
				jsonData = started[0]
			}
			out.Print([]string{"ID", "PIPELINE", "STATUS", "ESTIMATED_COMPLETION"}, rows, jsonData)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "Pipeline ID (server default if not specified)")
	cmd.Flags().StringVar(&prd, "prd", "", "PRD file or glob pattern")
	cmd.Flags().StringVar(&prdType, "prd-type", "", "PRD document type (text, markdown, ...)")
	cmd.Flags().StringSliceVar(&data, "data", nil, "Initial data as KEY=VALUE (repeatable)")
	cmd.Flags().StringSliceVar(&webhooks, "webhook", nil, "Webhook URL (repeatable)")

	return cmd
}

func newStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show process status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			view, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(view)
				return nil
			}

			out.Table(
				[]string{"ID", "PIPELINE", "STATUS", "PROGRESS", "CURRENT_STEP", "DURATION", "REMAINING"},
				[][]string{{
					view.ID, view.PipelineID, string(view.Status),
					strconv.Itoa(view.Progress) + "%", view.CurrentStep,
					formatMillis(view.DurationMs), formatMillis(view.EstimatedTimeRemaining),
				}},
			)

			rows := make([][]string, len(view.Steps))
			for i, s := range view.Steps {
				var duration string
				if s.DurationMs != nil {
					duration = formatMillis(*s.DurationMs)
				}
				rows[i] = []string{s.ID, string(s.Status), strconv.FormatBool(s.Required), strconv.Itoa(s.RetryCount), duration, s.Error}
			}
			out.Table([]string{"STEP", "STATUS", "REQUIRED", "RETRIES", "DURATION", "ERROR"}, rows)

			if view.FailureReason != "" {
				out.Error(view.FailureReason)
			}
			return nil
		},
	}
}

func newCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Process cancelled: %s", args[0]))
			return nil
		},
	}
}

func newRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID STEP",
		Short: "Retry a failed step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.Retry(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Step %s retried", resp.StepID))
			var status, progress string
			if resp.Status != nil {
				status = string(resp.Status.Status)
				progress = strconv.Itoa(resp.Status.Progress) + "%"
			}
			out.Print(
				[]string{"ID", "STEP", "STATUS", "PROGRESS"},
				[][]string{{resp.ProcessID, resp.StepID, status, progress}},
				resp,
			)
			return nil
		},
	}
}

func newListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			processes, err := client.List(cmd.Context())
			if err != nil {
				return err
			}

			if status != "" {
				filtered := processes[:0]
				for _, p := range processes {
					if strings.EqualFold(string(p.Status), status) {
						filtered = append(filtered, p)
					}
				}
				processes = filtered
			}

			rows := make([][]string, len(processes))
			for i, p := range processes {
				rows[i] = []string{
					p.ID, p.PipelineID, string(p.Status), strconv.Itoa(p.Progress) + "%",
					p.CurrentStep, formatMillis(p.DurationMs), strconv.Itoa(p.ErrorCount), formatTime(p.StartTime),
				}
			}
			out.Print([]string{"ID", "PIPELINE", "STATUS", "PROGRESS", "CURRENT_STEP", "DURATION", "ERRORS", "STARTED"}, rows, processes)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running, completed, failed)")

	return cmd
}

func newEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var lastEventID int64
	var follow bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "events ID",
		Short: "Show process events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()
			ctx := cmd.Context()
			id := args[0]

			if !follow {
				resp, err := client.Events(ctx, id, lastEventID)
				if err != nil {
					return err
				}
				out.Print(eventHeaders, eventRows(resp.Events), resp.Events)
				return nil
			}

			since := lastEventID
			for {
				resp, err := client.Events(ctx, id, since)
				if err != nil {
					return err
				}
				for _, e := range resp.Events {
					if out.JSONMode() {
						out.JSON(e)
					} else {
						out.Table(eventHeaders, eventRows([]domain.Event{e}))
					}
					since = e.ID
					if e.Type.IsTerminal() {
						return nil
					}
				}

				if len(resp.Events) == 0 {
					view, err := client.Status(ctx, id)
					if err != nil {
						return err
					}
					if view.Status.IsTerminal() {
						return nil
					}
				}

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().Int64Var(&lastEventID, "last-event-id", 0, "Only show events after this ID")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling until the process finishes")
	cmd.Flags().DurationVar(&interval, "interval", DefaultFollowInterval, "Poll interval with --follow")

	return cmd
}

func newMetricsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show orchestrator metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			m, err := client.Metrics(cmd.Context())
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(m)
				return nil
			}

			out.Table(
				[]string{"TOTAL", "COMPLETED", "FAILED", "ACTIVE", "SUCCESS_RATE", "AVG_COMPLETION"},
				[][]string{{
					strconv.Itoa(m.TotalProcesses), strconv.Itoa(m.CompletedProcesses),
					strconv.Itoa(m.FailedProcesses), strconv.Itoa(m.ActiveProcesses),
					fmt.Sprintf("%.1f%%", m.SuccessRate), formatMillis(int64(m.AverageCompletionTimeMs)),
				}},
			)

			rows := make([][]string, 0, len(m.Steps))
			for _, id := range sortedKeys(m.Steps) {
				s := m.Steps[id]
				rows = append(rows, []string{
					id, strconv.Itoa(s.TotalExecutions), strconv.Itoa(s.SuccessfulExecutions),
					formatMillis(int64(s.AverageDurationMs)), fmt.Sprintf("%.1f%%", s.ErrorRate*100),
				})
			}
			out.Table([]string{"STEP", "EXECUTIONS", "SUCCESSFUL", "AVG_DURATION", "ERROR_RATE"}, rows)
			return nil
		},
	}
}

func newPipelinesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List available pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.Pipelines(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = []string{p.ID, p.Name, strconv.Itoa(len(p.Steps)), p.EstimatedDuration().String()}
			}
			out.Print([]string{"ID", "NAME", "STEPS", "ESTIMATED"}, rows, pipelines)
			return nil
		},
	}
}
