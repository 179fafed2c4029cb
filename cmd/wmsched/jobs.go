package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"wmsched/internal/app"
	"wmsched/internal/job"
	"wmsched/internal/task"
	"wmsched/internal/trigger"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and edit the jobs file",
	}
	cmd.AddCommand(newJobsListCmd(opts), newJobsAddCmd(opts), newJobsRemoveCmd(opts))
	return cmd
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tool, err := app.OpenJobsTool(opts.configPath, opts.logger())
			if err != nil {
				return err
			}
			defer tool.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTASK\tTRIGGER\tTASK SETTINGS")
			for _, j := range tool.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.Task.Name(), describeTrigger(j), formatSettings(j.Task.Settings()))
			}
			return tw.Flush()
		},
	}
}

func describeTrigger(j *job.Job) string {
	s := j.Trigger.Settings()
	switch j.Trigger.Name() {
	case trigger.CronTriggerName:
		return "cron " + strconv.Quote(s[trigger.SettingCron])
	case trigger.EventTriggerName:
		if id, err := strconv.Atoi(strings.TrimSpace(s[trigger.SettingEvent])); err == nil {
			return "event " + trigger.EventName(id)
		}
		return "event " + strconv.Quote(s[trigger.SettingEvent])
	}
	return j.Trigger.Name() + " " + formatSettings(s)
}

func formatSettings(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for _, k := range task.SettingKeys(m) {
		v := m[k]
		if strings.Contains(strings.ToLower(k), "password") {
			v = "***"
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func newJobsAddCmd(opts *rootOptions) *cobra.Command {
	var (
		id          string
		taskName    string
		taskSet     []string
		triggerName string
		triggerSet  []string
		cronExpr    string
		eventID     int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a job (or replace the job with the same --id)",
		Example: `  wmsched jobs add --task DeleteBackupsTask --set backupPath=/opt/wm_inst/backup --set TimeToLiveDays=14 --cron "0 3 * * *"
  wmsched jobs add --task ExportProductTask --set TargetIpAddress=10.0.0.5 ... --event 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobID := uuid.Nil
			if id != "" {
				parsed, err := uuid.Parse(id)
				if err != nil {
					return fmt.Errorf("--id: %w", err)
				}
				jobID = parsed
			}
			ts, err := parseSettings(taskSet)
			if err != nil {
				return err
			}
			trs, err := parseSettings(triggerSet)
			if err != nil {
				return err
			}
			switch {
			case cmd.Flags().Changed("cron"):
				triggerName = trigger.CronTriggerName
				trs[trigger.SettingCron] = cronExpr
			case cmd.Flags().Changed("event"):
				triggerName = trigger.EventTriggerName
				trs[trigger.SettingEvent] = strconv.Itoa(eventID)
			}
			if triggerName == "" {
				return fmt.Errorf("one of --cron, --event or --trigger is required")
			}

			tool, err := app.OpenJobsTool(opts.configPath, opts.logger())
			if err != nil {
				return err
			}
			defer tool.Close()
			j, err := tool.Add(jobID, taskName, ts, triggerName, trs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", j.ID, tool.Path())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "job id (default: new random id)")
	f.StringVar(&taskName, "task", "", "task name ("+strings.Join(taskNames(), ", ")+")")
	f.StringArrayVar(&taskSet, "set", nil, "task setting key=value (repeatable)")
	f.StringVar(&triggerName, "trigger", "", "trigger name (CronTrigger, EventTrigger)")
	f.StringArrayVar(&triggerSet, "trigger-set", nil, "trigger setting key=value (repeatable)")
	f.StringVar(&cronExpr, "cron", "", "shorthand for --trigger CronTrigger --trigger-set cron=EXPR")
	f.IntVar(&eventID, "event", 0, "shorthand for --trigger EventTrigger --trigger-set event=ID")
	_ = cmd.MarkFlagRequired("task")
	cmd.MarkFlagsMutuallyExclusive("cron", "event", "trigger")
	return cmd
}

func taskNames() []string {
	names := []string{
		task.BackupLocalDirectoryName, task.BackupToRemoteName, task.DeleteBackupsName,
		task.TransferFileName, task.TransferDirectoryName, task.ExportProductName, task.ProgramName,
	}
	sort.Strings(names)
	return names
}

func parseSettings(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("setting %q: want key=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func newJobsRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a job by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			tool, err := app.OpenJobsTool(opts.configPath, opts.logger())
			if err != nil {
				return err
			}
			defer tool.Close()
			ok, err := tool.Remove(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no job %s in %s", id, tool.Path())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", id, tool.Path())
			return nil
		},
	}
}
