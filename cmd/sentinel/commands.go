package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sentinel/internal/app"
	"sentinel/internal/domain"
	"sentinel/internal/engine"
	"sentinel/internal/repo"
)

func stateCmd() *cobra.Command {
	stCmd := &cobra.Command{Use: "state", Short: "Manage the state document"}
	stCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Summarize the state document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				s := rt.Engine.Snapshot()
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tasks := 0
				for _, sp := range s.Sprints {
					for _, w := range sp.Weeks {
						tasks += len(w.Tasks)
					}
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Field", "Value"})
				tw.AppendRow(table.Row{"User", s.User.Name})
				tw.AppendRow(table.Row{"Authenticated", s.User.IsAuthenticated})
				tw.AppendRow(table.Row{"AI connected", s.User.IsAIConnected})
				tw.AppendRow(table.Row{"Remote link", remoteSummary(s.User)})
				tw.AppendRow(table.Row{"Consequence level", s.ConsequenceLevel})
				tw.AppendRow(table.Row{"Sprints", len(s.Sprints)})
				tw.AppendRow(table.Row{"Tasks", tasks})
				tw.AppendRow(table.Row{"Applications", fmt.Sprintf("%d/%d", s.Metrics.ApplicationsSent, s.Metrics.ApplicationsTarget)})
				tw.AppendRow(table.Row{"Interviews", s.Metrics.Interviews})
				tw.AppendRow(table.Row{"Offers", s.Metrics.Offers})
				tw.AppendRow(table.Row{"Rules", len(s.Rules)})
				tw.AppendRow(table.Row{"Logs", len(s.Logs)})
				tw.Render()
				return nil
			})
		},
	})
	var out string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the state document as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				data, err := rt.Engine.ExportState()
				if err != nil {
					return err
				}
				if out == "-" {
					_, err = os.Stdout.Write(append(data, '\n'))
					return err
				}
				path := out
				if path == "" {
					path = engine.ExportFilename(time.Now())
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return err
				}
				fmt.Println("exported", path)
				return nil
			})
		},
	}
	exportCmd.Flags().StringVarP(&out, "out", "o", "", "output file (- for stdout)")
	stCmd.AddCommand(exportCmd)
	stCmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Replace the state document with a previously exported one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.ImportState(ctx, data); err != nil {
					return err
				}
				fmt.Println("imported", args[0])
				return nil
			})
		},
	})
	stCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Replace the state document with the seed (requires --force)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !viper.GetBool("force") {
				return fmt.Errorf("reset discards all progress; rerun with --force")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.ResetState(ctx); err != nil {
					return err
				}
				fmt.Println("state reset")
				return nil
			})
		},
	})
	return stCmd
}

func remoteSummary(u domain.UserProfile) string {
	if u.RemoteURL == "" {
		return "-"
	}
	if u.IsRemoteConnected {
		return u.RemoteURL + " (connected)"
	}
	return u.RemoteURL + " (disconnected)"
}

func taskCmd() *cobra.Command {
	tCmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tCmd.AddCommand(taskListCmd())
	tCmd.AddCommand(taskAddCmd())
	tCmd.AddCommand(&cobra.Command{
		Use:   "toggle <task-id>",
		Short: "Flip a task between pending and completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return taskAction(cmd, args[0], func(ctx context.Context, e *engine.Engine) error {
				return e.ToggleTask(ctx, args[0])
			})
		},
	})
	var agent, notes, reason string
	verifyCmd := &cobra.Command{
		Use:   "verify <task-id>",
		Short: "Mark a task verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return taskAction(cmd, args[0], func(ctx context.Context, e *engine.Engine) error {
				return e.VerifyTask(ctx, args[0], agent, notes)
			})
		},
	}
	verifyCmd.Flags().StringVar(&agent, "agent", domain.SenderUser, "verifying agent")
	verifyCmd.Flags().StringVar(&notes, "notes", "", "verification notes")
	tCmd.AddCommand(verifyCmd)
	failCmd := &cobra.Command{
		Use:   "fail <task-id>",
		Short: "Mark a task failed and escalate the consequence level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return taskAction(cmd, args[0], func(ctx context.Context, e *engine.Engine) error {
				return e.FailTask(ctx, args[0], agent, reason)
			})
		},
	}
	failCmd.Flags().StringVar(&agent, "agent", domain.SenderUser, "failing agent")
	failCmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	_ = failCmd.MarkFlagRequired("reason")
	tCmd.AddCommand(failCmd)
	tCmd.AddCommand(&cobra.Command{
		Use:   "delete <task-id>",
		Short: "Remove a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if _, err := findTask(rt.Engine.Snapshot(), args[0]); err != nil {
					return err
				}
				if err := rt.Engine.DeleteTask(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	})
	return tCmd
}

func taskListCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Engine.GetTasks(filter)
				if err != nil {
					return err
				}
				return printJSONOrTable(tasks, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Type", "Status", "Due", "Description", "Subtasks"})
					for _, t := range tasks {
						due := t.DueDate
						if due == "" {
							due = "-"
						}
						done := 0
						for _, st := range t.SubTasks {
							if st.IsCompleted {
								done++
							}
						}
						tw.AppendRow(table.Row{t.ID, t.Type, t.Status, due, t.Description, fmt.Sprintf("%d/%d", done, len(t.SubTasks))})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "all", "all, pending, completed or overdue")
	return cmd
}

func taskAddCmd() *cobra.Command {
	var in engine.NewTask
	var taskType string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a week",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Type = domain.TaskType(taskType)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				created, err := rt.Engine.AddTask(ctx, in)
				if err != nil {
					return err
				}
				if created.ID == "" {
					return fmt.Errorf("week not found: %s", in.WeekID)
				}
				return printJSONOrTable(created, func() {
					fmt.Println("created", created.ID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&in.WeekID, "week", "", "week id")
	cmd.Flags().StringVar(&in.Description, "description", "", "task description")
	cmd.Flags().StringVar(&taskType, "type", string(domain.TypeAdmin), "application, certification, portfolio, networking, finance or admin")
	cmd.Flags().StringVar(&in.VerificationCriteria, "criteria", "", "verification criteria")
	cmd.Flags().StringVar(&in.DueDate, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("week")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

// taskAction runs fn against an existing task and prints the task afterwards.
func taskAction(cmd *cobra.Command, taskID string, fn func(context.Context, *engine.Engine) error) error {
	return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
		if _, err := findTask(rt.Engine.Snapshot(), taskID); err != nil {
			return err
		}
		if err := fn(ctx, rt.Engine); err != nil {
			return err
		}
		t, err := findTask(rt.Engine.Snapshot(), taskID)
		if err != nil {
			return err
		}
		return printJSONOrTable(t, func() {
			fmt.Printf("%s %s\n", t.ID, t.Status)
		})
	})
}

func findTask(s *domain.State, id string) (domain.Task, error) {
	for _, sp := range s.Sprints {
		for _, w := range sp.Weeks {
			for _, t := range w.Tasks {
				if t.ID == id {
					return t, nil
				}
			}
		}
	}
	return domain.Task{}, fmt.Errorf("task not found: %s", id)
}

func ruleCmd() *cobra.Command {
	rCmd := &cobra.Command{Use: "rule", Short: "Manage rules"}
	rCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rules := rt.Engine.Snapshot().Rules
				return printJSONOrTable(rules, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Status", "Condition", "Consequence"})
					for _, r := range rules {
						tw.AppendRow(table.Row{r.ID, r.Status, r.Condition, r.Consequence})
					}
					tw.Render()
				})
			})
		},
	})
	var condition, consequence string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add an active rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.AddRule(ctx, condition, consequence)
				if err != nil {
					return err
				}
				return printJSONOrTable(r, func() { fmt.Println("created", r.ID) })
			})
		},
	}
	addCmd.Flags().StringVar(&condition, "condition", "", "rule condition")
	addCmd.Flags().StringVar(&consequence, "consequence", "", "rule consequence")
	_ = addCmd.MarkFlagRequired("condition")
	_ = addCmd.MarkFlagRequired("consequence")
	rCmd.AddCommand(addCmd)
	rCmd.AddCommand(&cobra.Command{
		Use:   "trigger <rule-id>",
		Short: "Trigger a rule's consequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !hasRule(rt.Engine.Snapshot(), args[0]) {
					return fmt.Errorf("rule not found: %s", args[0])
				}
				if err := rt.Engine.TriggerConsequence(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("consequence level", rt.Engine.Snapshot().ConsequenceLevel)
				return nil
			})
		},
	})
	rCmd.AddCommand(&cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Remove a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !hasRule(rt.Engine.Snapshot(), args[0]) {
					return fmt.Errorf("rule not found: %s", args[0])
				}
				return rt.Engine.DeleteRule(ctx, args[0])
			})
		},
	})
	return rCmd
}

func hasRule(s *domain.State, id string) bool {
	for _, r := range s.Rules {
		if r.ID == id {
			return true
		}
	}
	return false
}

func logCmd() *cobra.Command {
	lCmd := &cobra.Command{Use: "log", Short: "System log"}
	var n int
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				logs := rt.Engine.Snapshot().Logs
				if n > 0 && len(logs) > n {
					logs = logs[:n]
				}
				return printJSONOrTable(logs, func() { renderLogs(logs) })
			})
		},
	}
	tailCmd.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")
	lCmd.AddCommand(tailCmd)
	var actor, level string
	addCmd := &cobra.Command{
		Use:   "add <action> <details>",
		Short: "Append a log entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				entry, err := rt.Engine.AddLog(ctx, actor, args[0], args[1], domain.LogLevel(level))
				if err != nil {
					return err
				}
				return printJSONOrTable(entry, func() { fmt.Println("logged", entry.ID) })
			})
		},
	}
	addCmd.Flags().StringVar(&actor, "actor", domain.SenderUser, "actor")
	addCmd.Flags().StringVar(&level, "level", string(domain.LevelInfo), "info, warning, critical or success")
	lCmd.AddCommand(addCmd)
	return lCmd
}

func renderLogs(logs []domain.SystemLog) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Time", "Level", "Actor", "Action", "Details"})
	for _, l := range logs {
		tw.AppendRow(table.Row{l.Timestamp, l.Level, l.Actor, l.Action, l.Details})
	}
	tw.Render()
}

func auditCmd() *cobra.Command {
	aCmd := &cobra.Command{Use: "audit", Short: "Durable audit trail"}
	var n int
	var action string
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Store.ListAudit(ctx, action, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"#", "Time", "Level", "Actor", "Action", "Details"})
					for _, ev := range events {
						tw.AppendRow(table.Row{ev.ID, ev.Timestamp, ev.Level, ev.Actor, ev.Action, ev.Details})
					}
					tw.Render()
				})
			})
		},
	}
	tailCmd.Flags().IntVarP(&n, "lines", "n", 50, "number of events")
	tailCmd.Flags().StringVar(&action, "action", "", "filter by action")
	aCmd.AddCommand(tailCmd)
	return aCmd
}

func apikeyCmd() *cobra.Command {
	kCmd := &cobra.Command{Use: "apikey", Short: "Manage API keys for agents"}
	var actor, name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				key := "sk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				rec := repo.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := rt.Store.Repo.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": rec.ID, "actor_id": actor, "key": key}, func() {
					fmt.Printf("id: %s\nactor: %s\nkey: %s\n", rec.ID, actor, key)
				})
			})
		},
	}
	createCmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	createCmd.Flags().StringVar(&name, "name", "", "label")
	_ = createCmd.MarkFlagRequired("actor")
	kCmd.AddCommand(createCmd)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				keys, err := rt.Store.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
					for _, k := range keys {
						tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
					}
					tw.Render()
				})
			})
		},
	}
	listCmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
	kCmd.AddCommand(listCmd)
	kCmd.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Store.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return kCmd
}

func bridgeCmd() *cobra.Command {
	bCmd := &cobra.Command{Use: "bridge", Short: "Remote bridge command interface"}
	bCmd.AddCommand(&cobra.Command{
		Use:   "actions",
		Short: "List the actions a remote agent may invoke",
		RunE: func(cmd *cobra.Command, args []string) error {
			actions := engine.Actions()
			return printJSONOrTable(actions, func() {
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Action", "Params", "Description"})
				for _, a := range actions {
					params := make([]string, 0, len(a.Params))
					for _, p := range a.Params {
						s := p.Name + ":" + string(p.Kind)
						if p.Optional {
							s += "?"
						}
						params = append(params, s)
					}
					tw.AppendRow(table.Row{a.Name, strings.Join(params, ", "), a.Doc})
				}
				tw.Render()
			})
		},
	})
	bCmd.AddCommand(&cobra.Command{
		Use:   "invoke <action> [json-arg...]",
		Short: "Invoke an action locally, as a remote agent would",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]json.RawMessage, 0, len(args)-1)
			for _, a := range args[1:] {
				if !json.Valid([]byte(a)) {
					return fmt.Errorf("argument is not JSON: %s", a)
				}
				raw = append(raw, json.RawMessage(a))
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Dispatch(ctx, args[0], raw)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"action": args[0], "result": res})
			})
		},
	})
	return bCmd
}

func printJSONOrTable(v any, render func()) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	render()
	return nil
}
