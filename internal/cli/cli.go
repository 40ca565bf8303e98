package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Balli0706/automotive-pim-dam/internal/log"
	internal_storage "github.com/Balli0706/automotive-pim-dam/internal/storage"
	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/service"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

type services struct {
	store    *internal_storage.PostgresStore
	registry *service.RegistryService
	engine   *service.WorkflowService
	tasks    *service.TaskService
	audit    *service.AuditService
}

func initServices(cmd *cobra.Command) *services {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	logger := log.GetLogger()
	registry := service.NewRegistryService(store, logger)
	return &services{
		store:    store,
		registry: registry,
		engine:   service.NewWorkflowService(store, registry, nil, nil, logger),
		tasks:    service.NewTaskService(store, logger),
		audit:    service.NewAuditService(store, logger),
	}
}

func SetupCLI(rootCmd *cobra.Command) {
	registerCmd := &cobra.Command{
		Use:   "register [file]",
		Short: "Register a workflow definition from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svcs := initServices(cmd)
			defer svcs.store.Close()
			def, err := service.LoadDefinitionFile(args[0])
			if err != nil {
				fail("load definition: %v", err)
			}
			if err := svcs.registry.Register(def); err != nil {
				fail("register definition: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Registered definition '%s' (version %d)\n", def.ID, def.Version)
		},
	}

	definitionsCmd := &cobra.Command{
		Use:   "definitions",
		Short: "List registered workflow definitions",
		Run: func(cmd *cobra.Command, args []string) {
			svcs := initServices(cmd)
			defer svcs.store.Close()
			defs, err := svcs.registry.List()
			if err != nil {
				fail("list definitions: %v", err)
			}
			if len(defs) == 0 {
				fmt.Fprintln(os.Stdout, "No definitions found.")
				return
			}
			for _, d := range defs {
				fmt.Fprintf(os.Stdout, "- %s (version %d, %d stages): %s\n", d.ID, d.Version, len(d.Stages), d.Name)
			}
		},
	}

	startCmd := &cobra.Command{
		Use:   "start [definition-id] [entity-kind] [entity-id]",
		Short: "Start a workflow run for an entity",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			initiator, _ := cmd.Flags().GetString("by")
			svcs := initServices(cmd)
			defer svcs.store.Close()
			run, err := svcs.engine.Start(context.Background(), args[0], args[1], args[2], initiator)
			if err != nil {
				fail("start run: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Started run %s at stage '%s' (%s)\n", run.ID, run.CurrentStage, run.Status)
		},
	}
	startCmd.Flags().String("by", "cli", "Initiator recorded on the run")

	resolveCmd := &cobra.Command{
		Use:   "resolve [task-id] [outcome]",
		Short: "Resolve a pending task (approve, reject, request-changes)",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			actor, _ := cmd.Flags().GetString("actor")
			role, _ := cmd.Flags().GetString("role")
			note, _ := cmd.Flags().GetString("note")
			if actor == "" || role == "" {
				fail("--actor and --role are required")
			}
			svcs := initServices(cmd)
			defer svcs.store.Close()
			run, err := svcs.engine.ResolveTask(context.Background(), args[0], actor, models.Role(role), models.Outcome(args[1]), note)
			if err != nil {
				fail("resolve task: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Run %s now at stage '%s' (%s)\n", run.ID, run.CurrentStage, run.Status)
		},
	}
	resolveCmd.Flags().String("actor", "", "User resolving the task")
	resolveCmd.Flags().String("role", "", "Role of the actor")
	resolveCmd.Flags().String("note", "", "Optional note recorded in the audit log")

	cancelCmd := &cobra.Command{
		Use:   "cancel [run-id]",
		Short: "Cancel an active workflow run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			actor, _ := cmd.Flags().GetString("actor")
			reason, _ := cmd.Flags().GetString("reason")
			svcs := initServices(cmd)
			defer svcs.store.Close()
			run, err := svcs.engine.Cancel(context.Background(), args[0], actor, reason)
			if err != nil {
				fail("cancel run: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Cancelled run %s at stage '%s'\n", run.ID, run.CurrentStage)
		},
	}
	cancelCmd.Flags().String("actor", "cli", "User cancelling the run")
	cancelCmd.Flags().String("reason", "", "Reason recorded in the audit log")

	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks, optionally filtered by role and status",
		Run: func(cmd *cobra.Command, args []string) {
			role, _ := cmd.Flags().GetString("role")
			status, _ := cmd.Flags().GetString("status")
			assignee, _ := cmd.Flags().GetString("assignee")
			svcs := initServices(cmd)
			defer svcs.store.Close()
			tasks, err := svcs.tasks.ListTasks(storage.TaskFilter{
				Role:     models.Role(role),
				Status:   models.TaskStatus(status),
				Assignee: assignee,
			})
			if err != nil {
				fail("list tasks: %v", err)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(os.Stdout, "No tasks found.")
				return
			}
			for _, t := range tasks {
				fmt.Fprintf(os.Stdout, "- %s run=%s stage=%s role=%s status=%s created=%s\n",
					t.ID, t.RunID, t.StageID, t.Role, t.Status, t.CreatedAt.Format(time.RFC3339))
			}
		},
	}
	tasksCmd.Flags().String("role", "", "Filter by required role")
	tasksCmd.Flags().String("status", string(models.PendingTaskStatus), "Filter by status")
	tasksCmd.Flags().String("assignee", "", "Filter by assigned user")

	auditCmd := &cobra.Command{
		Use:   "audit [run-id]",
		Short: "Print the audit history of a run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svcs := initServices(cmd)
			defer svcs.store.Close()
			entries, err := svcs.audit.Query(args[0], 0, 0)
			if err != nil {
				fail("query audit log: %v", err)
			}
			for _, e := range entries {
				fmt.Fprintf(os.Stdout, "%d %s stage=%s actor=%s outcome=%s %s\n",
					e.ID, e.CreatedAt.Format(time.RFC3339), e.StageID, e.Actor, e.Outcome, e.Note)
			}
		},
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair runs left inconsistent by an interrupted commit",
		Run: func(cmd *cobra.Command, args []string) {
			svcs := initServices(cmd)
			defer svcs.store.Close()
			if err := svcs.engine.Reconcile(context.Background()); err != nil {
				fail("reconcile: %v", err)
			}
			fmt.Fprintln(os.Stdout, "Reconcile complete")
		},
	}

	rootCmd.AddCommand(registerCmd, definitionsCmd, startCmd, resolveCmd, cancelCmd, tasksCmd, auditCmd, reconcileCmd)
}

func fail(format string, args ...interface{}) {
	log.GetLogger().Errorf(format, args...)
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
