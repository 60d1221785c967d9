// Command copydesk is the operator CLI for the content pipeline coordinator.
// It loads backlog files, runs scheduling cycles, and surfaces queue, agent,
// and escalation state. Worker processes use the report subcommand to submit
// status and deliverables.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"copydesk/pkg/backlog"
	"copydesk/pkg/config"
	"copydesk/pkg/escalation"
	"copydesk/pkg/eventlog"
	"copydesk/pkg/gate"
	"copydesk/pkg/logx"
	"copydesk/pkg/metrics"
	"copydesk/pkg/monitor"
	"copydesk/pkg/orchestrator"
	"copydesk/pkg/persistence"
	"copydesk/pkg/queue"
	"copydesk/pkg/webapi"
)

// Exit codes. The stalled code lets wrappers distinguish "nothing to do right
// now" from "nothing can ever be done without intervention".
const (
	exitOK      = 0
	exitError   = 1
	exitStalled = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitError)
	}

	var err error
	switch os.Args[1] {
	case "load":
		err = cmdLoad(os.Args[2:])
	case "cycle":
		os.Exit(cmdCycle(os.Args[2:]))
	case "serve":
		err = cmdServe(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "escalations":
		err = cmdEscalations(os.Args[2:])
	case "resolve":
		err = cmdResolve(os.Args[2:])
	case "report":
		err = cmdReport(os.Args[2:])
	case "throughput":
		err = cmdThroughput(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(exitError)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "copydesk - content pipeline coordinator\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  %s load -backlog <file.yaml> [-project <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s cycle [-project <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s serve [-interval <duration>] [-host <host>] [-port <port>] [-project <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s status [-project <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s escalations [-project <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s resolve -id <ESC-N> [-notes <text>] [-project <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s report -role <role> -task <id> -state <state> [-deliverable <file.json>] [-project <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s throughput [-window <duration>] [-project <dir>]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  load         Parse a backlog YAML file and enqueue pipeline tasks per story\n")
	fmt.Fprintf(os.Stderr, "  cycle        Run one scheduling cycle (exit 2 when the queue is stalled)\n")
	fmt.Fprintf(os.Stderr, "  serve        Run cycles continuously with a status and metrics HTTP server\n")
	fmt.Fprintf(os.Stderr, "  status       Show queue and worker status\n")
	fmt.Fprintf(os.Stderr, "  escalations  List unresolved escalations\n")
	fmt.Fprintf(os.Stderr, "  resolve      Resolve an escalation and release its story\n")
	fmt.Fprintf(os.Stderr, "  report       Submit a worker status report (worker-side interface)\n")
	fmt.Fprintf(os.Stderr, "  throughput   Query gate decision throughput from Prometheus\n")
}

// openProject loads config and opens the project database.
func openProject(projectDir string) (*config.Config, *sql.DB, *persistence.DatabaseOperations, error) {
	if err := config.LoadConfig(projectDir); err != nil {
		return nil, nil, nil, logx.Wrap(err, "load config")
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := persistence.InitializeDatabase(cfg.DatabasePath())
	if err != nil {
		return nil, nil, nil, logx.Wrap(err, "open database")
	}
	return cfg, db, persistence.NewDatabaseOperations(db), nil
}

// buildCoordinator restores the queue, monitor, and escalation manager from
// the database and wires them into an orchestrator.
func buildCoordinator(cfg *config.Config, ops *persistence.DatabaseOperations) (*orchestrator.Orchestrator, *queue.Queue, *monitor.Monitor, *escalation.Manager, *eventlog.Writer, error) {
	q, err := queue.NewQueue(cfg.Pipeline, ops)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	tasks, err := ops.LoadTasks()
	if err != nil {
		return nil, nil, nil, nil, nil, logx.Wrap(err, "load tasks")
	}
	q.Restore(tasks)

	m, err := monitor.NewMonitor(cfg.Pipeline, ops)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	statuses, err := ops.LoadAgentStatus()
	if err != nil {
		return nil, nil, nil, nil, nil, logx.Wrap(err, "load agent status")
	}
	m.Restore(statuses)

	esc := escalation.NewManager(ops)
	escalations, err := ops.LoadEscalations()
	if err != nil {
		return nil, nil, nil, nil, nil, logx.Wrap(err, "load escalations")
	}
	esc.Restore(escalations)

	events, err := eventlog.NewWriter(cfg.LogDir(), cfg.EventLogRotationHours)
	if err != nil {
		return nil, nil, nil, nil, nil, logx.Wrap(err, "open event log")
	}

	orch := orchestrator.New(q, m, esc, ops, ops, nil, metrics.NewRecorder(), events)
	return orch, q, m, esc, events, nil
}

func cmdLoad(args []string) error {
	flagSet := flag.NewFlagSet("load", flag.ExitOnError)
	backlogPath := flagSet.String("backlog", "", "Backlog YAML file to load")
	projectDir := flagSet.String("project", ".", "Project directory")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *backlogPath == "" {
		return fmt.Errorf("load requires -backlog")
	}

	file, err := backlog.Load(*backlogPath)
	if err != nil {
		return err
	}

	cfg, db, ops, err := openProject(*projectDir)
	if err != nil {
		return err
	}
	defer db.Close()

	q, err := queue.NewQueue(cfg.Pipeline, ops)
	if err != nil {
		return err
	}
	tasks, err := ops.LoadTasks()
	if err != nil {
		return err
	}
	q.Restore(tasks)

	loaded, skipped := 0, 0
	for i := range file.Stories {
		story := &file.Stories[i]
		if _, exists := q.Get(queue.TaskID(story.ID, 1)); exists {
			logx.Infof("story %s already enqueued, skipping", story.ID)
			continue
		}
		if err := ops.UpsertStory(story); err != nil {
			return logx.Wrap(err, "save story "+story.ID)
		}
		created, err := q.Decompose(story)
		if err != nil {
			logx.Warnf("story %s not ready: %v", story.ID, err)
			skipped++
			continue
		}
		loaded++
		fmt.Printf("story %s: %d tasks enqueued\n", story.ID, len(created))
	}

	fmt.Printf("loaded %d stories (%d skipped) from %s\n", loaded, skipped, *backlogPath)
	return nil
}

func cmdCycle(args []string) int {
	flagSet := flag.NewFlagSet("cycle", flag.ExitOnError)
	projectDir := flagSet.String("project", ".", "Project directory")
	if err := flagSet.Parse(args); err != nil {
		return exitError
	}

	cfg, db, ops, err := openProject(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	defer db.Close()

	orch, _, _, _, events, err := buildCoordinator(cfg, ops)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	defer events.Close()

	report, err := orch.RunCycle(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	if report.Stalled {
		fmt.Fprintf(os.Stderr, "queue stalled: %s\n", report.StallReason)
		return exitStalled
	}
	return exitOK
}

func cmdServe(args []string) error {
	flagSet := flag.NewFlagSet("serve", flag.ExitOnError)
	interval := flagSet.Duration("interval", 30*time.Second, "Delay between scheduling cycles")
	host := flagSet.String("host", "localhost", "Status server bind host")
	port := flagSet.Int("port", 8765, "Status server bind port")
	projectDir := flagSet.String("project", ".", "Project directory")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, db, ops, err := openProject(*projectDir)
	if err != nil {
		return err
	}
	defer db.Close()

	orch, q, m, esc, events, err := buildCoordinator(cfg, ops)
	if err != nil {
		return err
	}
	defer events.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	webapi.NewServer(q, m, esc).StartServer(ctx, *host, *port)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		report, err := orch.RunCycle(ctx)
		if err != nil {
			logx.Errorf("cycle failed: %v", err)
		} else if report.Stalled {
			logx.Warnf("queue stalled: %s", report.StallReason)
		}

		select {
		case <-ctx.Done():
			logx.Infof("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func cmdStatus(args []string) error {
	flagSet := flag.NewFlagSet("status", flag.ExitOnError)
	projectDir := flagSet.String("project", ".", "Project directory")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, db, ops, err := openProject(*projectDir)
	if err != nil {
		return err
	}
	defer db.Close()

	_, q, m, esc, events, err := buildCoordinator(cfg, ops)
	if err != nil {
		return err
	}
	defer events.Close()

	fmt.Println("Tasks:")
	for _, status := range []queue.TaskStatus{
		queue.StatusPending, queue.StatusAssigned, queue.StatusInProgress,
		queue.StatusBlocked, queue.StatusComplete, queue.StatusFailed,
	} {
		tasks := q.ByStatus(status)
		if len(tasks) == 0 {
			continue
		}
		ids := make([]string, 0, len(tasks))
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
		fmt.Printf("  %-12s %3d  %s\n", status, len(tasks), strings.Join(ids, " "))
	}

	fmt.Println("Agents:")
	for _, status := range m.All() {
		line := fmt.Sprintf("  %-16s %s", status.Role, status.State)
		if status.CurrentTaskID != "" {
			line += "  " + status.CurrentTaskID
		}
		fmt.Println(line)
	}

	if unresolved := esc.Unresolved(); len(unresolved) > 0 {
		fmt.Printf("Escalations: %d unresolved (run %s escalations)\n", len(unresolved), os.Args[0])
	}
	return nil
}

func cmdEscalations(args []string) error {
	flagSet := flag.NewFlagSet("escalations", flag.ExitOnError)
	projectDir := flagSet.String("project", ".", "Project directory")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	_, db, ops, err := openProject(*projectDir)
	if err != nil {
		return err
	}
	defer db.Close()

	manager := escalation.NewManager(ops)
	escalations, err := ops.LoadEscalations()
	if err != nil {
		return err
	}
	manager.Restore(escalations)

	unresolved := manager.Unresolved()
	if len(unresolved) == 0 {
		fmt.Println("no unresolved escalations")
		return nil
	}
	for _, esc := range unresolved {
		fmt.Printf("%s  story=%s  type=%s  opened=%s\n", esc.ID, esc.StoryID, esc.Type, esc.CreatedAt.Format(time.RFC3339))
		fmt.Printf("    question: %s\n", esc.Question)
		if esc.Recommendation != "" {
			fmt.Printf("    recommendation: %s\n", esc.Recommendation)
		}
	}
	return nil
}

func cmdResolve(args []string) error {
	flagSet := flag.NewFlagSet("resolve", flag.ExitOnError)
	id := flagSet.String("id", "", "Escalation id (ESC-N)")
	notes := flagSet.String("notes", "", "Resolution notes")
	projectDir := flagSet.String("project", ".", "Project directory")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("resolve requires -id")
	}

	_, db, ops, err := openProject(*projectDir)
	if err != nil {
		return err
	}
	defer db.Close()

	manager := escalation.NewManager(ops)
	escalations, err := ops.LoadEscalations()
	if err != nil {
		return err
	}
	manager.Restore(escalations)

	resolution := *notes
	if resolution == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		esc, ok := manager.Get(*id)
		if !ok {
			return fmt.Errorf("escalation %s not found", *id)
		}
		fmt.Printf("%s: %s\n", esc.ID, esc.Question)
		fmt.Print("resolution notes: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			resolution = strings.TrimSpace(scanner.Text())
		}
	}

	if err := manager.Resolve(*id, resolution); err != nil {
		return err
	}
	esc, _ := manager.Get(*id)
	fmt.Printf("%s resolved; story %s released\n", *id, esc.StoryID)
	return nil
}

func cmdReport(args []string) error {
	flagSet := flag.NewFlagSet("report", flag.ExitOnError)
	role := flagSet.String("role", "", "Worker role reporting status")
	taskID := flagSet.String("task", "", "Task id the report concerns")
	stateStr := flagSet.String("state", "", "Reported state: in_progress, complete, or blocked")
	deliverablePath := flagSet.String("deliverable", "", "Deliverable JSON file (required for complete)")
	projectDir := flagSet.String("project", ".", "Project directory")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *role == "" || *taskID == "" || *stateStr == "" {
		return fmt.Errorf("report requires -role, -task and -state")
	}

	state := monitor.AgentState(*stateStr)
	switch state {
	case monitor.StateInProgress, monitor.StateComplete, monitor.StateBlocked:
	default:
		return fmt.Errorf("invalid state %q", *stateStr)
	}

	cfg, db, ops, err := openProject(*projectDir)
	if err != nil {
		return err
	}
	defer db.Close()

	if !knownRole(cfg, *role) {
		return fmt.Errorf("unknown role %q", *role)
	}

	if state == monitor.StateInProgress {
		// A worker picking up its assignment is the only transition the
		// coordinator cannot observe on its own.
		q, err := queue.NewQueue(cfg.Pipeline, ops)
		if err != nil {
			return err
		}
		tasks, err := ops.LoadTasks()
		if err != nil {
			return logx.Wrap(err, "load tasks")
		}
		q.Restore(tasks)
		if err := q.UpdateStatus(*taskID, queue.StatusInProgress); err != nil {
			return logx.Wrap(err, "mark task in progress")
		}
	}

	if state == monitor.StateComplete {
		if *deliverablePath == "" {
			return fmt.Errorf("complete reports require -deliverable")
		}
		data, err := os.ReadFile(*deliverablePath)
		if err != nil {
			return logx.Wrap(err, "read deliverable")
		}
		var d gate.Deliverable
		if err := json.Unmarshal(data, &d); err != nil {
			return logx.Wrap(err, "parse deliverable")
		}
		d.TaskID = *taskID
		d.AgentRole = *role
		if d.SubmittedAt.IsZero() {
			d.SubmittedAt = time.Now().UTC()
		}
		if err := ops.SaveDeliverable(&d); err != nil {
			return logx.Wrap(err, "save deliverable")
		}
	}

	status := &monitor.AgentStatus{
		Role:          *role,
		State:         state,
		CurrentTaskID: *taskID,
		Processed:     false,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := ops.SaveAgentStatus(status); err != nil {
		return logx.Wrap(err, "save agent status")
	}

	fmt.Printf("%s reported %s on %s\n", *role, state, *taskID)
	return nil
}

// knownRole reports whether the role appears in the routing table.
func knownRole(cfg *config.Config, role string) bool {
	for _, r := range cfg.Pipeline.AllRoles() {
		if r == role {
			return true
		}
	}
	return false
}

func cmdThroughput(args []string) error {
	flagSet := flag.NewFlagSet("throughput", flag.ExitOnError)
	window := flagSet.Duration("window", time.Hour, "Query window")
	projectDir := flagSet.String("project", ".", "Project directory")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if err := config.LoadConfig(*projectDir); err != nil {
		return err
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	service, err := metrics.NewQueryService(cfg.PrometheusURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := service.GetThroughput(ctx, *window)
	if err != nil {
		return logx.Wrap(err, "query throughput")
	}
	fmt.Printf("window %s: approved=%d escalated=%d rejected=%d dispatched=%d\n",
		*window, report.Approved, report.Escalated, report.Rejected, report.Dispatched)

	byRole, err := service.GetDispatchesByRole(ctx, *window)
	if err != nil {
		return logx.Wrap(err, "query dispatches by role")
	}
	for role, count := range byRole {
		fmt.Printf("  %-16s %d\n", role, count)
	}
	return nil
}
