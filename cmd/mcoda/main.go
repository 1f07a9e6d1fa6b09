package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bekirdag/mcoda/internal/config"
	"github.com/bekirdag/mcoda/internal/job"
	"github.com/bekirdag/mcoda/internal/jobstore"
	"github.com/bekirdag/mcoda/internal/routing"
	"github.com/bekirdag/mcoda/internal/setup"
	"github.com/bekirdag/mcoda/internal/status"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "jobs":
		runJobs(os.Args[2:])
	case "routing":
		runRouting(os.Args[2:])
	case "version":
		fmt.Printf("mcoda %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mcoda setup <workspace_dir> [--workspace-id <id>]")
		os.Exit(1)
	}
	dir := args[0]
	workspaceID := ""
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--workspace-id":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--workspace-id requires a value")
				os.Exit(1)
			}
			workspaceID = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: mcoda setup <workspace_dir> [--workspace-id <id>]\n", args[i])
			os.Exit(1)
		}
	}

	if err := setup.Run(dir, workspaceID); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized .mcoda/ in %s\n", absDir)
}

func runJobs(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mcoda jobs <list|show|tail> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		runJobsList(args[1:])
	case "show":
		runJobsShow(args[1:])
	case "tail":
		runJobsTail(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: mcoda jobs <list|show|tail> [options]")
		os.Exit(1)
	}
}

func runJobsList(args []string) {
	jsonOutput := false
	limit := 50
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--json":
			jsonOutput = true
		case "--limit":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--limit requires a value")
				os.Exit(1)
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				fmt.Fprintf(os.Stderr, "invalid --limit: %s\n", args[i])
				os.Exit(1)
			}
			limit = n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: mcoda jobs list [--json] [--limit <n>]\n", args[i])
			os.Exit(1)
		}
	}

	root, cfg := mustWorkspace()
	store := mustStore(cfg)
	defer store.Close()

	summary, err := status.Summarize(context.Background(), root, store, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs list: %v\n", err)
		os.Exit(1)
	}
	if err := status.Render(os.Stdout, summary, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "jobs list: %v\n", err)
		os.Exit(1)
	}
}

func runJobsShow(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mcoda jobs show <job_id>")
		os.Exit(1)
	}
	jobID := args[0]

	root, _ := mustWorkspace()
	loaded, err := job.LoadCheckpoint(root, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs show: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(loaded); err != nil {
		fmt.Fprintf(os.Stderr, "jobs show: %v\n", err)
		os.Exit(1)
	}
}

func runJobsTail(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mcoda jobs tail <job_id>")
		os.Exit(1)
	}
	jobID := args[0]

	root, _ := mustWorkspace()
	watcher, err := job.WatchCheckpoints(root, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs tail: %v\n", err)
		os.Exit(1)
	}
	defer watcher.Close()

	fmt.Fprintf(os.Stderr, "watching checkpoints for %s\n", jobID)
	for path := range watcher.Checkpoints() {
		loaded, err := job.LoadCheckpoint(root, jobID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			continue
		}
		fmt.Printf("seq=%d stage=%s status=%s\n", loaded.Seq, loaded.Stage, loaded.Status)
	}
}

func runRouting(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mcoda routing <resolve|defaults|set-defaults> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "resolve":
		runRoutingResolve(args[1:])
	case "defaults":
		runRoutingDefaults(args[1:])
	case "set-defaults":
		runRoutingSetDefaults(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown routing subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: mcoda routing <resolve|defaults|set-defaults> [options]")
		os.Exit(1)
	}
}

func runRoutingResolve(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mcoda routing resolve <command> [--task-type <t>] [--agent <slug>] [--json]")
		os.Exit(1)
	}
	command := args[0]
	taskType := ""
	override := ""
	jsonOutput := false
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--task-type":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--task-type requires a value")
				os.Exit(1)
			}
			taskType = args[i]
		case "--agent":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--agent requires a value")
				os.Exit(1)
			}
			override = args[i]
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			os.Exit(1)
		}
	}

	_, cfg := mustWorkspace()
	resolver, closeFn := mustResolver(cfg)
	defer closeFn()

	res, err := resolver.ResolveAgentForCommand(context.Background(), cfg.Workspace.ID, command, taskType, override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routing resolve: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(os.Stderr, "routing resolve: %v\n", err)
			os.Exit(1)
		}
		return
	}
	fmt.Printf("agent=%s source=%s health=%s required=%s\n",
		res.Agent.Slug, res.Source, res.HealthStatus, strings.Join(res.RequiredCapabilities, ","))
}

func runRoutingDefaults(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: mcoda routing defaults [--json]\n", a)
			os.Exit(1)
		}
	}

	_, cfg := mustWorkspace()
	resolver, closeFn := mustResolver(cfg)
	defer closeFn()

	defaults, err := resolver.GetWorkspaceDefaults(context.Background(), cfg.Workspace.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routing defaults: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(defaults); err != nil {
			fmt.Fprintf(os.Stderr, "routing defaults: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if len(defaults.Bindings) == 0 {
		fmt.Println("No routing defaults set.")
		return
	}
	for command, binding := range defaults.Bindings {
		fmt.Printf("%-16s -> %s", command, binding.AgentSlug)
		if binding.QAProfile != "" {
			fmt.Printf("  qa_profile=%s", binding.QAProfile)
		}
		if binding.DocdexScope != "" {
			fmt.Printf("  docdex_scope=%s", binding.DocdexScope)
		}
		fmt.Println()
	}
}

func runRoutingSetDefaults(args []string) {
	update := routing.DefaultsUpdate{Set: map[string]string{}}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--set":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--set requires <command>=<agent>")
				os.Exit(1)
			}
			command, agent, ok := strings.Cut(args[i], "=")
			if !ok || command == "" || agent == "" {
				fmt.Fprintf(os.Stderr, "invalid --set value: %s (want <command>=<agent>)\n", args[i])
				os.Exit(1)
			}
			update.Set[command] = agent
		case "--reset":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--reset requires a command name")
				os.Exit(1)
			}
			update.Reset = append(update.Reset, args[i])
		case "--qa-profile":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--qa-profile requires a value")
				os.Exit(1)
			}
			update.QAProfile = args[i]
		case "--docdex-scope":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--docdex-scope requires a value")
				os.Exit(1)
			}
			update.DocdexScope = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			os.Exit(1)
		}
	}
	if len(update.Set) == 0 && len(update.Reset) == 0 {
		fmt.Fprintln(os.Stderr, "usage: mcoda routing set-defaults --set <command>=<agent> [--reset <command>] [--qa-profile <p>] [--docdex-scope <s>]")
		os.Exit(1)
	}

	_, cfg := mustWorkspace()
	resolver, closeFn := mustResolver(cfg)
	defer closeFn()

	if err := resolver.UpdateWorkspaceDefaults(context.Background(), cfg.Workspace.ID, update); err != nil {
		fmt.Fprintf(os.Stderr, "routing set-defaults: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Routing defaults updated.")
}

// findWorkspaceRoot walks up from the working directory looking for .mcoda/.
func findWorkspaceRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".mcoda")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func mustWorkspace() (string, *config.Config) {
	root := findWorkspaceRoot()
	if root == "" {
		fmt.Fprintln(os.Stderr, "error: .mcoda/ directory not found. Run 'mcoda setup <dir>' first.")
		os.Exit(1)
	}
	cfg, err := config.Load(filepath.Join(root, ".mcoda", "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return root, cfg
}

func mustStore(cfg *config.Config) *jobstore.Store {
	store, err := jobstore.Open(cfg.Storage.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func mustResolver(cfg *config.Config) (*routing.Resolver, func()) {
	if cfg.Routing.Backend == config.BackendRemote {
		backend := routing.NewRemoteBackend(cfg.Routing.APIURL, cfg.Routing.APIToken)
		return routing.NewResolver(backend), func() {}
	}

	store := mustStore(cfg)
	backend, err := routing.NewLocalBackend(store.DB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open routing tables: %v\n", err)
		os.Exit(1)
	}
	return routing.NewResolver(backend), func() { _ = store.Close() }
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `mcoda %s - workflow core for AI coding agents

Usage: mcoda <command> [options]

Workspace:
  setup <dir> [--workspace-id <id>]   Initialize .mcoda/ directory

Jobs:
  jobs list [--json] [--limit <n>]    List jobs with checkpoint state
  jobs show <job_id>                  Show the latest checkpoint
  jobs tail <job_id>                  Follow new checkpoints

Routing:
  routing resolve <command> [--task-type <t>] [--agent <slug>] [--json]
  routing defaults [--json]
  routing set-defaults --set <command>=<agent> [--reset <command>]
                       [--qa-profile <p>] [--docdex-scope <s>]

Utilities:
  version           Show version
  help              Show this help

`, version)
}
