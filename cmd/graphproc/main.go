package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/graphproc/internal/api"
	"github.com/mattjoyce/graphproc/internal/config"
	"github.com/mattjoyce/graphproc/internal/dispatch"
	"github.com/mattjoyce/graphproc/internal/events"
	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/graph/sqlstore"
	"github.com/mattjoyce/graphproc/internal/inspect"
	"github.com/mattjoyce/graphproc/internal/lane"
	"github.com/mattjoyce/graphproc/internal/lock"
	"github.com/mattjoyce/graphproc/internal/log"
	"github.com/mattjoyce/graphproc/internal/plugin"
	"github.com/mattjoyce/graphproc/internal/queue"
	"github.com/mattjoyce/graphproc/internal/storage"
	"github.com/mattjoyce/graphproc/internal/workers"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd, args := argv[0], argv[1:]
	switch cmd {
	case "start":
		return runStart(args)
	case "enqueue":
		return runEnqueue(args)
	case "put":
		return runPut(args)
	case "config":
		return runConfigNoun(args)
	case "workers":
		return runWorkers(args)
	case "inspect":
		return runInspect(args)
	case "watch":
		return runWatch(args)
	case "version":
		fmt.Printf("graphproc version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `graphproc - ingest-time property worker pipeline

Usage:
  graphproc <command> [flags]

Commands:
  start              Run queue consumers and worker lanes in the foreground
  put                Write a property and queue its mutation event
  enqueue            Queue mutation events from a JSON file (- for stdin)
  inspect <event-id> Show an event's lineage and its element's properties
  watch              Live view of a running instance's lanes and events
  workers            List built-in workers
  config check       Validate configuration and integrity
  config lock        Record config checksums in .checksums
  version            Show version information
  help               Show this help message

Every command accepts --config <file|dir>. Without it graphproc looks at
$GRAPHPROC_CONFIG, ~/.config/graphproc, /etc/graphproc and ./config.yaml.
`)
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	discovered, err := config.Discover()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func loadConfig(flagValue string) (*config.Config, error) {
	path, err := resolveConfigPath(flagValue)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// state bundles the persistent pieces every command works against.
type state struct {
	db    *sql.DB
	store *sqlstore.Store
	queue *queue.Queue
}

func openState(ctx context.Context, cfg *config.Config) (*state, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}
	store, err := sqlstore.New(db, cfg.State.BlobDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &state{db: db, store: store, queue: queue.New(db)}, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("graphproc starting", "version", version, "config", cfg.SourcePath)

	instance, err := lock.Acquire(lock.PathFor(cfg.State.Path))
	if err != nil {
		logger.Error("failed to acquire instance lock (another instance may be running)", "path", lock.PathFor(cfg.State.Path), "error", err)
		return 1
	}
	defer instance.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openState(ctx, cfg)
	if err != nil {
		logger.Error("failed to open state", "error", err)
		return 1
	}
	defer st.db.Close()
	logger.Info("state opened", "path", cfg.State.Path, "blob_dir", cfg.State.BlobDir)

	reg, err := plugin.Build(workers.Builtins(), cfg.WorkerSpecs())
	if err != nil {
		logger.Error("failed to build worker registry", "error", err)
		return 1
	}

	pool, err := lane.StartPool(ctx, reg, plugin.StartupData{Store: st.store})
	if err != nil {
		logger.Error("worker startup failed", "error", err)
		return 1
	}

	hub := events.NewHub(256)
	disp := dispatch.New(st.store, pool, &dispatch.QueueNotifier{
		Hub:       hub,
		Queue:     st.queue,
		NextStage: cfg.Pipeline.NextStage,
	}, dispatch.Options{
		ResultTimeout: cfg.Pipeline.ResultTimeout,
		ResultWaits:   cfg.Pipeline.ResultWaits,
		ChunkSize:     cfg.Pipeline.ChunkSize,
		TeeBuffer:     cfg.Pipeline.TeeBuffer,
		TempDir:       cfg.Pipeline.TempDir,
	})
	runner := dispatch.NewRunner(st.queue, disp, dispatch.RunnerConfig{
		Stage:        cfg.Pipeline.Stage,
		Consumers:    cfg.Pipeline.Consumers,
		PollInterval: cfg.Pipeline.PollInterval,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("runner: %w", err)
		}
	}()

	if cfg.Ops.Enabled {
		opsServer := api.New(api.Config{Listen: cfg.Ops.Listen, Stage: cfg.Pipeline.Stage, Token: cfg.Ops.Token},
			st.queue, pool, disp, hub, log.WithComponent("api"))
		go func() {
			if err := opsServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("ops: %w", err)
			}
		}()
		logger.Info("ops server enabled", "listen", cfg.Ops.Listen)
	}

	logger.Info("graphproc running (press Ctrl+C to stop)", "workers", pool.Len(), "stage", cfg.Pipeline.Stage)

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exit = 1
	}
	cancel()
	<-runnerDone

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := pool.Stop(stopCtx); err != nil {
		logger.Warn("worker lanes did not stop in time", "error", err)
	}

	logger.Info("graphproc stopped", "dispatch", disp.Stats())
	return exit
}

func runEnqueue(args []string) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	file := fs.String("file", "", "JSON event or array of events (- for stdin)")
	stage := fs.String("stage", "", "Queue stage (defaults to pipeline.stage)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "enqueue: --file is required")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *stage == "" {
		*stage = cfg.Pipeline.Stage
	}

	raw, err := readInput(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 1
	}
	evs, err := decodeEvents(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	q := queue.New(db)
	for _, ev := range evs {
		id, err := q.EnqueueEvent(ctx, *stage, ev, "cli", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
			return 1
		}
		fmt.Println(id)
	}
	return 0
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// decodeEvents accepts one event object or an array of them.
func decodeEvents(raw []byte) ([]graph.MutationEvent, error) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		ev, err := graph.DecodeEvent([]byte(trimmed))
		if err != nil {
			return nil, err
		}
		return []graph.MutationEvent{ev}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, fmt.Errorf("decode event array: %w", err)
	}
	evs := make([]graph.MutationEvent, 0, len(items))
	for i, item := range items {
		ev, err := graph.DecodeEvent(item)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

func runPut(args []string) int {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	vertex := fs.String("vertex", "", "Vertex id")
	edge := fs.String("edge", "", "Edge id")
	key := fs.String("key", "", "Property key")
	name := fs.String("name", "", "Property name")
	value := fs.String("value", "", "In-memory string value")
	file := fs.String("file", "", "File to store as a streamed value")
	priority := fs.String("priority", string(graph.PriorityNormal), "Event priority (LOW, NORMAL, HIGH)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ref := graph.ElementRef{ID: *vertex, Kind: graph.KindVertex}
	if *edge != "" {
		ref = graph.ElementRef{ID: *edge, Kind: graph.KindEdge}
	}
	switch {
	case ref.ID == "":
		fmt.Fprintln(os.Stderr, "put: --vertex or --edge is required")
		return 1
	case *key == "" || *name == "":
		fmt.Fprintln(os.Stderr, "put: --key and --name are required")
		return 1
	case (*value == "") == (*file == ""):
		fmt.Fprintln(os.Stderr, "put: exactly one of --value or --file is required")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	st, err := openState(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "put: %v\n", err)
		return 1
	}
	defer st.db.Close()

	pm := graph.PropertyMutation{Key: *key, Name: *name}
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "put: %v\n", err)
			return 1
		}
		defer f.Close()
		pm.Stream = f
	} else {
		pm.Value = *value
	}

	if _, err := st.store.Save(ctx, graph.Mutation{Ref: ref, Properties: []graph.PropertyMutation{pm}}); err != nil {
		fmt.Fprintf(os.Stderr, "put: %v\n", err)
		return 1
	}

	ev := graph.MutationEvent{
		PropertyKey:  *key,
		PropertyName: *name,
		Priority:     graph.Priority(strings.ToUpper(*priority)),
		Status:       graph.StatusUpdate,
	}
	if ref.Kind == graph.KindEdge {
		ev.GraphEdgeID = ref.ID
	} else {
		ev.GraphVertexID = ref.ID
	}
	id, err := st.queue.EnqueueEvent(ctx, cfg.Pipeline.Stage, ev, "cli", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "put: %v\n", err)
		return 1
	}
	fmt.Println(id)
	return 0
}

func runWorkers(args []string) int {
	if hasHelpFlag(args) {
		fmt.Println("Usage: graphproc workers")
		return 0
	}
	for _, name := range workers.Builtins().Names() {
		fmt.Println(name)
	}
	return 0
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "-h" || a == "--help" || a == "help" {
			return true
		}
	}
	return false
}

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Print the report as JSON")

	// Allow the event id before or after flags.
	var eventID string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		eventID, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if eventID == "" && fs.NArg() > 0 {
		eventID = fs.Arg(0)
	}
	if eventID == "" {
		fmt.Fprintln(os.Stderr, "Usage: graphproc inspect <event-id> [--json] [--config <path>]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	st, err := openState(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		return 1
	}
	defer st.db.Close()

	build := inspect.BuildReport
	if *jsonOut {
		build = inspect.BuildJSONReport
	}
	out, err := build(ctx, st.queue, st.store, eventID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		return 1
	}
	fmt.Print(out)
	if *jsonOut {
		fmt.Println()
	}
	return 0
}
