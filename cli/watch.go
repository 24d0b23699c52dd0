package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/semdex/semdex/config"
	"github.com/semdex/semdex/daemon"
	"github.com/semdex/semdex/indexer"
	"github.com/semdex/semdex/lifecycle"
	"github.com/semdex/semdex/scanner"
	"github.com/semdex/semdex/store"
	"github.com/semdex/semdex/watcher"
)

// persistInterval is how often in-memory store state is flushed to disk
// while the daemon runs. Stores also flush on shutdown.
const persistInterval = 30 * time.Second

var (
	watchBackground bool
	watchLogDir     string
	watchStatus     bool
	watchStop       bool
	watchNoUI       bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch folders and keep their indexes up to date",
	Long: `Watch all configured folders for file changes and keep their semantic
indexes in sync.

Each folder runs its own lifecycle: an initial scan diffs the folder
against the last persisted snapshot, changed files are chunked and
embedded, and filesystem events trigger incremental rescans.

Runs in the foreground by default with a live status display. Use
--background to detach, --status to inspect a running daemon, and --stop
to shut one down.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVarP(&watchBackground, "background", "b", false, "Run the daemon in the background")
	watchCmd.Flags().StringVar(&watchLogDir, "log-dir", "", "Directory for the daemon's log and PID files")
	watchCmd.Flags().BoolVar(&watchStatus, "status", false, "Show whether a daemon is running")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "Stop a running background daemon")
	watchCmd.Flags().BoolVar(&watchNoUI, "no-ui", false, "Disable the interactive status display")
	watchCmd.MarkFlagsMutuallyExclusive("background", "status", "stop")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logDir := watchLogDir
	if logDir == "" {
		var err error
		logDir, err = daemon.GetDefaultLogDir()
		if err != nil {
			return fmt.Errorf("failed to determine log directory: %w", err)
		}
	}

	switch {
	case watchStatus:
		return showWatchStatus(logDir)
	case watchStop:
		return stopWatchDaemon(logDir)
	case watchBackground && os.Getenv(daemon.BackgroundEnv) == "":
		return startBackgroundWatch(logDir)
	}
	return runWatchForeground(cmd.Context(), logDir)
}

func showWatchStatus(logDir string) error {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if pid == 0 {
		fmt.Println("Watch daemon is not running.")
		return nil
	}
	fmt.Printf("Watch daemon is running (PID %d)\n", pid)
	fmt.Printf("Log file: %s\n", daemon.LogFilePath(logDir))
	return nil
}

func stopWatchDaemon(logDir string) error {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if pid == 0 {
		fmt.Println("Watch daemon is not running.")
		return nil
	}

	fmt.Printf("Stopping watch daemon (PID %d)...\n", pid)
	if err := daemon.StopProcess(pid); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}

	// Give the daemon time to flush its indexes before reporting failure.
	deadline := time.Now().Add(30 * time.Second)
	lastMessage := time.Now()
	for time.Now().Before(deadline) {
		if !daemon.IsProcessRunning(pid) {
			fmt.Println("Watch daemon stopped.")
			return nil
		}
		if time.Since(lastMessage) >= 5*time.Second {
			fmt.Println("Still waiting for the daemon to flush and exit...")
			lastMessage = time.Now()
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("daemon (PID %d) did not stop within 30s", pid)
}

func startBackgroundWatch(logDir string) error {
	if pid, err := daemon.GetRunningPID(logDir); err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	} else if pid != 0 {
		return fmt.Errorf("watch daemon is already running (PID %d)", pid)
	}

	if err := daemon.RemoveReadyFile(logDir); err != nil {
		return fmt.Errorf("failed to clear stale ready marker: %w", err)
	}

	childArgs := []string{"watch", "--no-ui"}
	if watchLogDir != "" {
		childArgs = append(childArgs, "--log-dir", watchLogDir)
	}

	pid, exitCh, err := daemon.SpawnBackground(logDir, childArgs)
	if err != nil {
		return fmt.Errorf("failed to start background daemon: %w", err)
	}

	fmt.Printf("Starting watch daemon (PID %d)...\n", pid)

	// Wait for the child to report readiness, bailing early if it dies
	// during startup (bad config, unreachable embedder).
	deadline := time.After(30 * time.Second)
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-exitCh:
			return fmt.Errorf("daemon exited during startup; check %s", daemon.LogFilePath(logDir))
		case <-deadline:
			return fmt.Errorf("daemon did not become ready within 30s; check %s", daemon.LogFilePath(logDir))
		case <-tick.C:
			if daemon.IsReady(logDir) {
				fmt.Println("Watch daemon is ready.")
				fmt.Printf("Log file: %s\n", daemon.LogFilePath(logDir))
				fmt.Println("Stop it with: semdex watch --stop")
				return nil
			}
		}
	}
}

// folderRuntime holds the per-folder resources the daemon wires together.
type folderRuntime struct {
	id    string
	path  string
	store store.VectorStore
	seed  lifecycle.Snapshot
}

func runWatchForeground(parent context.Context, logDir string) error {
	isBackground := os.Getenv(daemon.BackgroundEnv) != ""

	if pid, err := daemon.GetRunningPID(logDir); err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	} else if pid != 0 && pid != os.Getpid() {
		return fmt.Errorf("watch daemon is already running (PID %d); stop it with: semdex watch --stop", pid)
	}

	root, err := config.FindRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if isBackground {
		if err := daemon.WritePIDFile(logDir); err != nil {
			return err
		}
		defer daemon.RemovePIDFile(logDir)
		log.SetFlags(log.LstdFlags)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Windows has no signals to send across processes; --stop drops a
	// sentinel file instead.
	go func() {
		select {
		case <-daemon.StopChannel():
			stop()
		case <-ctx.Done():
		}
	}()

	emb, err := initializeEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer emb.Close()

	folders := watchedFolders(cfg, root)
	runtimes := make([]*folderRuntime, 0, len(folders))
	byPath := make(map[string]*folderRuntime, len(folders))
	defer func() {
		for _, rt := range runtimes {
			if err := rt.store.Close(); err != nil {
				log.Printf("folder %s: close store: %v", rt.id, err)
			}
		}
	}()

	for _, f := range folders {
		st, err := initializeStore(ctx, cfg, root, f)
		if err != nil {
			return fmt.Errorf("folder %s: %w", f.FolderID(), err)
		}
		seed, err := st.LoadSnapshot(ctx)
		if err != nil {
			log.Printf("folder %s: no usable snapshot, full scan: %v", f.FolderID(), err)
			seed = lifecycle.Snapshot{}
		}
		rt := &folderRuntime{id: f.FolderID(), path: f.ResolvePath(root), store: st, seed: seed}
		runtimes = append(runtimes, rt)
		byPath[rt.path] = rt
	}

	chunker := indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)

	newDetector := func(folderPath string) lifecycle.ChangeDetector {
		rt := byPath[folderPath]
		inner := scanner.New(scanner.Options{
			IgnorePatterns:    cfg.Ignore,
			HashContent:       cfg.Scan.HashContent,
			MaxFileSize:       cfg.Scan.MaxFileSize,
			IncludeExtensions: cfg.Scan.IncludeExtensions,
		})
		return &snapshotDetector{inner: inner, rt: rt}
	}
	newExecutor := func(folderPath string) lifecycle.TaskExecutor {
		rt := byPath[folderPath]
		return indexer.NewExecutor(folderPath, rt.store, emb, chunker)
	}

	var sink lifecycle.StatusSink
	var ui *watchUI
	useUI := !watchNoUI && !isBackground && stdoutIsTerminal()
	if useUI {
		ui = newWatchUI(runtimeLabels(runtimes))
		sink = ui
	} else {
		sink = consoleSink{}
	}

	mgr := lifecycle.NewManager(cfg.Lifecycle.ToCore(), newDetector, newExecutor, sink)
	defer mgr.Close()

	g, gctx := errgroup.WithContext(ctx)

	for _, rt := range runtimes {
		if _, err := mgr.AddFolder(rt.id, rt.path); err != nil {
			return fmt.Errorf("folder %s: %w", rt.id, err)
		}

		matcher, err := scanner.NewIgnoreMatcher(rt.path, cfg.Ignore)
		if err != nil {
			return fmt.Errorf("folder %s: load ignore rules: %w", rt.id, err)
		}
		debounce := time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
		w, err := watcher.New(rt.path, matcher, debounce)
		if err != nil {
			return fmt.Errorf("folder %s: start watcher: %w", rt.id, err)
		}
		if err := w.Start(gctx); err != nil {
			w.Close()
			return fmt.Errorf("folder %s: watch filesystem: %w", rt.id, err)
		}

		folderID := rt.id
		g.Go(func() error {
			defer w.Close()
			for {
				select {
				case <-gctx.Done():
					return nil
				case event, ok := <-w.Events():
					if !ok {
						return nil
					}
					mgr.OnFileSystemChange(folderID, []string{event.Path})
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(persistInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				persistAll(gctx, runtimes)
			}
		}
	})

	if isBackground {
		if err := daemon.WriteReadyFile(logDir); err != nil {
			return err
		}
		defer daemon.RemoveReadyFile(logDir)
		log.Printf("watch daemon started, %d folder(s)", len(runtimes))
	}

	if useUI {
		// The UI owns the terminal until the user quits or the context is
		// cancelled by a signal.
		g.Go(func() error {
			<-gctx.Done()
			ui.Quit()
			return nil
		})
		if err := ui.Run(); err != nil {
			stop()
			g.Wait()
			return fmt.Errorf("status display failed: %w", err)
		}
		stop()
	} else {
		if !isBackground {
			fmt.Printf("Watching %d folder(s). Press Ctrl+C to stop.\n", len(runtimes))
		}
		<-gctx.Done()
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Final flush with a fresh context; the watch context is already
	// cancelled at this point.
	flushCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	persistAll(flushCtx, runtimes)

	if isBackground {
		log.Println("watch daemon stopped")
	} else if !useUI {
		fmt.Println("\nStopped.")
	}
	return nil
}

func persistAll(ctx context.Context, runtimes []*folderRuntime) {
	for _, rt := range runtimes {
		if err := rt.store.Persist(ctx); err != nil {
			log.Printf("folder %s: persist index: %v", rt.id, err)
		}
	}
}

func runtimeLabels(runtimes []*folderRuntime) []folderLabel {
	labels := make([]folderLabel, 0, len(runtimes))
	for _, rt := range runtimes {
		labels = append(labels, folderLabel{ID: rt.id, Path: rt.path})
	}
	return labels
}

func stdoutIsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// snapshotDetector wraps a scanner so the first scan after startup diffs
// against the snapshot persisted by the previous run, and every completed
// scan records its listing for the next one.
type snapshotDetector struct {
	inner  lifecycle.ChangeDetector
	rt     *folderRuntime
	mu     sync.Mutex
	seeded bool
}

func (d *snapshotDetector) Scan(ctx context.Context, folderPath string, previous lifecycle.Snapshot) (*lifecycle.ScanResult, error) {
	d.mu.Lock()
	if !d.seeded {
		d.seeded = true
		if len(previous) == 0 && len(d.rt.seed) > 0 {
			previous = d.rt.seed
		}
	}
	d.mu.Unlock()

	result, err := d.inner.Scan(ctx, folderPath, previous)
	if err != nil {
		return nil, err
	}
	if err := d.rt.store.SaveSnapshot(ctx, result.Snapshot); err != nil {
		log.Printf("folder %s: save snapshot: %v", d.rt.id, err)
	}
	return result, nil
}

// consoleSink logs lifecycle events as plain lines, for background mode
// and --no-ui runs.
type consoleSink struct{}

func (consoleSink) OnStateChange(e lifecycle.Event) {
	if e.Disposed {
		return
	}
	switch e.Status {
	case lifecycle.StatusError:
		log.Printf("folder %s: error: %s", e.FolderID, e.ErrorMessage)
	case lifecycle.StatusActive:
		if e.Progress.TotalTasks > 0 {
			log.Printf("folder %s: active (%d indexed, %d failed)", e.FolderID, e.Progress.CompletedTasks, e.Progress.FailedTasks)
		} else {
			log.Printf("folder %s: active (no changes)", e.FolderID)
		}
	default:
		log.Printf("folder %s: %s", e.FolderID, e.Status)
	}
}

func (consoleSink) OnProgress(e lifecycle.Event) {
	log.Printf("folder %s: indexing %d%% (%d/%d)", e.FolderID, e.Progress.Percentage, e.Progress.CompletedTasks, e.Progress.TotalTasks)
}
