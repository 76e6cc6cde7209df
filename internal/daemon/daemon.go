// Package daemon runs the orchestrator in watch mode: a singleton process
// that executes the cycle on a fixed interval and serves health, state and
// metrics endpoints.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/florianRadureau/dulien-orchestration/internal/cycle"
	"github.com/florianRadureau/dulien-orchestration/internal/otel"
	"github.com/florianRadureau/dulien-orchestration/internal/store"
)

var errNotRunning = errors.New("dulien is not running")

// StartForeground runs the cycle loop and the HTTP server until ctx is
// cancelled. The singleton lock, pid and addr files live under
// <home>/protected, and are removed on exit.
func StartForeground(ctx context.Context, opts StartOptions, driver *cycle.Driver, st store.Store) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Port == 0 {
		opts.Port = 3584
	}
	if opts.Interval <= 0 {
		opts.Interval = 600 * time.Second
	}

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	startPprof(opts.PprofAddr)

	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	addr := fmt.Sprintf("0.0.0.0:%d", opts.Port)
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	if err := checkPortAvailable(opts.Port); err != nil {
		return err
	}

	var metricsHandler http.Handler
	if opts.EnableOtel {
		metricsHandler, err = otel.InitMeterProvider(ctx, "dulien")
		if err != nil {
			slog.Warn("otel init failed, metrics disabled", "err", err)
			metricsHandler = nil
		} else {
			_ = otel.InitMetrics(ctx)
		}
	}

	server := &http.Server{
		Addr:    addr,
		Handler: newHandler(st, metricsHandler, opts.EnableOtel),
	}

	slog.Info("watch daemon starting", "addr", addr, "home", opts.Home, "interval", opts.Interval)
	errCh := make(chan error, 1)
	go func() {
		go runCycleLoop(ctx, driver, opts.Interval)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// runCycleLoop runs one cycle immediately, then one per tick.
func runCycleLoop(ctx context.Context, driver *cycle.Driver, interval time.Duration) {
	if err := driver.Run(ctx); err != nil {
		slog.Error("cycle failed", "err", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := driver.Run(ctx); err != nil {
				slog.Error("cycle failed", "err", err)
			}
		}
	}
}

func newHandler(st store.Store, metricsHandler http.Handler, useOtelHTTP bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		doc, version, err := st.Load(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":  version,
			"document": doc,
		})
	})
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	if useOtelHTTP {
		return otelhttp.NewHandler(mux, "dulien-daemon")
	}
	return mux
}

// backgroundArgs builds the re-exec command line for the detached watch
// process. Boolean flags are passed in --flag=value form so a disabled value
// overrides the child's own default.
func backgroundArgs(opts StartOptions) []string {
	args := []string{
		"watch",
		"--foreground",
		"--home", opts.Home,
		"--port", strconv.Itoa(opts.Port),
		"--interval", strconv.Itoa(int(opts.Interval / time.Second)),
		fmt.Sprintf("--otel=%t", opts.EnableOtel),
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	return args
}

// StartBackground re-invokes the current binary as a detached watch process
// and waits briefly for it to come up.
func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("dulien already running (pid %d)", st.PID)
	}

	logFile := filepath.Join(protectedDir(opts.Home), "daemon.log")
	stderr, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	cmd := exec.Command(exe, backgroundArgs(opts)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cmd.Process.Pid, nil
}

// Stop signals a running daemon and waits for it to exit.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

// Status reads the pid file and checks process liveness.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("port %d is already in use", port)
	}
	_ = ln.Close()
	return nil
}
