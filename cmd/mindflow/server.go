package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/maphy9/mind-flow/internal/api"
	"github.com/maphy9/mind-flow/internal/assistant"
	"github.com/maphy9/mind-flow/internal/chat"
	"github.com/maphy9/mind-flow/internal/config"
	"github.com/maphy9/mind-flow/internal/metrics"
	"github.com/maphy9/mind-flow/internal/notify"
	"github.com/maphy9/mind-flow/internal/plan"
	"github.com/maphy9/mind-flow/internal/reminder"
	"github.com/maphy9/mind-flow/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mindflow server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mindflow server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mindflow system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP tools on stdin/stdout")
}

// maxConnections caps concurrent client connections; reminder streams hold theirs open.
const maxConnections = 64

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mindflow.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func assistantConfig(c config.AssistantConfig) assistant.Config {
	return assistant.Config{
		Backend:     c.Backend,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		Temperature: c.Temperature,
	}
}

func notifyPolicy(c config.NotifyConfig) notify.Policy {
	p := notify.DefaultPolicy()
	p.AutoGrant = c.AutoGrant
	p.PlaySound = c.PlaySound
	return p
}

func runServer(withMCP bool) error {
	fmt.Fprintf(stderr, "mindflow version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	pollInterval, _ := cfg.PollInterval()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mindflow is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("mindflow is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := assistant.New(assistantConfig(cfg.Assistant))
	if err != nil {
		return fmt.Errorf("configuring assistant: %w", err)
	}
	if ollama, ok := client.(*assistant.OllamaClient); ok {
		if err := ollama.EnsureReady(ctx, stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(stderr, "warning: closing storage: %v\n", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(reg)

	policy := notifyPolicy(cfg.Notify)
	scheduler := notify.NewLocal(store, policy)
	dispatcher := notify.NewDispatcher(store, notify.NewDeliverer(cfg.Notify.WebhookURL, slog.Default()), policy, m, pollInterval)
	reminders := reminder.NewManager(store, scheduler, m)

	planner := plan.NewPlanner(client, m)
	chatSvc, err := chat.NewService(store, planner, reminders, cfg.Chat.MaxSessions)
	if err != nil {
		return fmt.Errorf("creating chat service: %w", err)
	}
	defer chatSvc.Wait()

	handler := api.NewAppHandler(api.AppDeps{
		Store:       store,
		Reminders:   reminders,
		Chat:        chatSvc,
		Token:       apiToken,
		DefaultUser: cfg.Server.DefaultUser,
		Metrics:     m,
		Gatherer:    reg,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go dispatcher.Run(ctx)
	slog.Info("notification dispatcher started", "poll_interval", pollInterval, "webhook", cfg.Notify.WebhookURL != "")

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Reminders: reminders,
			UserID:    cfg.Server.DefaultUser,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, maxConnections)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(stderr, "mindflow listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("mindflow is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop mindflow (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to mindflow (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	model := cfg.Assistant.Model
	if model == "" {
		model = "default model"
	}
	printStatus("Assistant", "%s (%s)", cfg.Assistant.Backend, model)
	if cfg.Assistant.Backend == "ollama" {
		if assistant.NewOllamaClient(cfg.Assistant.BaseURL, cfg.Assistant.Model).IsRunning(context.Background()) {
			printStatus("Ollama", "running")
		} else {
			printStatus("Ollama", "not running")
		}
	}

	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if tokenErr == nil && running {
		remResp, err := apiGet(client, serverURL+"/reminders", apiToken)
		if err == nil {
			var reminders []api.ReminderView
			if decodeJSON(remResp, &reminders) == nil {
				enabled := 0
				for _, r := range reminders {
					if r.Enabled {
						enabled++
					}
				}
				printStatus("Reminders", "%d (%d enabled)", len(reminders), enabled)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
