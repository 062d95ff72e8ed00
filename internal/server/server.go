// Package server wires the gateway's components (C1-C8) into an
// http.Server and owns its lifecycle, adapted from the teacher's
// internal/server/server.go graceful-shutdown and address-in-use
// diagnostics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/poe2oai/gateway/internal/attachments"
	"github.com/poe2oai/gateway/internal/cache"
	"github.com/poe2oai/gateway/internal/config"
	"github.com/poe2oai/gateway/internal/handlers"
	"github.com/poe2oai/gateway/internal/middleware"
	"github.com/poe2oai/gateway/internal/models"
	"github.com/poe2oai/gateway/internal/poeclient"
)

type Server struct {
	settings config.Settings
	cfg      *config.Manager
	cache    *cache.Store
	client   *poeclient.Client
	logger   *slog.Logger
	server   *http.Server
}

// New opens the cache store, loads the config, builds the upstream client
// and starts the config watcher. The attachment normalizer, the model
// aggregator and the route table from spec.md §6 are built by Start (via
// setupRoutes); the returned Server does not listen until Start is called.
func New(settings config.Settings, logger *slog.Logger) (*Server, error) {
	dbPath := filepath.Join(settings.ConfigDir, "cache.db")
	store, err := cache.Open(dbPath, time.Duration(settings.URLCacheTTLSeconds)*time.Second, settings.URLCacheSizeMB*1024*1024, logger)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	cfgMgr := config.NewManager(settings.ConfigDir, store)
	if _, err := cfgMgr.Load(); err != nil {
		store.Close()
		return nil, fmt.Errorf("load config: %w", err)
	}

	var clientOpts []poeclient.Option
	if settings.PoeBaseURL != "" {
		clientOpts = append(clientOpts, poeclient.WithBaseURL(settings.PoeBaseURL))
	}
	if settings.PoeFileUploadURL != "" {
		clientOpts = append(clientOpts, poeclient.WithFileUploadURL(settings.PoeFileUploadURL))
	}
	client := poeclient.New(logger, clientOpts...)

	if err := cfgMgr.Watch(func(*config.Config) {
		logger.Info("config reloaded", "path", cfgMgr.Path())
	}, func(err error) {
		logger.Error("config watch error", "error", err)
	}); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	return &Server{
		settings: settings,
		cfg:      cfgMgr,
		cache:    store,
		client:   client,
		logger:   logger,
	}, nil
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.logger.Info("starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
			if strings.Contains(err.Error(), "address already in use") {
				s.handleAddressInUse(addr)
				os.Exit(1)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.cache.Close()
	s.logger.Info("server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	normalizer := attachments.New(s.cache, s.client, poeclient.DefaultCDNPrefix, s.logger)
	agg := models.New(s.cache, s.cfg, s.client)

	chatHandler := handlers.NewChatHandler(s.cfg, normalizer, s.client, s.logger, s.settings.MaxRequestSize)
	modelsHandler := handlers.NewModelsHandler(agg, s.logger)
	apiModelsHandler := handlers.NewAPIModelsHandler(agg, s.logger)
	adminPageHandler := handlers.NewAdminPageHandler()
	adminConfigHandler := handlers.NewAdminConfigHandler(s.cfg, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)

	mwSet := middleware.NewMiddlewareSet(s.logger, time.Duration(s.settings.RateLimitMS)*time.Millisecond)
	basicAuth := middleware.NewBasicAuthMiddleware(s.settings.AdminUsername, s.settings.AdminPassword)

	chatChain := mwSet.ChatChain().Handler
	defaultChain := mwSet.DefaultChain().Handler
	publicChain := mwSet.PublicChain().Handler

	mux.Handle("/v1/chat/completions", chatChain(chatHandler))
	mux.Handle("/chat/completions", chatChain(chatHandler))

	mux.Handle("/v1/models", defaultChain(modelsHandler))
	mux.Handle("/models", defaultChain(modelsHandler))
	mux.Handle("/api/models", defaultChain(apiModelsHandler))

	mux.Handle("/admin", publicChain(basicAuth(adminPageHandler)))
	mux.Handle("/api/admin/config", publicChain(basicAuth(adminConfigHandler)))

	staticDir := filepath.Join(s.settings.ConfigDir, "static")
	fileServer := http.FileServer(http.Dir(staticDir))
	mux.Handle("/static/", publicChain(http.StripPrefix("/static/", fileServer)))

	mux.Handle("/health", publicChain(healthHandler))

	return mux
}

// handleAddressInUse attempts to find and display the PID using the
// requested address so operators don't have to hunt for a stray process
// themselves.
func (s *Server) handleAddressInUse(addr string) {
	s.logger.Error("address already in use", "address", addr)

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		s.logger.Error("failed to parse address", "address", addr, "error", err)
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.logger.Error("invalid port number", "port", portStr, "error", err)
		return
	}

	pid := s.findProcessUsingPort(port)
	if pid > 0 {
		s.logger.Error("port is being used by another process",
			"port", port, "pid", pid, "process", s.getProcessInfo(pid))
	} else {
		s.logger.Error("could not determine which process is using the port", "port", port)
	}
}

func (s *Server) findProcessUsingPort(port int) int {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.findProcessUsingPortUnix(port)
	case "windows":
		return s.findProcessUsingPortWindows(port)
	default:
		return 0
	}
}

func (s *Server) findProcessUsingPortUnix(port int) int {
	if pid := s.tryLsof(port); pid > 0 {
		return pid
	}
	return s.trySS(port)
}

func (s *Server) tryLsof(port int) int {
	if port < 1 || port > 65535 {
		return 0
	}

	cmd := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port))

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	pidStr := strings.TrimSpace(string(output))
	if pid, err := strconv.Atoi(pidStr); err == nil {
		return pid
	}

	return 0
}

func (s *Server) trySS(port int) int {
	cmd := exec.Command("ss", "-tlnp")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	portPattern := fmt.Sprintf(":%d ", port)
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, portPattern) || !strings.Contains(line, "LISTEN") {
			continue
		}
		idx := strings.Index(line, "pid=")
		if idx == -1 {
			continue
		}
		pidPart := line[idx+4:]
		if commaIdx := strings.Index(pidPart, ","); commaIdx != -1 {
			if pid, err := strconv.Atoi(pidPart[:commaIdx]); err == nil {
				return pid
			}
		}
	}

	return 0
}

func (s *Server) findProcessUsingPortWindows(port int) int {
	cmd := exec.Command("netstat", "-ano")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	portPattern := fmt.Sprintf(":%d ", port)
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, portPattern) || !strings.Contains(line, "LISTENING") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 5 {
			if pid, err := strconv.Atoi(parts[4]); err == nil {
				return pid
			}
		}
	}

	return 0
}

func (s *Server) getProcessInfo(pid int) string {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.getProcessInfoUnix(pid)
	case "windows":
		return s.getProcessInfoWindows(pid)
	default:
		return fmt.Sprintf("PID %d", pid)
	}
}

func (s *Server) getProcessInfoUnix(pid int) string {
	if pid < 1 || pid > 4194304 {
		return fmt.Sprintf("PID %d (invalid)", pid)
	}

	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=")

	output, err := cmd.Output()
	if err == nil {
		if name := strings.TrimSpace(string(output)); name != "" {
			return fmt.Sprintf("%s (PID: %d)", name, pid)
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}

func (s *Server) getProcessInfoWindows(pid int) string {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")

	output, err := cmd.Output()
	if err == nil {
		lines := strings.Split(string(output), "\n")
		if len(lines) > 0 && lines[0] != "" {
			parts := strings.Split(lines[0], ",")
			if len(parts) >= 1 {
				return fmt.Sprintf("%s (PID: %d)", strings.Trim(parts[0], "\""), pid)
			}
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}
