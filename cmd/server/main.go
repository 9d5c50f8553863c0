package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/wafer-pendant/backend/internal/api"
	"github.com/wafer-pendant/backend/internal/config"
	"github.com/wafer-pendant/backend/internal/engine"
	"github.com/wafer-pendant/backend/internal/history"
	"github.com/wafer-pendant/backend/internal/metrics"
	"github.com/wafer-pendant/backend/internal/robot"
	"github.com/wafer-pendant/backend/internal/safety"
	"github.com/wafer-pendant/backend/internal/teach"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "WaferPendant.exe.config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Initialize the robot controller
	sim := robot.NewSimulator()
	sim.SetSpeed(cfg.Robot.DefaultSpeedPercent)
	sim.SetTimeScale(cfg.Robot.SimulatorTimeScale)
	if cfg.Robot.AutoConnect {
		sim.Connect()
	}

	// Load safety rules, falling back to the built-in set
	rules := safety.DefaultRules()
	if cfg.Safety.RulesFile != "" {
		if _, err := os.Stat(cfg.Safety.RulesFile); err == nil {
			loaded, err := safety.LoadRules(cfg.Safety.RulesFile)
			if err != nil {
				fmt.Printf("Failed to load safety rules: %v\n", err)
				os.Exit(1)
			}
			rules = loaded
			fmt.Printf("[Safety] rules loaded from %s\n", cfg.Safety.RulesFile)
		} else {
			fmt.Printf("[Safety] no rules file at %s, using built-in rules\n", cfg.Safety.RulesFile)
		}
	}
	checker, err := safety.NewLimitChecker(rules)
	if err != nil {
		fmt.Printf("Failed to compile safety rules: %v\n", err)
		os.Exit(1)
	}

	// Teaching data, seeded with a starter file on first run
	if err := teach.EnsureDefault(cfg.Teaching.DataFile); err != nil {
		fmt.Printf("Failed to create teaching data: %v\n", err)
		os.Exit(1)
	}
	teachStore := teach.NewStore(cfg.Teaching.DataFile)

	// Execution engine
	eng := engine.New(sim, checker, sim, teachStore)
	eng.Subscribe(metrics.Observe)

	// Run history persistence
	store, err := history.NewStore(cfg.GetHistoryDBPath())
	if err != nil {
		fmt.Printf("Failed to open history database: %v\n", err)
		os.Exit(1)
	}
	recorder := history.NewRecorder(eng, store)

	e := echo.New()
	e.HideBanner = true

	api.SetupMiddleware(e)

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") ||
				strings.HasSuffix(path, "/progress") ||
				path == "/api/health" ||
				path == "/metrics"
		},
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.Contains(path, "/progress") ||
				strings.HasPrefix(path, "/api/ws/") ||
				c.Request().Header.Get("Accept") == "text/event-stream"
		},
		ErrorMessage: "Request timeout",
	}))

	// Compression middleware
	if cfg.Advanced.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Advanced.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return strings.HasPrefix(c.Request().URL.Path, "/api/ws/") ||
					c.Request().Header.Get("Accept") == "text/event-stream"
			},
		}))
	}

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	// API routes
	handlers := api.NewHandlers(&api.Dependencies{
		Engine:  eng,
		History: store,
		Robot:   sim,
		Safety:  checker,
		Teach:   teachStore,
		Version: Version,
	})
	api.RegisterRoutes(e, handlers)

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	robotMode := "Simulator (disconnected)"
	if sim.IsConnected() {
		robotMode = "Simulator (connected)"
	}

	// Print startup banner
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Wafer Transfer Pendant Server                   ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Robot:      %-45s║\n", robotMode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	// Start server in the background so signals can drive a clean
	// shutdown.
	go func() {
		if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
			fmt.Printf("[Server] %v\n", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	fmt.Println("\n[Server] shutdown signal received")

	// Halt any in-flight run first; the cancellation reaches the
	// recorder through the event stream while connections drain.
	eng.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		fmt.Printf("[Server] forced shutdown: %v\n", err)
	}

	recorder.Close()
	if err := store.Close(); err != nil {
		fmt.Printf("[History] close failed: %v\n", err)
	}
	fmt.Println("[Server] stopped")
}
