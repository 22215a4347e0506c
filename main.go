// Command relaychat starts the real-time group chat relay.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP server exposing the WebSocket relay, REST API, and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Settings come from RELAYCHAT_* environment variables (a .env file is
// loaded first when present) and are overridden by flags. An optional ngrok
// tunnel exposes the relay publicly during development.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/relaychat/api"
	"github.com/wricardo/relaychat/chat/config"
	"github.com/wricardo/relaychat/chat/service"
	"github.com/wricardo/relaychat/chat/session"
	"github.com/wricardo/relaychat/transport/mcp"
	"github.com/wricardo/relaychat/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "relaychat"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: error loading .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. Running it without a subcommand serves.
func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "real-time group chat relay",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "localhost", Usage: "HTTP server host"},
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "HTTP server port"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
			&cli.StringSliceFlag{Name: "allowed-origin", Usage: "Browser origin allowed to open a WebSocket (repeatable, default any)"},
			&cli.IntFlag{Name: "max-body", Value: 2000, Usage: "Maximum message length in characters"},
			&cli.DurationFlag{Name: "typing-idle", Value: 2 * time.Second, Usage: "Idle time before a client reports it stopped typing"},
			&cli.DurationFlag{Name: "typing-display", Value: 3 * time.Second, Usage: "How long a typing indicator survives without a refresh"},
			&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel"},
			&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token (or RELAYCHAT_NGROK_AUTHTOKEN)"},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)"},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server", "http"},
				Usage:   "Run HTTP server with WebSocket relay, REST API, and MCP endpoint",
				Action:  runServe,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run MCP stdio server with internal HTTP server",
				Action:  runStdioMCP,
			},
		},
	}
}

// loadSettings reads the environment and applies any flags the user set.
func loadSettings(cmd *cli.Command) (config.Settings, error) {
	settings, err := config.Load()
	if err != nil {
		return config.Settings{}, err
	}

	if cmd.IsSet("host") {
		settings.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		settings.Port = cmd.Int("port")
	}
	if cmd.IsSet("allowed-origin") {
		settings.AllowedOrigins = cmd.StringSlice("allowed-origin")
	}
	if cmd.IsSet("max-body") {
		settings.MaxBodyRunes = cmd.Int("max-body")
	}
	if cmd.IsSet("typing-idle") {
		settings.TypingIdle = cmd.Duration("typing-idle")
	}
	if cmd.IsSet("typing-display") {
		settings.TypingDisplay = cmd.Duration("typing-display")
	}
	if cmd.IsSet("ngrok") {
		settings.NgrokEnabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		settings.NgrokAuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		settings.NgrokDomain = cmd.String("ngrok-domain")
	}
	if cmd.Bool("debug") {
		settings.LogLevel = "debug"
	}

	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

// newLogger writes to stderr so stdio-mcp keeps stdout for the protocol.
func newLogger(settings config.Settings) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: settings.Level()}))
}

// relay wires the chat core to its transports.
type relay struct {
	settings config.Settings
	logger   *slog.Logger
	chat     service.ChatService
	hub      *websocket.Hub
	api      *api.Server
}

func newRelay(settings config.Settings, logger *slog.Logger) *relay {
	chat := service.NewChatService(session.NewRegistry(),
		service.WithLogger(logger),
		service.WithTypingDelays(settings.TypingIdle, settings.TypingDisplay),
	)
	hub := websocket.NewHub(chat, settings, logger)
	return &relay{
		settings: settings,
		logger:   logger,
		chat:     chat,
		hub:      hub,
		api:      api.NewServer(chat, hub, settings, logger),
	}
}

// runServe starts the HTTP server with the WebSocket hub, REST API, and an
// /mcp endpoint. If ngrok is enabled it also provisions a public tunnel.
func runServe(ctx context.Context, cmd *cli.Command) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(settings)
	logger.Info("starting", "app", AppName, "version", Version, "mode", "serve")

	r := newRelay(settings, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go r.hub.Run(hubCtx)

	addr := settings.Addr()
	mcpClient := mcp.NewClient("http://" + addr)
	r.api.Handle("/mcp", mcpClient.HTTPHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r.api,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info("HTTP server listening", "addr", addr,
			"websocket", "ws://"+addr+"/ws",
			"api", "http://"+addr+"/api",
			"mcp", "http://"+addr+"/mcp")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if settings.NgrokEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveNgrok(ctx, settings, r.api, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
	}

	// Close sockets first so every participant's leave is broadcast while
	// the server still drains.
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("HTTP server shutdown error", "error", shutdownErr)
	}

	wg.Wait()
	logger.Info("server stopped")
	return err
}

// serveNgrok exposes handler through an ngrok tunnel until ctx is done.
func serveNgrok(ctx context.Context, settings config.Settings, handler http.Handler, logger *slog.Logger) {
	logger = logger.With("component", "ngrok")
	logger.Info("starting ngrok tunnel")

	var tunnel ngrokConfig.Tunnel
	if settings.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(settings.NgrokDomain))
		logger.Info("using custom ngrok domain", "domain", settings.NgrokDomain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(settings.NgrokAuthToken))
	if err != nil {
		logger.Error("failed to start ngrok tunnel", "error", err)
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn("failed to close ngrok tunnel", "error", err)
		}
	}()

	url := tun.URL()
	logger.Info("ngrok tunnel established", "url", url,
		"websocket", url+"/ws",
		"api", url+"/api",
		"mcp", url+"/mcp")

	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		logger.Error("ngrok server error", "error", err)
	}
	logger.Info("ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server. It reuses a relay already listening
// on the configured address; otherwise it starts an internal one on a random
// loopback port and targets that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(settings)

	baseURL := "http://" + settings.Addr()
	logger.Info("checking for external relay", "url", baseURL)

	probe := &http.Client{Timeout: 2 * time.Second}
	resp, err := probe.Get(baseURL + "/health")
	if err == nil && resp.StatusCode == http.StatusOK {
		resp.Body.Close()
		logger.Info("external relay found, using it for MCP", "url", baseURL)
	} else {
		if resp != nil {
			resp.Body.Close()
		}
		logger.Info("no external relay found, starting internal HTTP server")

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}

		r := newRelay(settings, logger)
		go r.hub.Run(ctx)

		httpServer := &http.Server{Handler: r.api, ReadHeaderTimeout: 15 * time.Second}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("internal HTTP server error", "error", err)
			}
		}()
		defer httpServer.Close()

		baseURL = "http://" + listener.Addr().String()
		logger.Info("internal HTTP server ready", "url", baseURL)
	}

	mcpClient := mcp.NewClient(baseURL)
	logger.Info("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
