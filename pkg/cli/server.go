package cli

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	urfave "github.com/urfave/cli/v2"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 60
	serverMaxHeaderBytes      = 20
	serverMaxBodyBytes        = 1 << 16
)

var (
	//go:embed assets/* templates/*
	embedFS embed.FS

	portFlag = &urfave.IntFlag{
		Name:  "port",
		Usage: "Port on which the server will listen (default: server.port from config)",
	}

	noBrowserFlag = &urfave.BoolFlag{
		Name:    "no-browser",
		Aliases: []string{"nb"},
		Usage:   "Do not open browser automatically",
	}

	serverCmd = &urfave.Command{
		Name:    "server",
		Aliases: []string{"serve"},
		Usage:   "Start local HTTP server with the prediction form",
		Action:  cmdStartServer,
		Flags: []urfave.Flag{
			portFlag,
			noBrowserFlag,
		},
	}
)

func cmdStartServer(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)
	port := cfg.Config.Server.Port
	if c.IsSet(portFlag.Name) {
		port = c.Int(portFlag.Name)
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	if !cfg.Predictor.Ready() {
		slog.Warn("no trained model yet, predictions fail until training succeeds")
	}

	s := &http.Server{
		Addr:           address,
		Handler:        makeRouter(cfg),
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	url := fmt.Sprintf("http://%s", address)
	slog.Info("server started", "address", url)

	if !c.Bool(noBrowserFlag.Name) {
		openBrowser(url)
	}

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("starting server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error shutting down server", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

func makeRouter(cfg *appConfig) *http.ServeMux {
	tmpl := template.Must(template.New("").Funcs(templateFuncs).ParseFS(embedFS, "templates/*.html"))

	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(embedFS)))
	mux.HandleFunc("GET /favicon.ico", faviconHandler)

	// Views
	mux.HandleFunc("GET /{$}", homeViewHandler(tmpl, cfg.Predictor))
	mux.HandleFunc("GET /predict", predictFormHandler(tmpl))
	mux.HandleFunc("POST /predict", predictSubmitHandler(tmpl, cfg.Predictor))

	// API
	mux.HandleFunc("GET /api/status", statusAPIHandler(cfg.Predictor))
	mux.HandleFunc("POST /api/predict", predictAPIHandler(cfg.Predictor))
	mux.HandleFunc("GET /api/runs", runsAPIHandler(cfg.DB))
	mux.HandleFunc("GET /api/runs/{id}", runAPIHandler(cfg.DB))

	return mux
}

func openBrowser(url string) {
	var cmd string
	args := make([]string, 0, 1)

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
	case "linux":
		cmd = "xdg-open"
	default: // windows
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler"}
	}

	args = append(args, url)
	if err := exec.Command(cmd, args...).Start(); err != nil {
		slog.Error("failed to open browser", "error", err)
	}
}
