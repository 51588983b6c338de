package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quizdash/internal/config"
	transport "quizdash/internal/transport/http"
)

// NewServeBoardCmd starts the venue display server: a websocket feed of
// ranked leaderboard snapshots for full-board screens.
func NewServeBoardCmd(configPath *string) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve-board",
		Short: "Serve the leaderboard display feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeBoard(cmd.Context(), *configPath, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides config)")
	return cmd
}

func runServeBoard(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.cleanup()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Display.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	interval := config.TTLDuration(cfg.Display.Interval, 10*time.Second)

	handler := transport.NewBoardHandler(d.boards, interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/board", handler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("serving board display on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down display server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down display server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
