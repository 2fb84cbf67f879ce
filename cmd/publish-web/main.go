// Package main runs the publisher API as a local web server.
//
// It serves the same routes as publish-lambda but backed by the local
// filesystem media store and in-memory session stores, so the full
// publish flow can be exercised against a real Instagram account
// without any AWS infrastructure. Prepared image variants are served
// from /ig-temp/ — Instagram fetches container images by URL, so the
// --base-url flag must be an address Instagram can reach (e.g. an
// ngrok tunnel) for publishing to succeed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/instagram-publisher/internal/api"
	"github.com/fpang/instagram-publisher/internal/credentials"
	"github.com/fpang/instagram-publisher/internal/instagram"
	"github.com/fpang/instagram-publisher/internal/logging"
	"github.com/fpang/instagram-publisher/internal/mediastore"
	"github.com/fpang/instagram-publisher/internal/preparer"
	"github.com/fpang/instagram-publisher/internal/progress"
	"github.com/fpang/instagram-publisher/internal/publisher"
	"github.com/fpang/instagram-publisher/internal/schedule"
)

// CLI flags
var (
	portFlag          int
	mediaDirFlag      string
	baseURLFlag       string
	dispatchEveryFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "publish-web",
	Short: "Local web server for Instagram publishing",
	Long: `Publish Web starts a local web server exposing the Instagram publish
API: post stored media, post pre-cropped URLs, poll publish status, and
manage scheduled posts.

Credentials come from the INSTAGRAM_ACCESS_TOKEN and INSTAGRAM_USER_ID
environment variables.

Examples:
  publish-web --media-dir ~/Pictures/posts
  publish-web --port 9090 --base-url https://example.ngrok.app`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVar(&mediaDirFlag, "media-dir", ".", "Directory holding source images")
	rootCmd.Flags().StringVar(&baseURLFlag, "base-url", "", "Public base URL for prepared variants (defaults to http://localhost:<port>)")
	rootCmd.Flags().DurationVar(&dispatchEveryFlag, "dispatch-every", time.Minute, "How often to dispatch due scheduled posts (0 disables)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	mediaDir, err := filepath.Abs(mediaDirFlag)
	if err != nil {
		log.Fatal().Err(err).Str("dir", mediaDirFlag).Msg("Invalid media directory")
	}
	if info, err := os.Stat(mediaDir); err != nil || !info.IsDir() {
		log.Fatal().Str("dir", mediaDir).Msg("Media directory does not exist")
	}

	baseURL := baseURLFlag
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", portFlag)
	}

	token := os.Getenv("INSTAGRAM_ACCESS_TOKEN")
	userID := os.Getenv("INSTAGRAM_USER_ID")
	if token == "" || userID == "" {
		log.Warn().Msg("INSTAGRAM_ACCESS_TOKEN / INSTAGRAM_USER_ID not set — publish requests will fail with 401")
	}
	creds := credentials.NewEnvProvider(token, userID, time.Time{})

	media := mediastore.NewLocalStore(mediaDir, baseURL)
	prep := preparer.New(media)
	igClient := instagram.NewClientWithCredentials(creds)
	orch := publisher.New(progress.NewMemoryStore(), igClient)
	scheduleStore := schedule.NewMemoryStore()
	svc := api.NewService(media, prep, orch, scheduleStore, creds)
	if appID := os.Getenv("INSTAGRAM_APP_ID"); appID != "" {
		svc = svc.WithOAuth(api.OAuthConfig{
			AppID:       appID,
			AppSecret:   os.Getenv("INSTAGRAM_APP_SECRET"),
			RedirectURI: os.Getenv("INSTAGRAM_REDIRECT_URI"),
		})
	}

	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/post-from-media", handlePostFromMedia(svc))
	mux.HandleFunc("/api/post-now", handlePostNow(svc))
	mux.HandleFunc("/api/post-status", handlePostStatus(svc))
	mux.HandleFunc("/api/schedule-post", handleSchedulePost(svc))
	mux.HandleFunc("/api/scheduled-posts", handleScheduledPosts(svc))
	mux.HandleFunc("/api/connect", handleConnect(svc))
	mux.HandleFunc("/api/health", handleHealth)

	// Prepared variants, fetched by Instagram during container creation.
	variantDir := filepath.Join(mediaDir, "ig-temp")
	mux.Handle("/ig-temp/", http.StripPrefix("/ig-temp/", http.FileServer(http.Dir(variantDir))))

	handler := withLogging(withCORS(mux))

	addr := fmt.Sprintf(":%d", portFlag)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if dispatchEveryFlag > 0 {
		dispatcher := schedule.NewDispatcher(scheduleStore, prep, orch)
		go runDispatchLoop(ctx, dispatcher, dispatchEveryFlag)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", portFlag).Str("mediaDir", mediaDir).Str("baseUrl", baseURL).Msg("Starting publish server")
	fmt.Printf("\n  Publish API: http://localhost:%d/api/health\n\n", portFlag)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// runDispatchLoop fires due scheduled posts on a fixed interval until ctx ends.
func runDispatchLoop(ctx context.Context, d *schedule.Dispatcher, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			count, err := d.DispatchDue(ctx, now)
			if err != nil {
				log.Error().Err(err).Msg("Scheduled dispatch failed")
				continue
			}
			if count > 0 {
				log.Info().Int("dispatched", count).Msg("Dispatched due scheduled posts")
			}
		}
	}
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only allow localhost origins for local dev
		origin := r.Header.Get("Origin")
		if origin != "" && (strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
