package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"clicast/config"
	"clicast/handlers"
	"clicast/middleware"
	"clicast/services"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clicast",
		Short: "Expose local AI CLI tools to the browser",
		RunE:  runServe,
	}
	root.Flags().Int("port", 0, "listen port (overrides PORT and config file)")
	root.PersistentFlags().String("config", "", "config file path")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the clicast server",
		RunE:  runServe,
	}
	serve.Flags().Int("port", 0, "listen port (overrides PORT and config file)")

	resetToken := &cobra.Command{
		Use:   "reset-token",
		Short: "Clear the stored access token so it can be re-initialized",
		RunE:  runResetToken,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the clicast version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("clicast", version)
		},
	}

	root.AddCommand(serve, resetToken, versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(cmd *cobra.Command, env *config.Config) (*config.Store, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		env.ConfigPath = path
	}
	return config.NewStore(env.ConfigPath, env)
}

func runResetToken(cmd *cobra.Command, args []string) error {
	env := config.Load()
	store, err := openStore(cmd, env)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens := services.NewTokenStore(store)
	if !tokens.HasToken() {
		fmt.Println("No token configured.")
		return nil
	}
	if err := tokens.Clear(); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	fmt.Println("Token cleared. Initialize a new one via POST /api/auth/init.")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	env := config.Load()
	store, err := openStore(cmd, env)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens := services.NewTokenStore(store)
	registry := services.NewRegistry()
	devTerm := services.NewDevTerminal()

	terminalHandler := handlers.NewTerminalHandler(env, registry, tokens)
	devHandler := handlers.NewDevTerminalHandler(env, devTerm, tokens)

	r := newRouter(env, store, registry, tokens, terminalHandler, devHandler)

	port := store.Get().Port
	if flagPort, _ := cmd.Flags().GetInt("port"); flagPort != 0 {
		port = flagPort
	}

	srv := &http.Server{
		Addr:        ":" + strconv.Itoa(port),
		Handler:     r,
		IdleTimeout: env.HTTPIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("clicast listening on :%d (config %s)", port, store.Path())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	terminalHandler.Shutdown()
	devHandler.Shutdown()
	registry.Shutdown()
	devTerm.Kill()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newRouter(
	env *config.Config,
	store *config.Store,
	registry *services.Registry,
	tokens *services.TokenStore,
	terminalHandler *handlers.TerminalHandler,
	devHandler *handlers.DevTerminalHandler,
) *gin.Engine {
	authHandler := handlers.NewAuthHandler(tokens)
	sessionsHandler := handlers.NewSessionsHandler(store, registry)
	dirsHandler := handlers.NewDirsHandler(store)
	configHandler := handlers.NewConfigHandler(store)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(env.AllowedOrigins))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"success": true, "data": gin.H{"status": "ok"}})
	})

	// Auth bootstrap routes prove possession rather than requiring the
	// token header, so they stay reachable before first init.
	authLimiter := middleware.NewRateLimiter(10, time.Minute)
	auth := r.Group("/api/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.GET("/status", authHandler.Status)
		auth.POST("/init", authHandler.Init)
		auth.POST("/verify", authHandler.Verify)
	}
	r.PUT("/api/auth", authLimiter.Middleware(), authHandler.Rotate)

	protected := r.Group("/api")
	protected.Use(middleware.TokenRequired(tokens))
	{
		protected.DELETE("/auth", authHandler.Clear)

		protected.GET("/config", configHandler.Get)
		protected.PUT("/config", configHandler.Update)

		protected.GET("/dirs", dirsHandler.List)
		protected.GET("/dirs/breadcrumbs", dirsHandler.Breadcrumbs)

		protected.GET("/sessions", sessionsHandler.List)
		protected.POST("/sessions", sessionsHandler.Create)
		protected.GET("/sessions/:id", sessionsHandler.Get)
		protected.DELETE("/sessions/:id", sessionsHandler.Delete)
		protected.POST("/sessions/:id/stop", sessionsHandler.Stop)
	}

	// WebSocket routes authenticate via the token query parameter.
	r.GET("/ws", terminalHandler.HandleWebSocket)
	r.GET("/ws/dev", devHandler.HandleWebSocket)

	// Frontend SPA, when built alongside the binary.
	r.Static("/assets", "./static/assets")
	r.NoRoute(func(c *gin.Context) {
		if _, err := os.Stat("./static/index.html"); err == nil {
			c.File("./static/index.html")
			return
		}
		c.JSON(404, gin.H{"success": false, "error": "Not found"})
	})

	return r
}
