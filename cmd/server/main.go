/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the installment lifecycle server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store (entities + delayed message queue)
  3. Start the durable broker and subscribe the workers
  4. Create API handler with dependencies
  5. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: lending.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the broker (queued triggers survive in the database)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/lending.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  No environment variables currently. All config via flags.
  Future: DATABASE_URL, PORT, LOG_LEVEL

SEE ALSO:
  - api/server.go: Router configuration
  - schedule/broker.go: Delayed trigger delivery
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/allocation"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/api"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/generator"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/overdue"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/schedule"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "lending.db", "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Broker and workers. The store doubles as the message store, so
	// triggers survive restarts.
	broker := schedule.NewDurableBroker(store)
	gen := generator.New(store, broker)
	engine := allocation.New(store)
	worker := overdue.New(store, broker)

	broker.Subscribe(schedule.QueueGenerate, gen.HandleGenerate)
	broker.Subscribe(schedule.QueueOverdue, worker.HandleOverdue)

	if err := broker.Start(); err != nil {
		log.Fatalf("Failed to start broker: %v", err)
	}
	defer broker.Stop()

	readyCtx, cancelReady := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelReady()
	if err := broker.AwaitReady(readyCtx); err != nil {
		log.Fatalf("Broker never became ready: %v", err)
	}

	// Initialize handler and router
	handler := api.NewHandler(store, gen, engine)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
