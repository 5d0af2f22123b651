/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the receivables ledger server, and hosts a few
  operator commands that work directly against the configured database.

COMMANDS:
  receivables [serve]          Start the HTTP API (default)
  receivables seed <scenario>  Reset the database and load a demo scenario
  receivables alerts           Print current due-date alerts as JSON
  receivables reconcile        Reconcile every customer once

STARTUP SEQUENCE (serve):
  1. Load .env into the environment (optional file)
  2. Load configuration (config.toml + RECEIVABLES_* env)
  3. Initialize zap logger
  4. Initialize SQLite store
  5. Create engine, handler and alert scheduler
  6. Configure HTTP router
  7. Start server with graceful shutdown

FLAGS:
  --db     SQLite database path, overrides database.path
           Use ":memory:" for in-memory database
  --port   HTTP server port, overrides app.port (serve only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the alert scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (http.shutdown_timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  receivables serve --db=./data/receivables.db

  # Demo data in a throwaway database
  receivables seed collections-book --db=./demo.db

SEE ALSO:
  - commands.go: Command implementations
  - api/server.go: Router configuration
  - config/config.go: Configuration sources
*/
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environment variables always win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
