// Command storm runs statements and queries through the storm engine and
// reports the detected database dialect.
//
//	storm --driver sqlite --dsn file:app.db dialect
//	storm --driver postgres --dsn "$DATABASE_URL" query "SELECT * FROM USERS WHERE ID IN ?" 1 2
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
