// Command worktally administers a worktally store: bootstrapping, integrity
// checks, XML export and import, and blob-backed backups.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "worktally:", err)
		os.Exit(1)
	}
}
