// Command releaser deploys and manages builds on a Docker host.
//
// Usage:
//
//	releaser validate --all
//	releaser deploy agro/portal@beta,fin/ledger@alpha
//	releaser deploy:daemon --all
//	releaser rollback agro/portal@beta 3.24.7-beta.2
//	releaser info
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// daemonSuffix marks an unattended invocation, as in "deploy:daemon".
const daemonSuffix = ":daemon"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(rewriteArgs(args))

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "releaser: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

// rewriteArgs turns "op:daemon" into "op --daemon".
func rewriteArgs(args []string) []string {
	if len(args) == 0 || !strings.HasSuffix(args[0], daemonSuffix) {
		return args
	}
	out := []string{strings.TrimSuffix(args[0], daemonSuffix), "--daemon"}
	return append(out, args[1:]...)
}
