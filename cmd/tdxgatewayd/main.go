// Command tdxgatewayd runs the TDX trust gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/posix4e/tdx-trust-gateway/pkg/cmd/serve"
	"github.com/posix4e/tdx-trust-gateway/pkg/cmdutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := cmdutil.NewFactory("")

	root := &cobra.Command{
		Use:   "tdxgatewayd",
		Short: "TDX trust gateway",
		Long: heredoc.Doc(`
			tdxgatewayd verifies Intel TDX attestation, build provenance, and
			measurement baselines for registered workloads before proxying
			requests to them.
		`),
		SilenceUsage: true,
	}

	root.AddCommand(serve.NewCmdServe(f, nil))
	return root
}
