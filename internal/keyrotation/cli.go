package keyrotation

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/internal/store"
)

// RunCLI implements the `rotate-key` subcommand cmd/server dispatches to
// (see main.go's os.Args[1] switch). There's no CLI framework anywhere in
// this stack to reach for — flag.FlagSet is the whole ask for a handful of
// one-off operator flags on a job nobody runs more than a few times a year.
func RunCLI(ctx context.Context, s store.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("rotate-key", flag.ContinueOnError)
	oldKey := fs.String("old-key", "", "current 64-char hex encryption key")
	newKey := fs.String("new-key", "", "new 64-char hex encryption key")
	dryRun := fs.Bool("dry-run", false, "report counts without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *oldKey == "" || *newKey == "" {
		return fmt.Errorf("keyrotation: --old-key and --new-key are required")
	}
	if *oldKey == *newKey {
		return fmt.Errorf("keyrotation: old and new keys are identical")
	}

	oldBox, err := cryptoutil.NewBox(*oldKey)
	if err != nil {
		return fmt.Errorf("keyrotation: --old-key: %w", err)
	}
	newBox, err := cryptoutil.NewBox(*newKey)
	if err != nil {
		return fmt.Errorf("keyrotation: --new-key: %w", err)
	}

	result, err := Rotate(ctx, s, oldBox, newBox, *dryRun)
	if err != nil {
		fmt.Fprintf(out, "rotation halted: %d row(s) failed to decrypt under the old key\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Fprintf(out, "  credential %s: %v\n", f.CredentialID, f.Err)
		}
		fmt.Fprintln(out, "do NOT discard the old key; investigate and re-run")
		return err
	}

	if result.DryRun {
		fmt.Fprintf(out, "dry run: %d credential(s) would be rotated\n", result.Rotated)
		return nil
	}
	fmt.Fprintf(out, "rotation complete: %d credential(s) rotated\n", result.Rotated)
	fmt.Fprintln(out, "update MCPBOX_ENCRYPTION_KEY and restart the control plane and sandbox")
	return nil
}
