// Command chargeimport imports utility-charge report archives for a control
// period and manages the data reviewers work with afterwards.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	importservice "github.com/FACorreiaa/charges-audit/internal/domain/import/service"
	"github.com/FACorreiaa/charges-audit/pkg/config"
)

// Exit codes.
const (
	exitError         = 1
	exitDocumentError = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var de *importservice.DocumentError
		if errors.As(err, &de) {
			os.Exit(exitDocumentError)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chargeimport",
		Short:         "Import and audit utility-charge reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newImportCmd(),
		newMigrateCmd(),
		newExportCmd(),
		newReviewCmd(),
		newSuppliersCmd(),
		newRulesCmd(),
		newSearchCmd(),
	)
	return root
}

// withDependencies loads configuration, builds the dependency graph and
// releases it after fn returns.
func withDependencies(fn func(d *Dependencies) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Log)

	deps, err := InitDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	return fn(deps)
}
