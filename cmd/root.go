package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/civil-registry/internal/config"
)

var cfg *config.Config

// Persistent overrides for the settings most often switched per invocation.
// Empty values leave config.yaml and REGISTRY_* env in charge.
var (
	rootDatabaseURL  string
	rootStoreDriver  string
	rootFieldsFile   string
	rootReopenTarget string
)

var rootCmd = &cobra.Command{
	Use:   "registry-cli",
	Short: "Civil registry document verification workflow",
	Long: `Compares OCR output of scanned certificates with entered form data,
scores data quality and drives the review workflow from draft to archive.

Settings come from ./config.yaml and REGISTRY_* environment variables
(REGISTRY_STORE_DATABASE_URL, REGISTRY_OCR_ENDPOINT, ...). The persistent
flags below override them for a single run.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyRootFlags(c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func applyRootFlags(c *config.Config) {
	if rootStoreDriver != "" {
		c.Store.Driver = rootStoreDriver
	}
	if rootDatabaseURL != "" {
		c.Store.DatabaseURL = rootDatabaseURL
	}
	if rootFieldsFile != "" {
		c.Verify.FieldsFile = rootFieldsFile
	}
	if rootReopenTarget != "" {
		c.Workflow.ReopenTarget = rootReopenTarget
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootStoreDriver, "store", "", "store driver: postgres or sqlite")
	pf.StringVar(&rootDatabaseURL, "db", "", "database URL or SQLite file path")
	pf.StringVar(&rootFieldsFile, "fields", "", "YAML file overriding the tracked fields per certificate type")
	pf.StringVar(&rootReopenTarget, "reopen-target", "", "where rejected certificates may reopen: any, pending_review or draft")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
