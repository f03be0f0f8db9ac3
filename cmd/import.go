package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/civil-registry/internal/importer"
)

const importBatchSize = 1000

var (
	importPath  string
	importSheet string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import certificate form data from CSV or XLSX",
	Long: "Loads certificates from a CSV or XLSX export with columns certificate_type, certificate_id, " +
		"registry_number, display_name followed by one column per form field. " +
		"Existing certificates are overwritten.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rows, err := importer.ReadFile(importPath, importer.XLSXOptions{SheetName: importSheet})
		if err != nil {
			return eris.Wrap(err, "import")
		}
		certs, err := importer.ParseCertificates(rows)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		env, err := initVerify(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		var imported int64
		for start := 0; start < len(certs); start += importBatchSize {
			end := min(start+importBatchSize, len(certs))
			n, err := env.Store.ImportCertificates(ctx, certs[start:end])
			if err != nil {
				return eris.Wrapf(err, "import rows %d-%d", start+1, end)
			}
			imported += n
		}

		zap.L().Info("import complete",
			zap.Int64("imported", imported),
			zap.String("file", importPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "file", "", "path to a .csv or .xlsx file (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for XLSX files (default first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
