package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var rescoreType string

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Re-run detection and scoring for every certificate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		t, err := optionalType(rescoreType)
		if err != nil {
			return err
		}
		env, err := initVerify(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Service.Rescore(ctx, t)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Certificates:\t%d\n", sum.Total)
		_, _ = fmt.Fprintf(w, "Scored:\t%d\n", sum.Scored)
		_, _ = fmt.Fprintf(w, "No OCR:\t%d\n", sum.OCRUnavailable)
		_, _ = fmt.Fprintf(w, "Failed:\t%d\n", sum.Failed)
		return w.Flush()
	},
}

func init() {
	rescoreCmd.Flags().StringVar(&rescoreType, "type", "", "only rescore one certificate type")
	rootCmd.AddCommand(rescoreCmd)
}
