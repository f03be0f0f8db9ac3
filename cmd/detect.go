package main

import (
	"os"

	"github.com/spf13/cobra"
)

var detectJSON bool

var detectCmd = &cobra.Command{
	Use:   "detect <type> <id>",
	Short: "Detect discrepancies and score one certificate",
	Long:  "Compares the certificate with its latest stored OCR extraction, reconciles open discrepancies and stores the quality score.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		key, err := parseKey(args[0], args[1])
		if err != nil {
			return err
		}
		env, err := initVerify(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.DetectAndScore(ctx, key)
		if err != nil {
			return err
		}
		if detectJSON {
			return printJSON(os.Stdout, res)
		}
		formatDetectResult(os.Stdout, res)
		return nil
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(detectCmd)
}
