package main

import (
	"os"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <type> <id> <pdf>",
	Short: "Run OCR on a certificate PDF, then detect and score",
	Long:  "Sends the PDF to the configured OCR provider, stores the extraction and runs detection. If OCR fails, detection uses the previously stored extraction.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		key, err := parseKey(args[0], args[1])
		if err != nil {
			return err
		}
		env, err := initVerify(ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.IngestExtraction(ctx, key, args[2])
		if err != nil {
			return err
		}
		formatDetectResult(os.Stdout, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
