package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <type> <id>",
	Short: "Show a certificate's workflow transition history",
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

		recs, err := env.Service.History(ctx, key)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No transitions recorded.")
			return nil
		}
		formatHistory(os.Stdout, recs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
