package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/keystone-supply/catalog-etl/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate <silver-file>",
	Short: "Validate a silver document against the system schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		res := validate.Document(data)

		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal report")
		}
		fmt.Println(string(out))

		if !res.Valid {
			return eris.Errorf("%s: %d validation errors", args[0], len(res.Errors))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
