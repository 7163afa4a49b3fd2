package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/extract"
	"github.com/keystone-supply/catalog-etl/internal/model"
	"github.com/keystone-supply/catalog-etl/pkg/docling"
)

var extractOut string

var extractCmd = &cobra.Command{
	Use:   "extract <catalog-file>",
	Short: "Extract raw records from a catalog without transforming them",
	Long:  "Runs only the extraction stage and writes the bronze document as JSON. Useful for tuning header detection before spending engine tokens.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		sourceType, err := extract.DetectSourceType(path)
		if err != nil {
			return err
		}

		var bronze *model.Bronze
		switch sourceType {
		case model.SourceTypeExcel:
			bronze, err = extract.NewExcelReader(cfg.Extract).Read(path)
		case model.SourceTypePDF:
			engine := docling.NewClient(cfg.Docling.BaseURL)
			bronze, err = extract.NewDocumentReader(engine).Read(cmd.Context(), path)
		}
		if err != nil {
			return err
		}

		zap.L().Info("extraction complete",
			zap.String("file", path),
			zap.Int("records", bronze.RecordCount()),
		)

		out, err := json.MarshalIndent(bronze, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal bronze")
		}
		if extractOut != "" {
			return os.WriteFile(extractOut, out, 0o644)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractOut, "output", "o", "", "write bronze JSON to file instead of stdout")
	rootCmd.AddCommand(extractCmd)
}
