package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"finnscout/internal/config"
	"finnscout/internal/reconcile"
	"finnscout/internal/store"
)

var (
	importFile string
	importType string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a bulk listing CSV into the complete table",
	Long: `Import listings from a pre-enrichment bulk source, such as a scraped
master list, to catch properties the alert emails missed.

Rows already present in the complete or fully-processed table are skipped.
Imported rows start unenriched; the next run geocodes them as usual.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if _, err := cfg.Namespace(importType); err != nil {
			return err
		}

		st := store.New(cfg.OutputDir, importType, cfg.Test.Enabled, cfg.Shared.PlaceCategories, logger)
		complete, err := st.Load(store.KindComplete)
		if err != nil {
			return err
		}
		processed, err := st.Load(store.KindProcessed)
		if err != nil {
			return err
		}
		bulk, err := st.LoadFile(importFile)
		if err != nil {
			return err
		}
		if len(bulk) == 0 {
			return fmt.Errorf("no listings found in %s", importFile)
		}

		merged, added := reconcile.ImportBulk(complete, processed, bulk, logger)
		if err := st.Save(store.KindComplete, merged); err != nil {
			return err
		}
		fmt.Printf("imported %d of %d listings into the %s complete table\n",
			added, len(bulk), importType)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "CSV file to import (required)")
	importCmd.Flags().StringVarP(&importType, "type", "t", "rental", "property type: rental or sales")
	_ = importCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(importCmd)
}
