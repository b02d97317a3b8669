package main

import (
	"github.com/spf13/cobra"

	"github.com/villedata/communes-cli/internal/pipeline"
	"github.com/villedata/communes-cli/internal/seed"
)

var (
	migrateDataset     string
	migrateGenerateCSV string
	migrateGenerateOut string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Schema and reference data management",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create the schema and populate regions and departments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dataset := migrateDataset
		if dataset == "" {
			dataset = cfg.Seed.DatasetPath
		}
		doc, err := seed.LoadFile(dataset)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := seed.New(st).Populate(ctx, doc)
		if err != nil {
			return err
		}

		cmd.Printf("regions created=%d, departments created=%d updated=%d\n",
			stats.RegionsCreated, stats.DepartmentsCreated, stats.DepartmentsUpdated)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Remove all regions and departments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := seed.New(st).Teardown(ctx)
		if err != nil {
			return err
		}

		cmd.Printf("departments deleted=%d, regions deleted=%d\n",
			stats.DepartmentsDeleted, stats.RegionsDeleted)
		return nil
	},
}

var migrateGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Rebuild the regions/departments dataset from a commune CSV export",
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath := migrateGenerateCSV
		if csvPath == "" {
			csvPath = cfg.CSV.Path
		}
		out := migrateGenerateOut
		if out == "" {
			out = cfg.Seed.DatasetPath
		}

		doc, err := seed.Generate(cmd.Context(), csvPath, pipeline.CSVOptions(cfg.CSV))
		if err != nil {
			return err
		}
		if err := seed.Save(doc, out); err != nil {
			return err
		}

		departments := 0
		for _, r := range doc.Regions {
			departments += len(r.Departments)
		}
		cmd.Printf("wrote %s: %d regions, %d departments\n", out, len(doc.Regions), departments)
		return nil
	},
}

func init() {
	migrateUpCmd.Flags().StringVar(&migrateDataset, "dataset", "", "regions/departments JSON path (default from config)")
	migrateGenerateCmd.Flags().StringVar(&migrateGenerateCSV, "csv", "", "commune CSV path (default from config)")
	migrateGenerateCmd.Flags().StringVar(&migrateGenerateOut, "out", "", "output dataset path (default from config)")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateGenerateCmd)
	rootCmd.AddCommand(migrateCmd)
}
