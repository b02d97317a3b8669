package main

import (
	"github.com/spf13/cobra"

	"github.com/villedata/communes-cli/internal/load"
	"github.com/villedata/communes-cli/internal/pipeline"
)

var (
	pipelineCSVPath   string
	pipelineDuplicate string
	pipelineGeocode   bool
	pipelineGeocoder  string
	pipelineLenient   bool
	pipelineRefresh   bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Commune ETL runs",
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the commune ETL once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Unset flags fall back to the config file.
		if !cmd.Flags().Changed("duplicate-handling") && cfg.Pipeline.DuplicateHandling != "" {
			pipelineDuplicate = cfg.Pipeline.DuplicateHandling
		}
		if !cmd.Flags().Changed("lenient") {
			pipelineLenient = cfg.Pipeline.Lenient
		}
		if !cmd.Flags().Changed("enable-geocoding") {
			pipelineGeocode = cfg.Geocoding.Enabled
		}
		if !cmd.Flags().Changed("geocoder") && cfg.Geocoding.Provider != "" {
			pipelineGeocoder = cfg.Geocoding.Provider
		}

		mode, err := load.ParseDuplicateMode(pipelineDuplicate)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		csvPath := pipelineCSVPath
		if csvPath == "" {
			csvPath = cfg.CSV.Path
		}

		stats, err := pipeline.New(st, cfg).Run(ctx, pipeline.RunOptions{
			CSVPath:           csvPath,
			DuplicateHandling: mode,
			Lenient:           pipelineLenient,
			GeocodingEnabled:  pipelineGeocode,
			GeocoderName:      pipelineGeocoder,
			RefreshGazetteer:  pipelineRefresh,
		})
		if err != nil {
			return err
		}

		cmd.Printf("created=%d updated=%d skipped=%d dropped=%d\n",
			stats.Created, stats.Updated, stats.Skipped, stats.Dropped)
		return nil
	},
}

func init() {
	pipelineRunCmd.Flags().StringVar(&pipelineCSVPath, "csv", "", "commune CSV path (default from config)")
	pipelineRunCmd.Flags().StringVar(&pipelineDuplicate, "duplicate-handling", "skip", "what to do with already-stored communes: skip or replace")
	pipelineRunCmd.Flags().BoolVar(&pipelineGeocode, "enable-geocoding", true, "enrich missing coordinates through the geocoding provider")
	pipelineRunCmd.Flags().StringVar(&pipelineGeocoder, "geocoder", "geo_api", "geocoding provider: nominatim or geo_api")
	pipelineRunCmd.Flags().BoolVar(&pipelineLenient, "lenient", false, "drop communes with unknown departments instead of aborting")
	pipelineRunCmd.Flags().BoolVar(&pipelineRefresh, "refresh-gazetteer", false, "re-download the commune gazetteer instead of using the cached copy")

	pipelineCmd.AddCommand(pipelineRunCmd)
	rootCmd.AddCommand(pipelineCmd)
}
