package main

import (
	"github.com/spf13/cobra"

	"github.com/villedata/communes-cli/pkg/geocode"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row counts per table and geocoding cache sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		regions, err := st.CountRegions(ctx)
		if err != nil {
			return err
		}
		departments, err := st.CountDepartments(ctx)
		if err != nil {
			return err
		}
		cities, err := st.CountCities(ctx)
		if err != nil {
			return err
		}

		cmd.Printf("regions: %d\ndepartments: %d\ncities: %d\n", regions, departments, cities)
		cmd.Printf("nominatim cache entries: %d\ngazetteer cache entries: %d\n",
			geocode.CachedLookups(cfg.Geocoding.Nominatim.CacheFile),
			geocode.CachedCommunes(cfg.Geocoding.GeoAPI.CacheFile))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
