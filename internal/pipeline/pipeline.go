// Package pipeline orchestrates a full commune ETL run: stream the CSV,
// transform and enrich, then load inside a single transaction.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/villedata/communes-cli/internal/config"
	"github.com/villedata/communes-cli/internal/extract"
	"github.com/villedata/communes-cli/internal/load"
	"github.com/villedata/communes-cli/internal/store"
	"github.com/villedata/communes-cli/internal/transform"
	"github.com/villedata/communes-cli/pkg/geocode"
)

// RunOptions parameterizes one ETL run.
type RunOptions struct {
	CSVPath           string
	DuplicateHandling load.DuplicateMode
	Lenient           bool
	GeocodingEnabled  bool
	GeocoderName      string // "nominatim" or "geo_api"
	RefreshGazetteer  bool   // re-download the gazetteer even when cached
}

// Pipeline wires the ETL stages together.
type Pipeline struct {
	store store.Store
	cfg   *config.Config
	log   *zap.Logger
}

func New(st store.Store, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store: st,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "pipeline")),
	}
}

// Run executes extract, transform, and load. The load and everything the
// run writes shares one transaction: a failure anywhere leaves the database
// untouched. The open CSV file fails the run before the transaction starts.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (load.Stats, error) {
	var stats load.Stats

	reader, err := extract.OpenCSV(opts.CSVPath, CSVOptions(p.cfg.CSV))
	if err != nil {
		return stats, err
	}

	var geocoder geocode.Geocoder
	if opts.GeocodingEnabled {
		if geocoder, err = p.buildGeocoder(ctx, opts); err != nil {
			return stats, err
		}
	}

	start := time.Now()
	err = p.store.InTx(ctx, func(ctx context.Context, st store.Store) error {
		rows, errs := reader.Stream(ctx)
		cities, err := transform.NewCityTransformer(geocoder, opts.GeocodingEnabled).
			Transform(ctx, rows, errs)
		if err != nil {
			return err
		}

		loader := load.NewCityLoader(st, opts.DuplicateHandling, opts.Lenient)
		stats, err = loader.Load(ctx, cities)
		return err
	})
	if err != nil {
		return load.Stats{}, err
	}

	p.log.Info("pipeline run complete",
		zap.String("source", opts.CSVPath),
		zap.String("duplicate_handling", string(opts.DuplicateHandling)),
		zap.Bool("geocoding", opts.GeocodingEnabled),
		zap.Duration("took", time.Since(start)),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("dropped", stats.Dropped),
	)
	return stats, nil
}

func (p *Pipeline) buildGeocoder(ctx context.Context, opts RunOptions) (geocode.Geocoder, error) {
	switch opts.GeocoderName {
	case "nominatim":
		nc := p.cfg.Geocoding.Nominatim
		return geocode.NewNominatim(geocode.NominatimConfig{
			BaseURL:     nc.BaseURL,
			UserAgent:   nc.UserAgent,
			MinInterval: time.Duration(nc.MinIntervalMS) * time.Millisecond,
			CacheFile:   nc.CacheFile,
			MaxRetries:  nc.MaxRetries,
			RetryDelay:  time.Duration(nc.RetryDelaySecs) * time.Second,
		}), nil
	case "geo_api":
		gc := p.cfg.Geocoding.GeoAPI
		return geocode.NewGeoAPI(ctx, geocode.GeoAPIConfig{
			BaseURL:      gc.BaseURL,
			CacheFile:    gc.CacheFile,
			ForceRefresh: opts.RefreshGazetteer || gc.ForceRefresh,
			MaxRetries:   gc.MaxRetries,
			RetryDelay:   time.Duration(gc.RetryDelaySecs) * time.Second,
		}), nil
	default:
		return nil, eris.Errorf("pipeline: unknown geocoder %q (want nominatim or geo_api)", opts.GeocoderName)
	}
}

// CSVOptions maps the CSV section of the config onto extractor options.
func CSVOptions(cfg config.CSVConfig) extract.CSVOptions {
	opts := extract.CSVOptions{
		Encoding:   cfg.Encoding,
		LazyQuotes: cfg.LazyQuotes,
	}
	if cfg.Delimiter != "" {
		opts.Delimiter = rune(cfg.Delimiter[0])
	}
	return opts
}
