package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/villedata/communes-cli/internal/resilience"
)

const defaultGeoAPIURL = "https://geo.api.gouv.fr/communes"

// Commune is one gazetteer entry from geo.api.gouv.fr. Centre is a GeoJSON
// point: coordinates are [longitude, latitude].
type Commune struct {
	Nom    string `json:"nom"`
	Code   string `json:"code"`
	Centre struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"centre"`
}

// postalCode approximates the commune's postal code from its INSEE code.
// Communes spanning several postal codes make this inexact, which is why
// lookup falls back to prefix matching.
func (c Commune) postalCode() string {
	if len(c.Code) >= 5 {
		return c.Code[:5]
	}
	return c.Code
}

// GeoAPIConfig configures the bulk gazetteer provider.
type GeoAPIConfig struct {
	BaseURL      string
	CacheFile    string
	ForceRefresh bool
	MaxRetries   int
	RetryDelay   time.Duration
	HTTPClient   *http.Client
}

// GeoAPI geocodes communes against a locally indexed copy of the national
// gazetteer, downloaded once and cached on disk.
type GeoAPI struct {
	baseURL    string
	cacheFile  string
	retry      resilience.RetryConfig
	httpClient *http.Client
	log        *zap.Logger

	byCode map[string]*Commune
	byName map[string][]*Commune
}

// NewGeoAPI builds the provider and loads the gazetteer, from the cache file
// when present (unless a refresh is forced), otherwise from the live API.
// A failed download leaves an empty index; lookups then miss, they do not fail.
func NewGeoAPI(ctx context.Context, cfg GeoAPIConfig) *GeoAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeoAPIURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	g := &GeoAPI{
		baseURL:   cfg.BaseURL,
		cacheFile: cfg.CacheFile,
		retry: resilience.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			Delay:       cfg.RetryDelay,
			OnRetry:     resilience.RetryLogger("geoapi", "download communes"),
		},
		httpClient: cfg.HTTPClient,
		log:        zap.L().With(zap.String("component", "geocode.geoapi")),
		byCode:     map[string]*Commune{},
		byName:     map[string][]*Commune{},
	}

	if !cfg.ForceRefresh && g.loadFromCache() {
		return g
	}
	g.download(ctx)
	return g
}

// Name implements Geocoder.
func (g *GeoAPI) Name() string { return "geoapi" }

// Geocode implements Geocoder using the in-memory gazetteer index.
//
// Name collisions are disambiguated by postal code, then by a two-digit
// postal prefix. When neither matches, the first candidate wins: an accepted
// imprecision, stable within a run, preferred over dropping coordinates.
func (g *GeoAPI) Geocode(_ context.Context, city, postalCode string) (*Result, error) {
	if len(g.byCode) == 0 {
		g.log.Warn("gazetteer index empty, cannot geocode")
		return nil, nil
	}

	candidates := g.byName[normalizeName(city)]
	if len(candidates) == 0 {
		g.log.Warn("commune not in gazetteer",
			zap.String("city", city), zap.String("postal_code", postalCode))
		return nil, nil
	}

	match := candidates[0]
	if len(candidates) > 1 {
		match = g.disambiguate(candidates, city, postalCode)
	}
	return g.toResult(match), nil
}

func (g *GeoAPI) disambiguate(candidates []*Commune, city, postalCode string) *Commune {
	postal := strings.TrimSpace(postalCode)
	for len(postal) < 5 {
		postal = "0" + postal
	}

	for _, c := range candidates {
		if c.postalCode() == postal {
			return c
		}
	}
	for _, c := range candidates {
		if strings.HasPrefix(c.postalCode(), postal[:2]) {
			return c
		}
	}

	g.log.Debug("ambiguous commune name, using first candidate",
		zap.String("city", city),
		zap.String("chosen", candidates[0].Nom),
		zap.String("code", candidates[0].Code),
	)
	return candidates[0]
}

func (g *GeoAPI) toResult(c *Commune) *Result {
	if len(c.Centre.Coordinates) < 2 {
		return nil
	}
	return &Result{
		Latitude:    c.Centre.Coordinates[1],
		Longitude:   c.Centre.Coordinates[0],
		Source:      "geo_api",
		DisplayName: fmt.Sprintf("%s, France", c.Nom),
		City:        c.Nom,
		Postcode:    c.postalCode(),
	}
}

// CommuneCount returns the number of indexed gazetteer entries.
func (g *GeoAPI) CommuneCount() int { return len(g.byCode) }

func (g *GeoAPI) index(communes []Commune) {
	for i := range communes {
		c := &communes[i]
		g.byCode[c.Code] = c
		key := normalizeName(c.Nom)
		g.byName[key] = append(g.byName[key], c)
	}
}

// loadFromCache reads the gazetteer cache file; false means the caller
// should download instead.
func (g *GeoAPI) loadFromCache() bool {
	data, err := os.ReadFile(g.cacheFile)
	if err != nil {
		return false
	}
	var communes []Commune
	if err := json.Unmarshal(data, &communes); err != nil {
		g.log.Warn("corrupt gazetteer cache, re-downloading",
			zap.String("path", g.cacheFile), zap.Error(err))
		return false
	}
	g.index(communes)
	g.log.Info("gazetteer cache loaded",
		zap.String("path", g.cacheFile), zap.Int("communes", len(communes)))
	return true
}

// download fetches the full commune list and persists it to the cache file.
func (g *GeoAPI) download(ctx context.Context) {
	g.log.Info("downloading commune gazetteer", zap.String("url", g.baseURL))

	raw, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) ([]byte, error) {
		return g.fetch(ctx)
	})
	if err != nil {
		g.log.Error("gazetteer download failed", zap.Error(err))
		return
	}

	var communes []Commune
	if err := json.Unmarshal(raw, &communes); err != nil {
		g.log.Error("gazetteer parse failed", zap.Error(err))
		return
	}
	g.index(communes)

	if err := os.MkdirAll(filepath.Dir(g.cacheFile), 0o755); err == nil {
		if err := os.WriteFile(g.cacheFile, raw, 0o644); err != nil {
			g.log.Warn("writing gazetteer cache failed", zap.Error(err))
		}
	}
	g.log.Info("gazetteer downloaded", zap.Int("communes", len(communes)))
}

func (g *GeoAPI) fetch(ctx context.Context) ([]byte, error) {
	reqURL := g.baseURL + "?fields=nom,code,centre&format=json&boost=population"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: geoapi build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geocode: geoapi request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, resilience.NewTransientError(
			eris.Errorf("geocode: geoapi returned status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: geoapi returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geocode: geoapi read body"), 0)
	}
	return body, nil
}
