package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/villedata/communes-cli/internal/resilience"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimConfig configures the rate-limited Nominatim provider.
type NominatimConfig struct {
	BaseURL string
	// UserAgent is mandatory: Nominatim rejects anonymous clients.
	UserAgent string
	// MinInterval is the minimum spacing between live API calls (1s per the
	// Nominatim usage policy).
	MinInterval time.Duration
	CacheFile   string
	MaxRetries  int
	RetryDelay  time.Duration
	HTTPClient  *http.Client
}

// Nominatim geocodes communes one lookup at a time against the OpenStreetMap
// Nominatim API, with a persistent file cache and request spacing.
type Nominatim struct {
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	cache      *lookupCache
	retry      resilience.RetryConfig
	httpClient *http.Client
	log        *zap.Logger
}

// NewNominatim builds the provider and loads its lookup cache.
func NewNominatim(cfg NominatimConfig) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNominatimURL
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Nominatim{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		cache:     loadLookupCache(cfg.CacheFile),
		retry: resilience.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			Delay:       cfg.RetryDelay,
			OnRetry:     resilience.RetryLogger("nominatim", "search"),
		},
		httpClient: cfg.HTTPClient,
		log:        zap.L().With(zap.String("component", "geocode.nominatim")),
	}
}

// Name implements Geocoder.
func (n *Nominatim) Name() string { return "nominatim" }

// nominatimPlace is one entry of the Nominatim search response.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City     string `json:"city"`
		Town     string `json:"town"`
		Village  string `json:"village"`
		Postcode string `json:"postcode"`
	} `json:"address"`
}

// Geocode implements Geocoder. Cache hits skip the network entirely; live
// answers are cached permanently, while empty responses are returned as a
// miss and NOT cached so a later run can retry.
func (n *Nominatim) Geocode(ctx context.Context, city, postalCode string) (*Result, error) {
	if cached, ok := n.cache.get(city, postalCode); ok {
		n.log.Debug("cache hit", zap.String("city", city), zap.String("postal_code", postalCode))
		return cached, nil
	}

	n.log.Info("geocoding via nominatim",
		zap.String("city", city), zap.String("postal_code", postalCode))

	places, err := resilience.DoVal(ctx, n.retry, func(ctx context.Context) ([]nominatimPlace, error) {
		return n.search(ctx, city, postalCode)
	})
	if err != nil {
		// Exhausted retries degrade to "no coordinates", never a pipeline failure.
		n.log.Warn("nominatim lookup failed",
			zap.String("city", city), zap.String("postal_code", postalCode), zap.Error(err))
		return nil, nil
	}
	if len(places) == 0 {
		n.log.Warn("no nominatim match",
			zap.String("city", city), zap.String("postal_code", postalCode))
		return nil, nil
	}

	place := places[0]
	lat, latErr := strconv.ParseFloat(place.Lat, 64)
	lon, lonErr := strconv.ParseFloat(place.Lon, 64)
	if latErr != nil || lonErr != nil {
		n.log.Warn("unparseable nominatim coordinates",
			zap.String("lat", place.Lat), zap.String("lon", place.Lon))
		return nil, nil
	}

	matchedCity := place.Address.City
	if matchedCity == "" {
		matchedCity = place.Address.Town
	}
	if matchedCity == "" {
		matchedCity = place.Address.Village
	}
	if matchedCity == "" {
		matchedCity = city
	}
	postcode := place.Address.Postcode
	if postcode == "" {
		postcode = postalCode
	}

	result := Result{
		Latitude:    lat,
		Longitude:   lon,
		Source:      "api",
		DisplayName: place.DisplayName,
		City:        matchedCity,
		Postcode:    postcode,
	}
	n.cache.put(city, postalCode, result)
	return &result, nil
}

// search performs one rate-limited API call. Server-side failures are marked
// transient so the retry loop keeps going; anything else fails fast.
func (n *Nominatim) search(ctx context.Context, city, postalCode string) ([]nominatimPlace, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim rate limit")
	}

	params := url.Values{
		"city":           {city},
		"postalcode":     {postalCode},
		"country":        {"fr"},
		"format":         {"json"},
		"limit":          {"1"},
		"addressdetails": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geocode: nominatim request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, resilience.NewTransientError(
			eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "geocode: nominatim read body"), 0)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	return places, nil
}

// CacheSize returns the number of persisted lookup entries.
func (n *Nominatim) CacheSize() int { return n.cache.size() }
