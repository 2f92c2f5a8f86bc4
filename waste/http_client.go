package waste

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for open-data calls.
	DefaultFetchTimeout = 30 * time.Second

	// defaultMaxParallel bounds concurrent dataset requests within one group.
	defaultMaxParallel = 4

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20

	neighborhoodsKey = "neighborhoods"
)

var (
	// ErrSourceUnavailable is returned when the open-data API answers with a
	// non-2xx status, cannot be reached, or returns malformed JSON.
	ErrSourceUnavailable = errors.New("data source unavailable")

	// ErrUnknownGroup is returned for a dataset group that is not configured.
	ErrUnknownGroup = errors.New("unknown dataset group")
)

// ClientOption configures a GeoFilterClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout     time.Duration
	client      *http.Client
	cacheTTL    time.Duration
	maxParallel int
	logger      logr.Logger
}

func defaultClientConfig(cfg OpenDataConfig) clientConfig {
	c := clientConfig{
		timeout:     cfg.Timeout,
		cacheTTL:    cfg.CacheTTL,
		maxParallel: defaultMaxParallel,
		logger:      logr.Discard(),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultFetchTimeout
	}
	return c
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.client = client
	}
}

// WithCacheTTL overrides the response cache TTL. Zero disables caching.
func WithCacheTTL(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.cacheTTL = d
	}
}

// WithMaxParallel bounds the number of concurrent dataset requests per group.
func WithMaxParallel(n int) ClientOption {
	return func(c *clientConfig) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// GeoFilterClient queries the open-data API for neighborhoods and for the
// containers inside a neighborhood polygon. Responses are cached per
// (boundary, dataset group) for the configured TTL.
type GeoFilterClient struct {
	baseURL             string
	neighborhoodDataset string
	simplifyTolerance   float64
	client              *http.Client
	maxParallel         int
	log                 logr.Logger

	neighborhoods *ttlCache[[]Neighborhood]
	containers    *ttlCache[[]ContainerRecord]
	flight        singleflight.Group
}

// NewGeoFilterClient creates a client for the configured open-data API.
func NewGeoFilterClient(cfg OpenDataConfig, opts ...ClientOption) (*GeoFilterClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("geofilter client: base URL is empty")
	}

	cc := defaultClientConfig(cfg)
	for _, opt := range opts {
		opt(&cc)
	}

	client := cc.client
	if client == nil {
		client = &http.Client{Timeout: cc.timeout}
	}

	neighborhoods, err := newTTLCache[[]Neighborhood](cc.cacheTTL)
	if err != nil {
		return nil, err
	}
	containers, err := newTTLCache[[]ContainerRecord](cc.cacheTTL)
	if err != nil {
		return nil, err
	}

	return &GeoFilterClient{
		baseURL:             cfg.BaseURL,
		neighborhoodDataset: cfg.NeighborhoodDataset,
		simplifyTolerance:   cfg.SimplifyTolerance,
		client:              client,
		maxParallel:         cc.maxParallel,
		log:                 cc.logger.WithName("opendata"),
		neighborhoods:       neighborhoods,
		containers:          containers,
	}, nil
}

// Close releases the response caches.
func (c *GeoFilterClient) Close() {
	c.neighborhoods.Close()
	c.containers.Close()
}

// Invalidate drops every cached response.
func (c *GeoFilterClient) Invalidate() {
	c.neighborhoods.Clear()
	c.containers.Clear()
}

// FetchNeighborhoods returns all neighborhoods sorted by name. Names are
// title-cased and unique; records without a usable polygon are skipped.
func (c *GeoFilterClient) FetchNeighborhoods(ctx context.Context) ([]Neighborhood, error) {
	if cached, ok := c.neighborhoods.Get(neighborhoodsKey); ok {
		return cached, nil
	}

	v, err, _ := c.flight.Do(neighborhoodsKey, func() (interface{}, error) {
		return c.RefreshNeighborhoods(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Neighborhood), nil
}

// RefreshNeighborhoods fetches the neighborhood list bypassing the cache and
// stores the result.
func (c *GeoFilterClient) RefreshNeighborhoods(ctx context.Context) ([]Neighborhood, error) {
	body, err := c.doFetch(ctx, c.datasetURL(c.neighborhoodDataset, nil))
	if err != nil {
		return nil, fmt.Errorf("%w: neighborhoods: %w", ErrSourceUnavailable, err)
	}

	resp, err := parseSearchResponse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: neighborhoods: %w", ErrSourceUnavailable, err)
	}

	seen := make(map[string]bool, len(resp.Records))
	out := make([]Neighborhood, 0, len(resp.Records))
	for _, rec := range resp.Records {
		name := titleName(rec.Fields.Name)
		if name == "" || seen[name] {
			continue
		}
		if rec.Fields.Shape == nil {
			c.log.V(1).Info("skipping neighborhood without geometry", "name", name)
			continue
		}
		ring, ok := outerRing(rec.Fields.Shape.Coordinates)
		if !ok {
			c.log.V(1).Info("skipping neighborhood with unusable geometry", "name", name)
			continue
		}
		seen[name] = true
		out = append(out, Neighborhood{Name: name, Boundary: ring})
	}

	collator := collate.New(language.Spanish)
	slices.SortFunc(out, func(a, b Neighborhood) int {
		return collator.CompareString(a.Name, b.Name)
	})

	c.neighborhoods.Set(neighborhoodsKey, out)
	c.log.V(1).Info("fetched neighborhoods", "count", len(out))
	return out, nil
}

// FetchContainers queries one dataset restricted to the boundary polygon.
// Records of datasets with a configured WasteType are stamped with it.
func (c *GeoFilterClient) FetchContainers(ctx context.Context, boundary orb.Ring, ds Dataset) ([]ContainerRecord, error) {
	body, err := c.doFetch(ctx, c.datasetURL(ds.ID, c.simplify(boundary)))
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %w", ErrSourceUnavailable, ds.ID, err)
	}

	resp, err := parseSearchResponse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %w", ErrSourceUnavailable, ds.ID, err)
	}

	records := make([]ContainerRecord, 0, len(resp.Records))
	for _, rec := range resp.Records {
		loc, ok := recordLocation(rec.Fields)
		if !ok {
			c.log.V(1).Info("skipping container without location", "dataset", ds.ID, "record", rec.RecordID)
			continue
		}
		records = append(records, ContainerRecord{WasteType: rec.Fields.WasteType, Location: loc})
	}

	if ds.WasteType != "" {
		Stamp(records, ds.WasteType)
	}
	return records, nil
}

// FetchGroup queries every dataset of the group and merges the results in
// dataset order. A failing dataset contributes no records; its error is
// joined into the returned error, and partial results are not cached.
func (c *GeoFilterClient) FetchGroup(ctx context.Context, boundary orb.Ring, group DatasetGroup) ([]ContainerRecord, error) {
	key := group.Name + "|" + GeofilterPolygon(boundary)
	if cached, ok := c.containers.Get(key); ok {
		return cached, nil
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		return c.fetchGroup(ctx, key, boundary, group)
	})
	records, _ := v.([]ContainerRecord)
	return records, err
}

func (c *GeoFilterClient) fetchGroup(ctx context.Context, key string, boundary orb.Ring, group DatasetGroup) ([]ContainerRecord, error) {
	results := make([][]ContainerRecord, len(group.Datasets))
	errs := make([]error, len(group.Datasets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)
	for i, ds := range group.Datasets {
		g.Go(func() error {
			records, err := c.FetchContainers(gctx, boundary, ds)
			if err != nil {
				c.log.Error(err, "dataset fetch failed, continuing without it", "group", group.Name, "dataset", ds.ID)
				errs[i] = err
				return nil
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	var merged []ContainerRecord
	for _, r := range results {
		merged = append(merged, r...)
	}
	if merged == nil {
		merged = []ContainerRecord{}
	}

	if err := errors.Join(errs...); err != nil {
		return merged, err
	}

	c.containers.Set(key, merged)
	c.log.V(1).Info("fetched container group", "group", group.Name, "count", len(merged))
	return merged, nil
}

// GeofilterPolygon builds the geofilter.polygon query value: every vertex as an
// escaped "(lat,lon)" pair, joined with an escaped comma.
func GeofilterPolygon(ring orb.Ring) string {
	parts := make([]string, len(ring))
	for i, p := range ring {
		parts[i] = "%28" + formatCoord(p.Lat()) + "%2C" + formatCoord(p.Lon()) + "%29"
	}
	return strings.Join(parts, "%2C")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// datasetURL builds the records search URL for a dataset. A nil boundary
// produces an unfiltered query.
func (c *GeoFilterClient) datasetURL(dataset string, boundary orb.Ring) string {
	sep := "?"
	if strings.Contains(c.baseURL, "?") {
		sep = "&"
	}

	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString(sep)
	b.WriteString("dataset=")
	b.WriteString(url.QueryEscape(dataset))
	b.WriteString("&q=&rows=-1")
	if len(boundary) > 0 {
		// Already escaped; url.Values would double-escape the percent signs.
		b.WriteString("&geofilter.polygon=")
		b.WriteString(GeofilterPolygon(boundary))
	}
	return b.String()
}

// simplify reduces long boundaries when a tolerance is configured. The
// original ring is returned if simplification would degenerate it.
func (c *GeoFilterClient) simplify(ring orb.Ring) orb.Ring {
	if c.simplifyTolerance <= 0 || len(ring) <= 4 {
		return ring
	}
	simplified, ok := simplify.DouglasPeucker(c.simplifyTolerance).Simplify(ring.Clone()).(orb.Ring)
	if !ok || len(simplified) < 4 {
		return ring
	}
	return simplified
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func (c *GeoFilterClient) doFetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP GET %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", rawURL, err)
	}

	return body, nil
}
