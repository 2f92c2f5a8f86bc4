package waste

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/paulmach/orb"
)

// ErrUnknownNeighborhood is returned when a lookup names a neighborhood that
// is not in the fetched list.
var ErrUnknownNeighborhood = errors.New("unknown neighborhood")

// Fetcher is the open-data surface the Locator depends on.
// GeoFilterClient implements it.
type Fetcher interface {
	FetchNeighborhoods(ctx context.Context) ([]Neighborhood, error)
	FetchGroup(ctx context.Context, boundary orb.Ring, group DatasetGroup) ([]ContainerRecord, error)
}

// LookupResult is the outcome of one neighborhood lookup.
type LookupResult struct {
	Neighborhood string         `json:"neighborhood"`
	Group        string         `json:"group"`
	Selection    string         `json:"selection"`
	View         MapView        `json:"view"`
	Counts       map[string]int `json:"counts"`
	Degraded     bool           `json:"degraded"` // upstream failed for at least one dataset
}

// Locator chains neighborhood selection, container fetch, grouping and
// map framing.
type Locator struct {
	fetcher Fetcher
	groups  []DatasetGroup
	builder *MapViewBuilder
	log     logr.Logger
}

// NewLocator creates a Locator over the configured dataset groups.
func NewLocator(fetcher Fetcher, cfg OpenDataConfig, builder *MapViewBuilder, log logr.Logger) *Locator {
	return &Locator{
		fetcher: fetcher,
		groups:  cfg.Groups,
		builder: builder,
		log:     log.WithName("locator"),
	}
}

// Groups returns the configured dataset groups.
func (l *Locator) Groups() []DatasetGroup {
	return l.groups
}

// Neighborhoods returns the neighborhood list. An upstream failure yields an
// empty list so selectors render without options instead of failing.
func (l *Locator) Neighborhoods(ctx context.Context) []Neighborhood {
	ns, err := l.fetcher.FetchNeighborhoods(ctx)
	if err != nil {
		l.log.Error(err, "neighborhood list unavailable")
		return []Neighborhood{}
	}
	return ns
}

// Find returns the neighborhood with the given name.
func (l *Locator) Find(ctx context.Context, name string) (Neighborhood, error) {
	ns, err := l.fetcher.FetchNeighborhoods(ctx)
	if err != nil {
		return Neighborhood{}, err
	}
	for _, n := range ns {
		if n.Name == name {
			return n, nil
		}
	}
	return Neighborhood{}, fmt.Errorf("%w: %q", ErrUnknownNeighborhood, name)
}

// Lookup fetches the containers of a dataset group inside the named
// neighborhood, filters them by selection and frames the map.
//
// Upstream container failures do not fail the lookup: whatever records were
// fetched are used (possibly none) and Degraded is set. Unknown neighborhoods
// and groups, or an unavailable neighborhood list, are returned as errors.
func (l *Locator) Lookup(ctx context.Context, name, group, selection string) (LookupResult, error) {
	if selection == "" {
		selection = AllWasteTypes
	}

	g, ok := l.group(group)
	if !ok {
		return LookupResult{}, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}

	n, err := l.Find(ctx, name)
	if err != nil {
		return LookupResult{}, err
	}

	degraded := false
	records, err := l.fetcher.FetchGroup(ctx, n.Boundary, g)
	if err != nil {
		l.log.Error(err, "container fetch degraded", "neighborhood", n.Name, "group", g.Name, "records", len(records))
		degraded = true
	}

	grouped := Group(records).Filter(selection)
	view := l.builder.Build(n.Boundary, grouped)

	l.log.V(1).Info("lookup", "neighborhood", n.Name, "group", g.Name, "selection", selection, "markers", len(view.Markers), "zoom", view.Zoom)

	return LookupResult{
		Neighborhood: n.Name,
		Group:        g.Name,
		Selection:    selection,
		View:         view,
		Counts:       grouped.Counts(),
		Degraded:     degraded,
	}, nil
}

func (l *Locator) group(name string) (DatasetGroup, bool) {
	for _, g := range l.groups {
		if g.Name == name {
			return g, true
		}
	}
	return DatasetGroup{}, false
}
