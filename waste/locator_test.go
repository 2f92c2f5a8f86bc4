package waste

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-logr/logr"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	neighborhoods    []Neighborhood
	neighborhoodsErr error
	records          []ContainerRecord
	recordsErr       error
	groupsAsked      []string
}

func (f *fakeFetcher) FetchNeighborhoods(ctx context.Context) ([]Neighborhood, error) {
	return f.neighborhoods, f.neighborhoodsErr
}

func (f *fakeFetcher) FetchGroup(ctx context.Context, boundary orb.Ring, group DatasetGroup) ([]ContainerRecord, error) {
	f.groupsAsked = append(f.groupsAsked, group.Name)
	return f.records, f.recordsErr
}

func newTestLocator(t *testing.T, f Fetcher) *Locator {
	t.Helper()
	cfg := DefaultConfig()
	return NewLocator(f, cfg.OpenData, testBuilder(t), logr.Discard())
}

func TestLocator_Neighborhoods(t *testing.T) {
	f := &fakeFetcher{neighborhoods: []Neighborhood{{Name: "Russafa", Boundary: russafa}}}
	l := newTestLocator(t, f)
	assert.Len(t, l.Neighborhoods(context.Background()), 1)
}

func TestLocator_NeighborhoodsDegradesToEmpty(t *testing.T) {
	f := &fakeFetcher{neighborhoodsErr: ErrSourceUnavailable}
	l := newTestLocator(t, f)

	ns := l.Neighborhoods(context.Background())
	assert.NotNil(t, ns)
	assert.Empty(t, ns)
}

func TestLocator_LookupSelection(t *testing.T) {
	f := &fakeFetcher{
		neighborhoods: []Neighborhood{{Name: "Russafa", Boundary: russafa}},
		records:       sampleRecords(),
	}
	l := newTestLocator(t, f)
	ctx := context.Background()

	glass, err := l.Lookup(ctx, "Russafa", "solid", "Glass")
	require.NoError(t, err)
	assert.Len(t, glass.View.Markers, 2)
	assert.Equal(t, map[string]int{"Glass": 2}, glass.Counts)
	assert.False(t, glass.Degraded)

	all, err := l.Lookup(ctx, "Russafa", "solid", AllWasteTypes)
	require.NoError(t, err)
	assert.Len(t, all.View.Markers, 4)
	assert.Equal(t, 16, all.View.Zoom)

	defaulted, err := l.Lookup(ctx, "Russafa", "solid", "")
	require.NoError(t, err)
	assert.Equal(t, AllWasteTypes, defaulted.Selection)
	assert.Len(t, defaulted.View.Markers, 4)

	assert.Equal(t, []string{"solid", "solid", "solid"}, f.groupsAsked)
}

func TestLocator_LookupDegradedUpstream(t *testing.T) {
	f := &fakeFetcher{
		neighborhoods: []Neighborhood{{Name: "Russafa", Boundary: russafa}},
		records:       []ContainerRecord{},
		recordsErr:    fmt.Errorf("%w: dataset x: status 500", ErrSourceUnavailable),
	}
	l := newTestLocator(t, f)

	res, err := l.Lookup(context.Background(), "Russafa", "other", "Batteries")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.View.Markers)
	assert.Equal(t, 16, res.View.Zoom, "map is still framed")
}

func TestLocator_LookupErrors(t *testing.T) {
	f := &fakeFetcher{neighborhoods: []Neighborhood{{Name: "Russafa", Boundary: russafa}}}
	l := newTestLocator(t, f)
	ctx := context.Background()

	_, err := l.Lookup(ctx, "Atlantis", "solid", AllWasteTypes)
	assert.ErrorIs(t, err, ErrUnknownNeighborhood)

	_, err = l.Lookup(ctx, "Russafa", "hazardous", AllWasteTypes)
	assert.ErrorIs(t, err, ErrUnknownGroup)

	f.neighborhoodsErr = errors.New("boom")
	_, err = l.Lookup(ctx, "Russafa", "solid", AllWasteTypes)
	assert.Error(t, err)
}
