package waste

import "github.com/paulmach/orb"

// Stamp sets the waste type of every record in place. It is used for
// datasets that do not carry an inline category field.
func Stamp(records []ContainerRecord, wasteType string) {
	for i := range records {
		records[i].WasteType = wasteType
	}
}

// Grouped maps waste types to container locations. Types keep first-seen
// order and locations keep insertion order; duplicates are preserved.
type Grouped struct {
	order  []string
	byType map[string][]orb.Point
}

// Group partitions records by waste type.
func Group(records []ContainerRecord) *Grouped {
	g := &Grouped{byType: make(map[string][]orb.Point)}
	for _, r := range records {
		g.add(r.WasteType, r.Location)
	}
	return g
}

func (g *Grouped) add(wasteType string, p orb.Point) {
	if _, ok := g.byType[wasteType]; !ok {
		g.order = append(g.order, wasteType)
	}
	g.byType[wasteType] = append(g.byType[wasteType], p)
}

// Filter restricts the grouping to the selected waste type by exact match.
// AllWasteTypes passes every entry through. A selection with no records
// yields an empty entry for that type rather than omitting the key.
func (g *Grouped) Filter(selection string) *Grouped {
	if selection == AllWasteTypes {
		return g.clone()
	}

	locs := g.byType[selection]
	out := make([]orb.Point, len(locs))
	copy(out, locs)
	return &Grouped{
		order:  []string{selection},
		byType: map[string][]orb.Point{selection: out},
	}
}

func (g *Grouped) clone() *Grouped {
	c := &Grouped{
		order:  make([]string, len(g.order)),
		byType: make(map[string][]orb.Point, len(g.byType)),
	}
	copy(c.order, g.order)
	for t, locs := range g.byType {
		cp := make([]orb.Point, len(locs))
		copy(cp, locs)
		c.byType[t] = cp
	}
	return c
}

// Types returns the waste types in first-seen order.
func (g *Grouped) Types() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Locations returns the locations recorded for a waste type.
func (g *Grouped) Locations(wasteType string) []orb.Point {
	return g.byType[wasteType]
}

// Has reports whether the grouping carries an entry (possibly empty) for the type.
func (g *Grouped) Has(wasteType string) bool {
	_, ok := g.byType[wasteType]
	return ok
}

// Counts returns the number of locations per waste type.
func (g *Grouped) Counts() map[string]int {
	out := make(map[string]int, len(g.byType))
	for t, locs := range g.byType {
		out[t] = len(locs)
	}
	return out
}

// Len returns the total number of locations across all types.
func (g *Grouped) Len() int {
	n := 0
	for _, locs := range g.byType {
		n += len(locs)
	}
	return n
}
