package waste

import (
	"fmt"
	"image/color"
	"strings"
)

// UnknownColor is used for markers whose waste type is not in the catalog.
var UnknownColor = color.NRGBA{128, 128, 128, 255}

// WasteType is one catalog entry.
type WasteType struct {
	Name  string      `json:"name"`
	Icon  string      `json:"icon"`
	Color color.NRGBA `json:"-"`
	Hex   string      `json:"color"`
}

// Catalog is the immutable waste-type lookup table (icon and color per type).
// It is built once at startup and shared by reference.
type Catalog struct {
	order []string
	types map[string]WasteType
}

// NewCatalog builds a catalog from config entries. Entry names must be unique.
func NewCatalog(entries []WasteTypeConfig) (*Catalog, error) {
	c := &Catalog{
		order: make([]string, 0, len(entries)),
		types: make(map[string]WasteType, len(entries)),
	}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("wasteTypes[%d].name is required", i)
		}
		if _, dup := c.types[e.Name]; dup {
			return nil, fmt.Errorf("duplicate waste type %q", e.Name)
		}
		col, err := parseHexColor(e.Color)
		if err != nil {
			return nil, fmt.Errorf("waste type %q: %w", e.Name, err)
		}
		c.order = append(c.order, e.Name)
		c.types[e.Name] = WasteType{Name: e.Name, Icon: e.Icon, Color: col, Hex: e.Color}
	}
	return c, nil
}

// Icon returns the icon reference for a waste type, or "" when unknown.
func (c *Catalog) Icon(name string) string {
	return c.types[name].Icon
}

// Color returns the marker color for a waste type.
func (c *Catalog) Color(name string) (color.NRGBA, bool) {
	wt, ok := c.types[name]
	if !ok {
		return UnknownColor, false
	}
	return wt.Color, true
}

// Known reports whether name is a catalog waste type.
func (c *Catalog) Known(name string) bool {
	_, ok := c.types[name]
	return ok
}

// Names returns the waste type names in configuration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Entries returns all entries in configuration order.
func (c *Catalog) Entries() []WasteType {
	out := make([]WasteType, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.types[name])
	}
	return out
}

// parseHexColor parses a hex color string like "#FF6B6B". An empty string
// yields UnknownColor.
func parseHexColor(hex string) (color.NRGBA, error) {
	if hex == "" {
		return UnknownColor, nil
	}

	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", hex)
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}

	return color.NRGBA{r, g, b, 255}, nil
}
