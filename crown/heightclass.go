package crown

import (
	"fmt"
	"image/color"
	"strings"
)

// HeightClassScheme names a set of tree height bins.
type HeightClassScheme string

const (
	// HeightClassesWerner is the forest structure scheme used for
	// regeneration surveys.
	HeightClassesWerner HeightClassScheme = "werner"
	// HeightClassesArbitrary uses even two metre bins.
	HeightClassesArbitrary HeightClassScheme = "arbitrary"
)

// HeightClass is one left-closed bin [Min, Max).
type HeightClass struct {
	Label string
	Min   float64
	Max   float64
	Color color.NRGBA
}

var wernerClasses = []HeightClass{
	{Label: "0.5-1.5m", Min: 0.5, Max: 1.5, Color: hexColor("#0000FF")},
	{Label: "1.5-5m", Min: 1.5, Max: 5, Color: hexColor("#00EEEE")},
	{Label: "5-10m", Min: 5, Max: 10, Color: hexColor("#FFFF00")},
	{Label: "10+m", Min: 10, Max: 30, Color: hexColor("#FF0000")},
}

var arbitraryClasses = []HeightClass{
	{Label: "2-4m", Min: 2, Max: 4, Color: hexColor("#0000FF")},
	{Label: "4-6m", Min: 4, Max: 6, Color: hexColor("#0077F6")},
	{Label: "6-8m", Min: 6, Max: 8, Color: hexColor("#00EEEE")},
	{Label: "8-10m", Min: 8, Max: 10, Color: hexColor("#7FF676")},
	{Label: "10-12m", Min: 10, Max: 12, Color: hexColor("#FFFF00")},
	{Label: "12-14m", Min: 12, Max: 14, Color: hexColor("#FF7F00")},
	{Label: "14-16m", Min: 14, Max: 16, Color: hexColor("#FF0000")},
}

// unclassifiedColor fills crowns outside every bin.
var unclassifiedColor = color.NRGBA{R: 160, G: 160, B: 160, A: 255}

// ParseHeightClassScheme validates a scheme name. Empty selects werner.
func ParseHeightClassScheme(s string) (HeightClassScheme, error) {
	switch HeightClassScheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", HeightClassesWerner:
		return HeightClassesWerner, nil
	case HeightClassesArbitrary:
		return HeightClassesArbitrary, nil
	}
	return "", fmt.Errorf("unknown height class scheme %q (want %q or %q)",
		s, HeightClassesWerner, HeightClassesArbitrary)
}

// Classes returns the bins of the scheme in ascending order.
func (s HeightClassScheme) Classes() []HeightClass {
	if s == HeightClassesArbitrary {
		return arbitraryClasses
	}
	return wernerClasses
}

// Classify returns the bin holding height. ok is false when the height is
// below the first or at/above the last bound.
func (s HeightClassScheme) Classify(height float64) (HeightClass, bool) {
	for _, c := range s.Classes() {
		if height >= c.Min && height < c.Max {
			return c, true
		}
	}
	return HeightClass{}, false
}

func hexColor(s string) color.NRGBA {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		panic(fmt.Sprintf("bad colour literal %q", s))
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}
