package domain

import (
	"fmt"
	"sort"
)

// SensorHeightMM is the physical sensor height of the assumed capture device (GoPro).
const SensorHeightMM = 4.55

// DefaultCropTableVersion identifies the built-in reference table.
const DefaultCropTableVersion = "2021-06"

// CropClass is one entry of the closed crop taxonomy. ReferenceHeightMM is the
// typical height of a mature plant; zero means the height is not known.
type CropClass struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	ReferenceHeightMM float64 `json:"reference_height_mm"`
}

// CropTable is the immutable, index-addressable crop taxonomy shared by every
// triangulation. Detector output refers to classes by index.
type CropTable struct {
	version string
	classes []CropClass
	byName  map[string]int
}

// NewCropTable builds a table from an ordered list of class names and heights.
// Class indices are assigned from list position.
func NewCropTable(version string, classes []CropClass) (*CropTable, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("crop table %q has no classes", version)
	}
	t := &CropTable{
		version: version,
		classes: make([]CropClass, len(classes)),
		byName:  make(map[string]int, len(classes)),
	}
	for i, c := range classes {
		if c.Name == "" {
			return nil, fmt.Errorf("crop table %q: class %d has no name", version, i)
		}
		if c.ReferenceHeightMM < 0 {
			return nil, fmt.Errorf("crop table %q: class %s has negative height", version, c.Name)
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("crop table %q: duplicate class %s", version, c.Name)
		}
		c.Index = i
		t.classes[i] = c
		t.byName[c.Name] = i
	}
	return t, nil
}

// DefaultCropTable returns the built-in taxonomy used by the trained detector.
func DefaultCropTable() *CropTable {
	t, err := NewCropTable(DefaultCropTableVersion, defaultCropClasses())
	if err != nil {
		panic("default crop table: " + err.Error())
	}
	return t
}

func defaultCropClasses() []CropClass {
	return []CropClass{
		{Name: "tobacco"},
		{Name: "coffee"},
		{Name: "banana"},
		{Name: "tea"},
		{Name: "beans"},
		{Name: "maize", ReferenceHeightMM: 3000},
		{Name: "sorghum"},
		{Name: "millet"},
		{Name: "sweet_potatoes"},
		{Name: "cassava"},
		{Name: "rice"},
		{Name: "sugarcane", ReferenceHeightMM: 4000},
	}
}

// WithHeights returns a copy of the table with reference heights overridden by
// name. Unknown names are an error; the taxonomy itself cannot change.
func (t *CropTable) WithHeights(version string, heights map[string]float64) (*CropTable, error) {
	classes := t.Classes()
	names := make([]string, 0, len(heights))
	for name := range heights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		i, ok := t.byName[name]
		if !ok {
			return nil, fmt.Errorf("crop height override: unknown crop %q", name)
		}
		classes[i].ReferenceHeightMM = heights[name]
	}
	return NewCropTable(version, classes)
}

// Version identifies the reference data the table was built from.
func (t *CropTable) Version() string { return t.version }

// Len returns the number of classes.
func (t *CropTable) Len() int { return len(t.classes) }

// Class resolves a detector class index.
func (t *CropTable) Class(index int) (CropClass, error) {
	if index < 0 || index >= len(t.classes) {
		return CropClass{}, &UnknownCropClassError{Index: index}
	}
	return t.classes[index], nil
}

// Lookup resolves a class by name.
func (t *CropTable) Lookup(name string) (CropClass, bool) {
	i, ok := t.byName[name]
	if !ok {
		return CropClass{}, false
	}
	return t.classes[i], true
}

// Classes returns a copy of the taxonomy in index order.
func (t *CropTable) Classes() []CropClass {
	out := make([]CropClass, len(t.classes))
	copy(out, t.classes)
	return out
}
