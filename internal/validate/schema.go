package validate

// DefaultMarkerSelector counts HTML headings.
const DefaultMarkerSelector = "h1,h2,h3,h4,h5,h6"

// Section declares one top-level section of the expected document.
type Section struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind,omitempty"`
	Required   bool   `yaml:"required,omitempty"`
	Structural bool   `yaml:"structural,omitempty"`
}

// Limit caps the number of entries of the collection at Path.
type Limit struct {
	Path string `yaml:"path"`
	Max  int    `yaml:"max"`
}

// MarkerRange bounds the total count of structural markers at Path. A list
// counts its entries; text counts HTML elements matching Selector.
type MarkerRange struct {
	Path     string `yaml:"path"`
	Selector string `yaml:"selector,omitempty"`
	Min      int    `yaml:"min"`
	Max      int    `yaml:"max"`
}

// UniqueRule requires the entries at Path to be distinct, compared
// case-insensitively on Field (maps), the entry itself (scalars), or the text
// of elements matching Selector (HTML text).
type UniqueRule struct {
	Path     string `yaml:"path"`
	Field    string `yaml:"field,omitempty"`
	Selector string `yaml:"selector,omitempty"`
}

// Bonus adds Weight to the quality score when Path holds at least MinCount
// entries (or non-empty text when MinCount is zero).
type Bonus struct {
	Path     string  `yaml:"path"`
	Weight   float64 `yaml:"weight"`
	MinCount int     `yaml:"min_count,omitempty"`
}

// Schema is the structural contract a parsed response is checked against.
type Schema struct {
	Sections         []Section     `yaml:"sections"`
	Limits           []Limit       `yaml:"limits,omitempty"`
	Markers          []MarkerRange `yaml:"markers,omitempty"`
	Unique           []UniqueRule  `yaml:"unique,omitempty"`
	Bonuses          []Bonus       `yaml:"bonuses,omitempty"`
	QualityThreshold float64       `yaml:"quality_threshold,omitempty"`
}

// SectionNames lists every declared section in order.
func (s Schema) SectionNames() []string {
	names := make([]string, 0, len(s.Sections))
	for _, section := range s.Sections {
		names = append(names, section.Name)
	}
	return names
}

// RequiredNames lists sections that are required or structural.
func (s Schema) RequiredNames() []string {
	var names []string
	for _, section := range s.Sections {
		if section.Required || section.Structural {
			names = append(names, section.Name)
		}
	}
	return names
}
