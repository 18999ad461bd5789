package models

// FormatDefinition maps one metadata schema onto the values the auditor
// validates. Definitions come from the [formats] config section or from
// TOML/YAML files in the formats directory.
type FormatDefinition struct {
	Name      string `toml:"name" yaml:"name" validate:"required"`
	Extension string `toml:"extension" yaml:"extension" validate:"required"`

	// Namespaces binds prefixes used in the xpath expressions
	Namespaces map[string]string `toml:"namespaces" yaml:"namespaces"`

	IDXPath string          `toml:"id_xpath" yaml:"id_xpath" validate:"required"`
	URLs    []URLFieldDef   `toml:"urls" yaml:"urls" validate:"dive"`
	Emails  []EmailFieldDef `toml:"emails" yaml:"emails" validate:"dive"`
}

// URLFieldDef declares one URL-bearing field
type URLFieldDef struct {
	XPath    string `toml:"xpath" yaml:"xpath" validate:"required"`
	Label    string `toml:"label" yaml:"label" validate:"required"`
	Min      int    `toml:"min" yaml:"min" validate:"gte=0"`
	Max      int    `toml:"max" yaml:"max" validate:"gte=0"`
	Retrieve bool   `toml:"retrieve" yaml:"retrieve"`
	Mode     string `toml:"mode" yaml:"mode" validate:"omitempty,oneof=exact standard"`
}

// EmailFieldDef declares one email-bearing field
type EmailFieldDef struct {
	XPath string `toml:"xpath" yaml:"xpath" validate:"required"`
	Label string `toml:"label" yaml:"label" validate:"required"`
	Min   int    `toml:"min" yaml:"min" validate:"gte=0"`
	Max   int    `toml:"max" yaml:"max" validate:"gte=0"`
}
