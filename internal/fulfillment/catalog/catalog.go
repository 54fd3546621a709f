// Package catalog holds the static sales catalog: which package a checkout
// amount buys, the project template each package starts from, and the
// onboarding form each service asks the customer to fill in.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// PackageTemplate describes the project a package turns into
type PackageTemplate struct {
	Type              string   `yaml:"type" json:"type"`
	Category          string   `yaml:"category" json:"category"`
	EstimatedDuration string   `yaml:"estimated_duration" json:"estimatedDuration"`
	Requirements      []string `yaml:"requirements" json:"requirements"`
	Deliverables      []string `yaml:"deliverables" json:"deliverables"`
}

// Package is a sellable package with its exact checkout price
type Package struct {
	Name            string `yaml:"name" json:"name"`
	AmountCents     int64  `yaml:"amount_cents" json:"amountCents"`
	PackageTemplate `yaml:",inline"`
}

// Field describes one onboarding form input
type Field struct {
	Name      string `yaml:"name" json:"name"`
	Label     string `yaml:"label" json:"label"`
	Type      string `yaml:"type" json:"type"`
	Required  bool   `yaml:"required" json:"required"`
	MaxLength int    `yaml:"max_length" json:"maxLength,omitempty"`
}

// Catalog is the parsed catalog document
type Catalog struct {
	UnknownPackage   string             `yaml:"unknown_package"`
	DefaultService   string             `yaml:"default_service"`
	Packages         []Package          `yaml:"packages"`
	FallbackTemplate PackageTemplate    `yaml:"fallback_template"`
	Onboarding       map[string][]Field `yaml:"onboarding"`

	byAmount map[int64]*Package
	byName   map[string]*Package
}

// Parse reads a catalog document
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.UnknownPackage == "" {
		return nil, errors.New("catalog: unknown_package is required")
	}
	if _, ok := c.Onboarding[c.DefaultService]; !ok {
		return nil, fmt.Errorf("catalog: default service %q has no onboarding schema", c.DefaultService)
	}

	c.byAmount = make(map[int64]*Package, len(c.Packages))
	c.byName = make(map[string]*Package, len(c.Packages))
	for i := range c.Packages {
		p := &c.Packages[i]
		if prev, dup := c.byAmount[p.AmountCents]; dup {
			return nil, fmt.Errorf("catalog: %q and %q share amount %d", prev.Name, p.Name, p.AmountCents)
		}
		c.byAmount[p.AmountCents] = p
		c.byName[p.Name] = p
	}
	return &c, nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultCatalog)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

// PackageForAmount maps an exact checkout amount in cents to a package name.
// Amounts that match no package yield the unknown package name.
func (c *Catalog) PackageForAmount(amountCents int64) string {
	if p, ok := c.byAmount[amountCents]; ok {
		return p.Name
	}
	return c.UnknownPackage
}

// IsUnknown reports whether a package name is the unknown package marker
func (c *Catalog) IsUnknown(name string) bool {
	return name == c.UnknownPackage
}

// Template returns the project template for a package, falling back to the
// generic template for names the catalog does not know
func (c *Catalog) Template(name string) PackageTemplate {
	if p, ok := c.byName[name]; ok {
		return p.PackageTemplate
	}
	return c.FallbackTemplate
}

// Schema returns the onboarding fields for a service. Unknown services get
// the default service's schema.
func (c *Catalog) Schema(service string) []Field {
	fields, ok := c.Onboarding[service]
	if !ok {
		fields = c.Onboarding[c.DefaultService]
	}
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// FieldError is a single onboarding field failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every failing field of a submission
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid onboarding data: " + strings.Join(parts, "; ")
}

// Validate checks required fields and length limits. Keys outside the
// schema are left alone.
func (c *Catalog) Validate(service string, data map[string]string) error {
	var failures []FieldError
	for _, f := range c.Schema(service) {
		value := strings.TrimSpace(data[f.Name])
		if f.Required && value == "" {
			failures = append(failures, FieldError{Field: f.Name, Message: f.Label + " is required"})
			continue
		}
		if f.MaxLength > 0 && utf8.RuneCountInString(value) > f.MaxLength {
			failures = append(failures, FieldError{
				Field:   f.Name,
				Message: fmt.Sprintf("%s must be at most %d characters", f.Label, f.MaxLength),
			})
		}
	}
	if len(failures) > 0 {
		return &ValidationError{Fields: failures}
	}
	return nil
}
