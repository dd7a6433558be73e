package extract

import (
	"fmt"

	"github.com/andybalholm/cascadia"
)

// Locators lists, per metric, CSS selectors tried in order. The first one
// yielding non-empty text wins.
type Locators struct {
	Clicks         []string `json:"clicks" yaml:"clicks"`
	Ordered        []string `json:"ordered" yaml:"ordered"`
	Shipped        []string `json:"shipped" yaml:"shipped"`
	ConversionRate []string `json:"conversionRate" yaml:"conversion_rate"`
	Revenue        []string `json:"revenue" yaml:"revenue"`
	Earnings       []string `json:"earnings" yaml:"earnings"`
}

// DefaultLocators targets the earnings report summary cards. The suffix
// matches survive the id prefix changing between dashboard releases.
func DefaultLocators() Locators {
	return Locators{
		Clicks:         []string{"#ac-report-commission-commision-clicks", `[id$="commision-clicks"]`},
		Ordered:        []string{"#ac-report-commission-commision-ordered", `[id$="commision-ordered"]`},
		Shipped:        []string{"#ac-report-commission-commision-shipped", `[id$="commision-shipped"]`},
		ConversionRate: []string{"#ac-report-commission-commision-conversion", `[id$="commision-conversion"]`},
		Revenue:        []string{"#ac-report-commission-commision-shipped-revenue", `[id$="commision-shipped-revenue"]`},
		Earnings:       []string{"#ac-report-commission-commision-total", `[id$="commision-total"]`},
	}
}

// field pairs a metric's JSON key with its locator list.
type field struct {
	key       string
	selectors []string
}

func (l Locators) fields() []field {
	return []field{
		{"clicks", l.Clicks},
		{"ordered", l.Ordered},
		{"shipped", l.Shipped},
		{"conversionRate", l.ConversionRate},
		{"revenue", l.Revenue},
		{"earnings", l.Earnings},
	}
}

// asMap is the argument handed to the in-page script.
func (l Locators) asMap() map[string][]string {
	m := make(map[string][]string, 6)
	for _, f := range l.fields() {
		m[f.key] = f.selectors
	}
	return m
}

// Validate compiles every selector and reports the first invalid one.
func (l Locators) Validate() error {
	_, err := l.compile()
	return err
}

func (l Locators) compile() (map[string][]cascadia.Sel, error) {
	out := make(map[string][]cascadia.Sel, 6)
	for _, f := range l.fields() {
		if len(f.selectors) == 0 {
			return nil, fmt.Errorf("extract: no selectors for %s", f.key)
		}
		for _, s := range f.selectors {
			sel, err := cascadia.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("extract: invalid selector %q for %s: %w", s, f.key, err)
			}
			out[f.key] = append(out[f.key], sel)
		}
	}
	return out, nil
}
