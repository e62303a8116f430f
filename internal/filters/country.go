package filters

import (
	"strings"
	"sync"

	"github.com/pariz/gountries"
)

var (
	countriesOnce sync.Once
	countries     *gountries.Query
)

func countryQuery() *gountries.Query {
	countriesOnce.Do(func() {
		countries = gountries.New()
	})
	return countries
}

// NormalizeCountry turns a country name or ISO code into the lowercase alpha-2 code
// events are stored with. Unknown values are returned unchanged.
func NormalizeCountry(value string) string {
	v := strings.TrimSpace(value)
	if len(v) == 2 {
		return strings.ToLower(v)
	}

	q := countryQuery()
	if len(v) == 3 {
		if c, err := q.FindCountryByAlpha(v); err == nil {
			return strings.ToLower(c.Codes.Alpha2)
		}
	}
	if c, err := q.FindCountryByName(v); err == nil {
		return strings.ToLower(c.Codes.Alpha2)
	}
	return value
}
