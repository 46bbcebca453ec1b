package transport

import (
	"net/url"
	"strings"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

// ExpandURL substitutes {name} placeholders with path-escaped parameter
// values. Placeholders without a parameter are left as they are.
func ExpandURL(tmpl string, params hydro.Params) string {
	if len(params) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", url.PathEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
