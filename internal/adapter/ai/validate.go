package ai

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/finsight-ai/finsight/internal/domain"
)

// validate is shared by all adapters; struct rules live on the domain payload
// types.
var validate = validator.New(validator.WithRequiredStructEnabled())

// findHeadings returns the required headings present in text, matched
// case-insensitively, in the order they are required.
func findHeadings(text string, required []string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, h := range required {
		if strings.Contains(lower, strings.ToLower(h)) {
			found = append(found, h)
		}
	}
	return found
}

// missingHeadings returns the required headings absent from text.
func missingHeadings(text string, required []string) []string {
	present := map[string]bool{}
	for _, h := range findHeadings(text, required) {
		present[h] = true
	}
	var missing []string
	for _, h := range required {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	return missing
}

// validateChartSet applies the structural contract to a chart set: per-chart
// struct rules plus the configured count bounds.
func validateChartSet(set domain.ChartSet, minCharts, maxCharts int) error {
	if n := len(set.Charts); n < minCharts || n > maxCharts {
		return domain.Validationf("chart count %d outside [%d,%d]", n, minCharts, maxCharts)
	}
	for i, c := range set.Charts {
		if err := validate.Struct(c); err != nil {
			return domain.Validationf("chart %d (%q): %v", i, c.Title, err)
		}
	}
	return nil
}

// validateProjections applies the structural contract to a projection
// document.
func validateProjections(p domain.Projections) error {
	if err := validate.Struct(p); err != nil {
		return domain.Validationf("projections: %v", err)
	}
	return nil
}
