package forecast

import "github.com/kjstillabower/forecast-digest-service/internal/models"

// ResolveLocation returns the first location whose name equals name exactly.
// No trimming, case folding or 台/臺 substitution is applied.
func ResolveLocation(locations []models.Location, name string) (models.Location, error) {
	for _, loc := range locations {
		if loc.LocationName == name {
			return loc, nil
		}
	}
	return models.Location{}, &Error{Code: CodeNotFound, Location: name, Index: -1}
}

// LocationNames lists the location names in document order.
func LocationNames(locations []models.Location) []string {
	names := make([]string, 0, len(locations))
	for _, loc := range locations {
		names = append(names, loc.LocationName)
	}
	return names
}
