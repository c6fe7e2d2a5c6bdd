package forecast

import "github.com/kjstillabower/forecast-digest-service/internal/models"

// Index maps element names to their time entries. It is built once per run and
// is read-only afterwards.
//
// Duplicate element names: the last occurrence's entries win, the name keeps the
// position of its first occurrence, and the name is listed in Duplicates.
type Index struct {
	names      []string
	entries    map[string][]models.TimeEntry
	duplicates []string
}

// IndexElements builds an Index over elements. The entries are copied, so later
// changes to elements do not affect the index.
func IndexElements(elements []models.WeatherElement) *Index {
	ix := &Index{
		names:   make([]string, 0, len(elements)),
		entries: make(map[string][]models.TimeEntry, len(elements)),
	}
	for _, el := range elements {
		if _, seen := ix.entries[el.ElementName]; seen {
			ix.duplicates = append(ix.duplicates, el.ElementName)
		} else {
			ix.names = append(ix.names, el.ElementName)
		}
		ix.entries[el.ElementName] = append([]models.TimeEntry(nil), el.Time...)
	}
	return ix
}

// Names returns element names in original order.
func (ix *Index) Names() []string {
	return append([]string(nil), ix.names...)
}

// Entries returns a copy of the entries for name.
func (ix *Index) Entries(name string) ([]models.TimeEntry, bool) {
	e, ok := ix.entries[name]
	if !ok {
		return nil, false
	}
	return append([]models.TimeEntry(nil), e...), true
}

// Has reports whether name was indexed.
func (ix *Index) Has(name string) bool {
	_, ok := ix.entries[name]
	return ok
}

// Len is the number of distinct element names.
func (ix *Index) Len() int { return len(ix.names) }

// Duplicates lists names that appeared more than once, once per extra occurrence.
func (ix *Index) Duplicates() []string {
	return append([]string(nil), ix.duplicates...)
}
