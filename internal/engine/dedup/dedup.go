// Package dedup collapses places repeated across concurrent searches.
package dedup

import (
	"fmt"
	"math"
	"strings"

	"github.com/rendis/circletap/internal/model"
)

// KeyFunc returns the identity of a place. An empty key means the place is
// never considered a duplicate of anything.
type KeyFunc func(model.Place) string

// ByID keys places by their upstream identifier only.
func ByID(p model.Place) string { return p.ID }

// WithFallback keys by id, or by lowercased name plus coordinates rounded to
// four decimals (about 11 m) when the id is missing.
func WithFallback(p model.Place) string {
	if p.ID != "" {
		return p.ID
	}
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		return ""
	}
	return fmt.Sprintf("~%s|%.4f|%.4f", name, round4(p.Location.Lat), round4(p.Location.Lng))
}

func round4(f float64) float64 { return math.Round(f*1e4) / 1e4 }

// Dedupe keeps the first occurrence of each id, preserving input order.
func Dedupe(records []model.Place) []model.Place {
	return DedupeWith(records, ByID)
}

// DedupeWith is Dedupe with a custom identity.
func DedupeWith(records []model.Place, key KeyFunc) []model.Place {
	seen := make(map[string]struct{}, len(records))
	out := make([]model.Place, 0, len(records))
	for _, r := range records {
		k := key(r)
		if k != "" {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

// DetectDuplicates reports repeated ids without altering the input.
func DetectDuplicates(records []model.Place) model.DuplicateReport {
	return DetectDuplicatesWith(records, ByID)
}

// DetectDuplicatesWith is DetectDuplicates with a custom identity.
func DetectDuplicatesWith(records []model.Place, key KeyFunc) model.DuplicateReport {
	counts := make(map[string]int)
	var order []string
	for _, r := range records {
		k := key(r)
		if k == "" {
			continue
		}
		counts[k]++
		if counts[k] == 2 {
			order = append(order, k)
		}
	}

	report := model.DuplicateReport{
		HasDuplicates: len(order) > 0,
		TotalCount:    len(records),
		UniqueCount:   len(counts),
		DuplicateIDs:  order,
		DetailsByID:   make(map[string]model.DuplicateDetail, len(order)),
	}
	if report.DuplicateIDs == nil {
		report.DuplicateIDs = []string{}
	}
	for _, r := range records {
		k := key(r)
		if counts[k] < 2 {
			continue
		}
		d := report.DetailsByID[k]
		d.Count = counts[k]
		d.Places = append(d.Places, model.DuplicateSource{Name: r.Name, SearchSource: r.SearchSource})
		report.DetailsByID[k] = d
	}
	return report
}
