package model

import "time"

// Outcome records what happened to a single spec request.
type Outcome struct {
	SpecID   int           `json:"specId"`
	Label    string        `json:"label"`
	Center   LatLng        `json:"center"`
	Radius   float64       `json:"radius"`
	RawCount int           `json:"rawCount"`
	Kept     int           `json:"kept"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the request errored.
func (o Outcome) Failed() bool { return o.Error != "" }

// Stats are the aggregate counters of one search execution.
type Stats struct {
	Requested         int `json:"totalRequests"`
	Failed            int `json:"failedRequests"`
	Raw               int `json:"rawResults"`
	Normalized        int `json:"normalizedResults"`
	DroppedNoLocation int `json:"droppedNoLocation"`
	DroppedOutside    int `json:"outsideCircleRemoved"`
	DuplicatesRemoved int `json:"duplicatesRemoved"`
	Total             int `json:"totalResults"`
}

// Status classifies a finished search.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
)

// Result is the consolidated output of a fan-out search.
type Result struct {
	RunID      string          `json:"runId"`
	Circle     Circle          `json:"circle"`
	SubCircles [4]SubCircle    `json:"subCircles"`
	Places     []Place         `json:"places"`
	Outcomes   []Outcome       `json:"outcomes"`
	Stats      Stats           `json:"stats"`
	Duplicates DuplicateReport `json:"duplicates"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// AllFailed is true when every dispatched spec failed, which is distinct
// from a legitimately empty area.
func (r *Result) AllFailed() bool {
	return r.Stats.Requested > 0 && r.Stats.Failed == r.Stats.Requested
}

func (r *Result) Status() Status {
	switch {
	case r.AllFailed():
		return StatusFailed
	case r.Stats.Failed > 0:
		return StatusPartial
	case len(r.Places) == 0:
		return StatusEmpty
	default:
		return StatusOK
	}
}

// PlacesBySpec groups the final places by their originating spec.
func (r *Result) PlacesBySpec() map[int][]Place {
	out := make(map[int][]Place)
	for _, p := range r.Places {
		out[p.SearchSource] = append(out[p.SearchSource], p)
	}
	return out
}

// DuplicateReport is a read-only analysis of a pre-dedupe record set.
type DuplicateReport struct {
	HasDuplicates bool                       `json:"hasDuplicates"`
	TotalCount    int                        `json:"totalCount"`
	UniqueCount   int                        `json:"uniqueCount"`
	DuplicateIDs  []string                   `json:"duplicateIds"`
	DetailsByID   map[string]DuplicateDetail `json:"detailsById"`
}

type DuplicateDetail struct {
	Count  int               `json:"count"`
	Places []DuplicateSource `json:"places"`
}

type DuplicateSource struct {
	Name         string `json:"name"`
	SearchSource int    `json:"searchSource"`
}
