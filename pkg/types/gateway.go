package types

// Model is one entry of the /v1/models listing
type Model struct {
	ID      string `json:"id" yaml:"id"`
	Object  string `json:"object,omitempty" yaml:"object,omitempty"`
	Created int64  `json:"created,omitempty" yaml:"created,omitempty"`
	OwnedBy string `json:"owned_by" yaml:"owned_by"`
}

// ModelList is the /v1/models response body
type ModelList struct {
	Object string  `json:"object,omitempty"`
	Data   []Model `json:"data"`
}

// StatsSnapshot is the gateway load report returned by /v1/stats.
// Active is expected to stay within Capacity but this is not enforced.
type StatsSnapshot struct {
	Active   int `json:"active" yaml:"active"`
	Capacity int `json:"capacity" yaml:"capacity"`
	Queued   int `json:"queued" yaml:"queued"`
	MaxQueue int `json:"max_queue" yaml:"max_queue"`
}

// Utilization returns active/capacity, or 0 when capacity is unknown.
func (s StatsSnapshot) Utilization() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return float64(s.Active) / float64(s.Capacity)
}

// HighQueue reports whether more jobs wait than half the worker capacity.
func (s StatsSnapshot) HighQueue() bool {
	return s.Queued > s.Capacity/2
}

// Saturated reports whether every worker slot is busy.
func (s StatsSnapshot) Saturated() bool {
	return s.Active == s.Capacity
}

// Available is the number of idle worker slots. Negative when the gateway
// reports more active jobs than capacity.
func (s StatsSnapshot) Available() int {
	return s.Capacity - s.Active
}
