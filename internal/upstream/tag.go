package upstream

// Tag is the structured metadata attached to a queued operation. It exists
// for observability and status matching only; scheduling never reads it.
type Tag struct {
	Category   string `json:"category,omitempty"`
	Genome     string `json:"genome,omitempty"`
	Chromosome string `json:"chromosome,omitempty"`
	Start      int64  `json:"start,omitempty"`
	End        int64  `json:"end,omitempty"`
}

// IsZero reports whether no field of the tag is set.
func (t Tag) IsZero() bool {
	return t == Tag{}
}

// Matches compares the tag against a filter field by field. Zero-valued
// filter fields act as wildcards.
func (t Tag) Matches(filter Tag) bool {
	if filter.Category != "" && filter.Category != t.Category {
		return false
	}
	if filter.Genome != "" && filter.Genome != t.Genome {
		return false
	}
	if filter.Chromosome != "" && filter.Chromosome != t.Chromosome {
		return false
	}
	if filter.Start != 0 && filter.Start != t.Start {
		return false
	}
	if filter.End != 0 && filter.End != t.End {
		return false
	}
	return true
}
