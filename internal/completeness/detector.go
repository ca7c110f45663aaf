package completeness

import (
	"fmt"

	"DataHarvester/internal/domain"
)

// RunStats summarizes the terminal page of a finished fetch loop.
type RunStats struct {
	Mode                     domain.PaginationMode
	DocumentedCap            int
	LastRequested            int
	LastReturned             int
	LastPageSignaled         bool
	AssumeCompleteOnFullPage bool
	TotalRecords             int
}

// Evaluate classifies a finished run as complete or possibly truncated.
// Ambiguous boundaries always resolve to incomplete.
func Evaluate(stats RunStats) (bool, []string) {
	if stats.Mode == domain.ModeSingleShot {
		if stats.DocumentedCap > 0 && stats.TotalRecords >= stats.DocumentedCap {
			return false, []string{fmt.Sprintf(
				"returned %d records, matching the documented cap of %d; switch the endpoint to paged mode",
				stats.TotalRecords, stats.DocumentedCap)}
		}
		return true, nil
	}

	switch {
	case stats.LastPageSignaled:
		return true, nil
	case stats.LastReturned < stats.LastRequested:
		return true, nil
	case stats.AssumeCompleteOnFullPage:
		return true, []string{"final page was full; endpoint is configured to treat a full final page as complete"}
	default:
		return false, []string{fmt.Sprintf(
			"final page returned exactly the requested %d records with no last-page signal; upstream may hold more data",
			stats.LastRequested)}
	}
}
