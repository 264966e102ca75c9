package queue

import "time"

// Statistics summarizes call outcomes for one resource and day.
type Statistics struct {
	ResourceID             string  `json:"resource_id"`
	Date                   string  `json:"date"`
	TotalCalls             int     `json:"total_calls"`
	Responded              int     `json:"responded"`
	NoResponse             int     `json:"no_response"`
	Recalls                int     `json:"recalls"`
	ResponseRate           float64 `json:"response_rate"`
	NoResponseRate         float64 `json:"no_response_rate"`
	AverageResponseSeconds float64 `json:"average_response_seconds"`
}

// Aggregate folds a day's call events into Statistics. Rates are zero when
// there are no calls; the average covers only events with a response time.
func Aggregate(resourceID string, date time.Time, events []*CallEvent) Statistics {
	stats := Statistics{
		ResourceID: resourceID,
		Date:       DateOnly(date).Format("2006-01-02"),
	}

	var latencySum time.Duration
	var latencyCount int
	for _, ev := range events {
		stats.TotalCalls++
		switch ev.ResponseStatus {
		case ResponseResponded:
			stats.Responded++
		case ResponseNoResponse:
			stats.NoResponse++
		}
		if ev.CallType == CallRecall {
			stats.Recalls++
		}
		if ev.RespondedAt != nil {
			latencySum += ev.RespondedAt.Sub(ev.CalledAt)
			latencyCount++
		}
	}

	if stats.TotalCalls > 0 {
		stats.ResponseRate = float64(stats.Responded) / float64(stats.TotalCalls)
		stats.NoResponseRate = float64(stats.NoResponse) / float64(stats.TotalCalls)
	}
	if latencyCount > 0 {
		stats.AverageResponseSeconds = latencySum.Seconds() / float64(latencyCount)
	}
	return stats
}
