package czech

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/visawatch/visawatch/internal/monitor"
)

// simulatedStatuses is indexed by the last digit of the query code, giving
// each code a stable outcome across polls. The weighting roughly mirrors the
// distribution seen on the real site.
var simulatedStatuses = [10]monitor.ApplicationStatus{
	monitor.StatusNotFound,
	monitor.StatusProcessing,
	monitor.StatusUnderReview,
	monitor.StatusProcessing,
	monitor.StatusApproved,
	monitor.StatusReadyForPickup,
	monitor.StatusApproved,
	monitor.StatusRejected,
	monitor.StatusProcessing,
	monitor.StatusIssued,
}

var simulatedDetails = map[monitor.ApplicationStatus]string{
	monitor.StatusNotFound:       "Application not found in the system",
	monitor.StatusProcessing:     "Application is being processed",
	monitor.StatusUnderReview:    "Application is under review by the ministry",
	monitor.StatusApproved:       "Application has been approved",
	monitor.StatusReadyForPickup: "Document is ready for pickup",
	monitor.StatusRejected:       "Application has been rejected",
	monitor.StatusIssued:         "Document has been issued",
}

// simulate produces a deterministic stand-in result when the ministry site is
// unreachable or its markup changed. Consumers can tell it apart from a live
// result by the outcome kind.
func (p *Plugin) simulate(code string, queryType string) monitor.QueryResult {
	digit := lastDigit(code)
	status := simulatedStatuses[digit]

	p.logger.Info("returning simulated result",
		zap.String("query_type", queryType),
		zap.String("status", string(status)),
	)

	return monitor.QueryResult{
		Kind:        monitor.OutcomeSimulated,
		Status:      status,
		Details:     fmt.Sprintf("%s (simulated)", simulatedDetails[status]),
		CompletedAt: p.clock.Now(),
	}
}

func lastDigit(code string) int {
	for i := len(code) - 1; i >= 0; i-- {
		if code[i] >= '0' && code[i] <= '9' {
			return int(code[i] - '0')
		}
	}
	return 0
}
