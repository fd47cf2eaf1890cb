package orchestrator

import (
	"regexp"
	"strconv"
	"strings"
)

// Scrapers report their progress in free-form log lines. These are the
// markers the production scripts actually emit.
var recordPatterns = []string{
	"Records processed:",
	"records processed:",
	"Prepared",
	"records for database",
}

var firstNumber = regexp.MustCompile(`\d+`)

// extractRecords scans recent log lines for a processed-record count.
// Returns nil when no marker line is found.
func extractRecords(lines []string) *int64 {
	for _, line := range lines {
		for _, pattern := range recordPatterns {
			if !strings.Contains(line, pattern) {
				continue
			}
			if m := firstNumber.FindString(line); m != "" {
				if n, err := strconv.ParseInt(m, 10, 64); err == nil {
					return &n
				}
			}
		}
	}
	return nil
}
