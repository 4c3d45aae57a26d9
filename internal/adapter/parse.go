package adapter

import (
	"regexp"
	"strings"
)

// Engine output is unittest-style verbose lines, one test per line:
//
//	test_total (billing.tests.TestInvoices) ... ok
//	test_tax (billing.tests.TestInvoices) ... FAIL
//	test_sync (crm.tests.TestLeads) ... ERROR
//	test_slow (crm.tests.TestLeads) ... skipped 'nightly only'
var (
	passLine  = regexp.MustCompile(`\.\.\. ok\s*$`)
	failLine  = regexp.MustCompile(`\.\.\. FAIL\s*$`)
	errorLine = regexp.MustCompile(`\.\.\. ERROR\s*$`)
	skipLine  = regexp.MustCompile(`\.\.\. skipped\b`)
)

// countLine updates counters for one output line and reports whether the
// line changed any counter.
func countLine(c *Counters, line string) bool {
	switch {
	case passLine.MatchString(line):
		c.Run++
	case failLine.MatchString(line):
		c.Run++
		c.Failed++
	case errorLine.MatchString(line):
		c.Run++
		c.Errored++
	case skipLine.MatchString(line):
		c.Skipped++
	default:
		return false
	}
	return true
}

// Volatile tokens masked before repetition analysis, so that a loop logging
// the same message with a fresh timestamp still counts as one pattern.
var (
	timestampToken = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?`)
	ipToken        = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	hexToken       = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
	numberToken    = regexp.MustCompile(`\d+`)
)

// normalizeLine masks timestamps, IPs, hex ids and bare numbers.
func normalizeLine(line string) string {
	line = timestampToken.ReplaceAllString(line, "<ts>")
	line = ipToken.ReplaceAllString(line, "<ip>")
	line = hexToken.ReplaceAllString(line, "<hex>")
	line = numberToken.ReplaceAllString(line, "<n>")
	return strings.TrimSpace(line)
}

// dominantShare returns the share of the window occupied by its most common
// normalized line, and that line. An empty window has share 0.
func dominantShare(window []string) (float64, string) {
	if len(window) == 0 {
		return 0, ""
	}
	counts := make(map[string]int, len(window))
	for _, line := range window {
		counts[normalizeLine(line)]++
	}
	best, bestLine := 0, ""
	for line, n := range counts {
		if n > best {
			best, bestLine = n, line
		}
	}
	return float64(best) / float64(len(window)), bestLine
}
