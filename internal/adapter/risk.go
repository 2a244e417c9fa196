package adapter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cyntra-dev/cyntra/internal/proof"
)

var (
	filesChangedRe = regexp.MustCompile(`(\d+) files? changed`)
	insertionsRe   = regexp.MustCompile(`(\d+) insertions?`)
	deletionsRe    = regexp.MustCompile(`(\d+) deletions?`)
)

// parseDiffStats parses the summary line of `git diff --stat` output.
func parseDiffStats(statOutput string) proof.DiffStats {
	trimmed := strings.TrimSpace(statOutput)
	if trimmed == "" {
		return proof.DiffStats{}
	}
	lines := strings.Split(trimmed, "\n")
	summary := lines[len(lines)-1]

	return proof.DiffStats{
		FilesChanged: matchInt(filesChangedRe, summary),
		Insertions:   matchInt(insertionsRe, summary),
		Deletions:    matchInt(deletionsRe, summary),
	}
}

func matchInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// CheckForbiddenPaths returns the subset of filesModified that match any of
// the forbidden path patterns. A pattern ending in "/" matches anything
// under that directory; a pattern ending in "*" matches by prefix; any
// other pattern matches the file exactly or as a path under it.
func CheckForbiddenPaths(filesModified, forbidden []string) []string {
	var violations []string
	for _, file := range filesModified {
		for _, pattern := range forbidden {
			switch {
			case strings.HasSuffix(pattern, "/"):
				if strings.HasPrefix(file, pattern) {
					violations = append(violations, file)
				}
			case strings.HasSuffix(pattern, "*"):
				if strings.HasPrefix(file, pattern[:len(pattern)-1]) {
					violations = append(violations, file)
				}
			default:
				if file == pattern || strings.HasPrefix(file, pattern+"/") {
					violations = append(violations, file)
				}
			}
		}
	}
	return violations
}

var highRiskPatterns = []string{
	"auth", "security", "password", "secret", "key",
	"migration", "schema", "database", "payment", "billing",
}

// ClassifyRisk implements the kernel's risk classification algorithm:
// forbidden path violation -> critical; sensitive-keyword-in-path -> high;
// line-delta thresholds 500/100 -> high/medium; else low.
func ClassifyRisk(p proof.Patch) proof.RiskClassification {
	if len(p.ForbiddenPathViolations) > 0 {
		return proof.RiskCritical
	}

	for _, file := range p.FilesModified {
		lower := strings.ToLower(file)
		for _, pattern := range highRiskPatterns {
			if strings.Contains(lower, pattern) {
				return proof.RiskHigh
			}
		}
	}

	totalChanges := p.DiffStats.Insertions + p.DiffStats.Deletions
	switch {
	case totalChanges > 500:
		return proof.RiskHigh
	case totalChanges > 100:
		return proof.RiskMedium
	default:
		return proof.RiskLow
	}
}
