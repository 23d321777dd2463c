// Package version parses and ranks the version tags of a build.
//
// A tag encodes major.yy.month[-stage.]sequence. Each stage has its own grammar
// and scores are only comparable within a stage. All functions are pure.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/artpar/releaser/internal/core/domain"
)

// =============================================================================
// Grammar
// =============================================================================

var patterns = map[domain.Stage]*regexp.Regexp{
	domain.StageAlpha:   regexp.MustCompile(`^(\d+)\.(\d{2})\.([1-9][0-2]?)-alpha\.(\d+)$`),
	domain.StageBeta:    regexp.MustCompile(`^(\d+)\.(\d{2})\.([1-9][0-2]?)-beta\.(\d+)$`),
	domain.StageRelease: regexp.MustCompile(`^(\d+)\.(\d{2})\.([1-9][0-2]?)-(\d+)$`),
}

const (
	maxMajor    = 999
	minYear     = 10
	maxYear     = 99
	maxSequence = 9999
)

// =============================================================================
// Scoring
// =============================================================================

// Score ranks a tag within its stage. The score is the concatenation
// major‖yy‖mm‖ssss read as an integer. Returns 0 for any tag that does not
// match the stage grammar or has a field out of range; callers must treat 0
// as unorderable.
//
// Example:
//
//	Score(domain.StageBeta, "3.24.7-beta.17")  // returns 324070017
//	Score(domain.StageBeta, "3.24.13-beta.1")  // returns 0
//	Score(domain.StageRelease, "3.24.7-beta.1") // returns 0
func Score(stage domain.Stage, tag string) int64 {
	re, ok := patterns[stage]
	if !ok {
		return 0
	}
	m := re.FindStringSubmatch(tag)
	if m == nil {
		return 0
	}

	major, err1 := strconv.Atoi(m[1])
	year, err2 := strconv.Atoi(m[2])
	month, err3 := strconv.Atoi(m[3])
	seq, err4 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return 0
	}

	if major > maxMajor || year < minYear || year > maxYear || month < 1 || month > 12 || seq > maxSequence {
		return 0
	}

	score, err := strconv.ParseInt(fmt.Sprintf("%d%02d%02d%04d", major, year, month, seq), 10, 64)
	if err != nil {
		return 0
	}
	return score
}

// Latest returns the highest scoring tag of the stage among tags.
// Returns ("", 0) when no tag is orderable.
func Latest(stage domain.Stage, tags []string) (string, int64) {
	var best string
	var bestScore int64
	for _, tag := range tags {
		if s := Score(stage, tag); s > bestScore {
			best, bestScore = tag, s
		}
	}
	return best, bestScore
}

// Sample returns a well-formed placeholder tag for the stage, dated now.
// Used where descriptors need a version but nothing is being released.
//
// Example:
//
//	Sample(domain.StageBeta, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))    // "2.24.7-beta.7"
//	Sample(domain.StageRelease, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)) // "2.24.7-7"
func Sample(stage domain.Stage, now time.Time) string {
	prefix := fmt.Sprintf("2.%02d.%d-", now.Year()%100, int(now.Month()))
	if stage == domain.StageRelease {
		return prefix + "7"
	}
	return prefix + string(stage) + ".7"
}
