package progress

import (
	"math"

	"deepwatch/internal/models"
)

// Projection is the derived progress signal for one task.
type Projection struct {
	Percentage int
	IsComplete bool
}

// ExpectedTotal computes how many progress records a task is expected to
// produce. The +3 covers the fixed start/finalize/ready overhead outside the
// per-query steps; the floor of 4 keeps the divisor sane for tiny tasks.
func ExpectedTotal(breadth, depth int) int {
	total := breadth*depth + 3
	if total < 4 {
		return 4
	}
	return total
}

// Project maps the ordered record list to a capped percentage and a
// completion flag. Pure: same inputs always produce the same output.
//
// Rules: no records means 0; a set completion flag or a terminal head label
// means 100; otherwise the record count over the expected total, capped at
// 99 so only explicit completion reads as done.
func Project(records []models.ProgressRecord, expectedTotal int, complete bool) Projection {
	if len(records) == 0 {
		return Projection{Percentage: 0, IsComplete: complete}
	}

	if complete || models.IsTerminal(records[0].Label) {
		return Projection{Percentage: 100, IsComplete: true}
	}

	pct := int(math.Round(float64(len(records)) / float64(expectedTotal) * 100))
	if pct > 99 {
		pct = 99
	}

	return Projection{Percentage: pct, IsComplete: false}
}
