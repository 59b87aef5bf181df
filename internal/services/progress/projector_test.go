package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"deepwatch/internal/models"
)

func makeRecords(n int) []models.ProgressRecord {
	records := make([]models.ProgressRecord, n)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range records {
		records[i] = models.ProgressRecord{
			ID:        fmt.Sprintf("rec-%d", n-i),
			TaskID:    "task-1",
			Label:     fmt.Sprintf("query_%d", n-i),
			CreatedAt: base.Add(time.Duration(n-i) * time.Second),
		}
	}
	return records
}

func TestExpectedTotal(t *testing.T) {
	t.Run("Should be breadth times depth plus overhead", func(t *testing.T) {
		assert.Equal(t, 12, ExpectedTotal(3, 3))
		assert.Equal(t, 7, ExpectedTotal(2, 2))
	})

	t.Run("Should floor at 4", func(t *testing.T) {
		assert.Equal(t, 4, ExpectedTotal(0, 0))
		assert.Equal(t, 4, ExpectedTotal(1, 0))
		assert.Equal(t, 4, ExpectedTotal(1, 1))
	})
}

func TestProject(t *testing.T) {
	t.Run("Should report zero for an empty list", func(t *testing.T) {
		for _, n := range []int{4, 7, 12, 100} {
			proj := Project(nil, n, false)
			assert.Equal(t, 0, proj.Percentage)
			assert.False(t, proj.IsComplete)
		}
	})

	t.Run("Should cap at 99 without explicit completion", func(t *testing.T) {
		proj := Project(makeRecords(12), 12, false)
		assert.Equal(t, 99, proj.Percentage)
		assert.False(t, proj.IsComplete)

		proj = Project(makeRecords(20), 12, false)
		assert.Equal(t, 99, proj.Percentage)
		assert.False(t, proj.IsComplete)
	})

	t.Run("Should report 100 when the completion flag is set", func(t *testing.T) {
		proj := Project(makeRecords(3), 12, true)
		assert.Equal(t, 100, proj.Percentage)
		assert.True(t, proj.IsComplete)
	})

	t.Run("Should report 100 when the head label is terminal", func(t *testing.T) {
		records := makeRecords(5)
		records[0].Label = models.LabelDone

		proj := Project(records, 12, false)
		assert.Equal(t, 100, proj.Percentage)
		assert.True(t, proj.IsComplete)
	})

	t.Run("Should not complete on a terminal label behind the head", func(t *testing.T) {
		records := makeRecords(5)
		records[3].Label = models.LabelDone

		proj := Project(records, 12, false)
		assert.False(t, proj.IsComplete)
	})

	t.Run("Should round the ratio", func(t *testing.T) {
		proj := Project(makeRecords(4), 7, false)
		assert.Equal(t, 57, proj.Percentage) // round(4/7*100)
	})

	t.Run("Should be referentially transparent", func(t *testing.T) {
		records := makeRecords(6)
		first := Project(records, 12, false)
		second := Project(records, 12, false)
		assert.Equal(t, first, second)
	})
}
