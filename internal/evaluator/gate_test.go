package evaluator

import (
	"testing"
	"time"

	"safetysec-engine/internal/models"

	"github.com/stretchr/testify/assert"
)

// 2024-06-03 是周一
func at(day, hour, minute int) time.Time {
	return time.Date(2024, 6, 2+day, hour, minute, 0, 0, time.UTC)
}

func TestISOWeekday(t *testing.T) {
	assert.Equal(t, 1, ISOWeekday(at(1, 12, 0)))
	assert.Equal(t, 6, ISOWeekday(at(6, 12, 0)))
	assert.Equal(t, 7, ISOWeekday(at(7, 12, 0)))
}

func TestIsArmed_NoWindows(t *testing.T) {
	for day := 1; day <= 7; day++ {
		assert.True(t, IsArmed(at(day, 3, 17), nil))
	}
}

func TestIsArmed_EmptyConfigurationAlwaysArmed(t *testing.T) {
	windows := []models.TimeWindow{{ID: "w1", Enabled: true}}
	for day := 1; day <= 7; day++ {
		for _, hm := range [][2]int{{0, 0}, {6, 30}, {12, 0}, {23, 59}} {
			assert.True(t, IsArmed(at(day, hm[0], hm[1]), windows))
		}
	}
}

func TestIsArmed_InclusiveBoundaries(t *testing.T) {
	windows := []models.TimeWindow{{
		ID: "w1", Enabled: true,
		StartHour: 9, StartMinute: 0, EndHour: 17, EndMinute: 30,
		Days: []int{1, 2, 3, 4, 5},
	}}

	assert.False(t, IsArmed(at(1, 8, 59), windows))
	assert.True(t, IsArmed(at(1, 9, 0), windows))
	assert.True(t, IsArmed(at(1, 12, 0), windows))
	assert.True(t, IsArmed(at(1, 17, 30), windows))
	assert.False(t, IsArmed(at(1, 17, 31), windows))

	// 周末不在窗口内
	assert.False(t, IsArmed(at(6, 12, 0), windows))
	assert.False(t, IsArmed(at(7, 12, 0), windows))
}

func TestIsArmed_SundayIsSeven(t *testing.T) {
	windows := []models.TimeWindow{{Enabled: true, StartHour: 8, EndHour: 20, Days: []int{7}}}

	assert.True(t, IsArmed(at(7, 10, 0), windows))
	assert.False(t, IsArmed(at(1, 10, 0), windows))
}

func TestIsArmed_OrCombined(t *testing.T) {
	windows := []models.TimeWindow{
		{ID: "morning", Enabled: true, StartHour: 6, EndHour: 9},
		{ID: "evening", Enabled: true, StartHour: 18, EndHour: 22},
	}

	assert.True(t, IsArmed(at(2, 7, 0), windows))
	assert.True(t, IsArmed(at(2, 20, 0), windows))
	assert.False(t, IsArmed(at(2, 12, 0), windows))
}

func TestIsArmed_DisabledWindowsIgnored(t *testing.T) {
	windows := []models.TimeWindow{{Enabled: false, StartHour: 6, EndHour: 9}}
	assert.True(t, IsArmed(at(2, 12, 0), windows))

	windows = append(windows, models.TimeWindow{Enabled: true, StartHour: 18, EndHour: 22})
	assert.False(t, IsArmed(at(2, 7, 0), windows))
}

func TestIsArmed_MidnightSpanningNotWrapped(t *testing.T) {
	windows := []models.TimeWindow{{Enabled: true, StartHour: 22, EndHour: 6}}

	assert.False(t, IsArmed(at(3, 23, 0), windows))
	assert.False(t, IsArmed(at(3, 2, 0), windows))
}

func TestIsArmed_DaysOnly(t *testing.T) {
	windows := []models.TimeWindow{{Enabled: true, Days: []int{3}}}

	assert.True(t, IsArmed(at(3, 0, 0), windows))
	assert.True(t, IsArmed(at(3, 23, 59), windows))
	assert.False(t, IsArmed(at(4, 12, 0), windows))
}
