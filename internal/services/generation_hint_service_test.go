package services

import (
	"testing"
	"time"

	"examprep/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestGenerationHintService_BuildHint(t *testing.T) {
	expires := time.Date(2025, 6, 22, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		weakness   *models.TopicWeakness
		difficulty models.DifficultyLevel
		priority   int
	}{
		{
			"critical topic asks for easy items",
			&models.TopicWeakness{Topic: "cardiology", Severity: models.SeverityCritical, Trend: models.TrendDeclining},
			models.DifficultyEasy, 3,
		},
		{
			"weak topic asks for medium items",
			&models.TopicWeakness{Topic: "neurology", Severity: models.SeverityWeak, Trend: models.TrendStable},
			models.DifficultyMedium, 2,
		},
		{
			"developing topic asks for hard items",
			&models.TopicWeakness{Topic: "renal", Severity: models.SeverityDeveloping, Trend: models.TrendImproving},
			models.DifficultyHard, 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := buildHint(1, tt.weakness, expires)

			assert.Equal(t, 1, hint.LearnerID)
			assert.Equal(t, tt.weakness.Topic, hint.Topic)
			assert.Equal(t, tt.difficulty, hint.TargetDifficulty)
			assert.Equal(t, tt.priority, hint.PriorityWeight)
			assert.Equal(t, expires, hint.ExpiresAt)
			assert.Contains(t, hint.RecommendedFocus, tt.weakness.Topic)
		})
	}
}

func TestGenerationHintService_FocusTracksTrend(t *testing.T) {
	expires := time.Date(2025, 6, 22, 12, 0, 0, 0, time.UTC)

	declining := buildHint(1, &models.TopicWeakness{Topic: "gi", Severity: models.SeverityWeak, Trend: models.TrendDeclining}, expires)
	improving := buildHint(1, &models.TopicWeakness{Topic: "gi", Severity: models.SeverityWeak, Trend: models.TrendImproving}, expires)
	stable := buildHint(1, &models.TopicWeakness{Topic: "gi", Severity: models.SeverityWeak, Trend: models.TrendStable}, expires)

	assert.Contains(t, declining.RecommendedFocus, "declining")
	assert.Contains(t, improving.RecommendedFocus, "improving")
	assert.Contains(t, stable.RecommendedFocus, "stalled")
	assert.NotEqual(t, declining.RecommendedFocus, improving.RecommendedFocus)
}
