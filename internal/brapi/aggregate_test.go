package brapi

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropbase/brapi-mcp/internal/errors"
)

func aggregateFixture() []Record {
	return []Record{
		{"studyDbId": "1", "locationDbId": "80", "studyType": "Trial"},
		{"studyDbId": "2", "locationDbId": "80", "studyType": "Trial"},
		{"studyDbId": "3", "locationDbId": "81", "studyType": "Nursery"},
	}
}

func TestAggregate_Count(t *testing.T) {
	result, err := Aggregate(aggregateFixture(), AggCount, "")
	require.NoError(t, err)

	assert.Equal(t, 3, result["total_records"])

	counts := result["counts"].(map[string]any)
	unique := counts["unique_per_column"].(map[string]int)
	assert.Equal(t, 3, unique["studyDbId"])
	assert.Equal(t, 2, unique["locationDbId"])
	assert.Equal(t, 2, unique["studyType"])
}

func TestAggregate_Unique(t *testing.T) {
	result, err := Aggregate(aggregateFixture(), AggUnique, "locationDbId")
	require.NoError(t, err)

	assert.Equal(t, []string{"80", "81"}, result["unique_values"])
	assert.Equal(t, 2, result["total_unique"])
	assert.Equal(t, false, result["truncated"])
}

func TestAggregate_Distribution(t *testing.T) {
	result, err := Aggregate(aggregateFixture(), AggDistribution, "studyType")
	require.NoError(t, err)

	dist := result["distribution"].([]DistributionBin)
	require.Len(t, dist, 2)
	assert.Equal(t, DistributionBin{Value: "Trial", Count: 2}, dist[0])
	assert.Equal(t, DistributionBin{Value: "Nursery", Count: 1}, dist[1])
}

func TestAggregate_DistributionOrder(t *testing.T) {
	records := []Record{
		{"season": "wet"},
		{"season": "dry"},
		{"season": "dry"},
		{"season": "dry"},
		{"season": "autumn"},
		{"season": "wet"},
	}

	result, err := Aggregate(records, AggDistribution, "season")
	require.NoError(t, err)

	dist := result["distribution"].([]DistributionBin)
	want := []DistributionBin{
		{Value: "dry", Count: 3},
		{Value: "wet", Count: 2},
		{Value: "autumn", Count: 1},
	}
	assert.Equal(t, want, dist)
}

func TestAggregate_UniqueTruncation(t *testing.T) {
	records := make([]Record, 0, maxUniqueValues+20)
	for i := 0; i < maxUniqueValues+20; i++ {
		records = append(records, Record{"id": fmt.Sprintf("g%04d", i)})
	}

	result, err := Aggregate(records, AggUnique, "id")
	require.NoError(t, err)

	assert.Len(t, result["unique_values"], maxUniqueValues)
	assert.Equal(t, maxUniqueValues+20, result["total_unique"])
	assert.Equal(t, true, result["truncated"])
}

func TestAggregate_Errors(t *testing.T) {
	_, err := Aggregate(aggregateFixture(), "stats", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Aggregate(aggregateFixture(), AggUnique, "")
	require.Error(t, err, "group_by is required for unique")

	_, err = Aggregate(aggregateFixture(), AggDistribution, "noSuchColumn")
	require.Error(t, err)
	derr := err.(*errors.Error)
	assert.Contains(t, derr.Details, "available_columns")
}
