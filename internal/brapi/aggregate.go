package brapi

import (
	"fmt"
	"sort"

	"github.com/cropbase/brapi-mcp/internal/errors"
)

// Aggregation kinds supported by Aggregate.
const (
	AggCount        = "count"
	AggUnique       = "unique"
	AggDistribution = "distribution"
)

const (
	maxUniqueValues     = 100
	maxDistributionBins = 50
)

// DistributionBin is one value/count pair of a distribution. Bins are
// ordered most common first (ties broken by value) and the order survives
// JSON encoding.
type DistributionBin struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Aggregate computes a compact server-side summary over a record set so the
// caller never has to load the raw records into its context.
//
//   - count: total records plus distinct-value counts per column
//   - unique: distinct values of one column (capped)
//   - distribution: value frequencies of one column, most common first
func Aggregate(records []Record, aggregation, groupBy string) (map[string]any, error) {
	result := map[string]any{
		"aggregation":   aggregation,
		"total_records": len(records),
	}

	switch aggregation {
	case AggCount:
		unique := make(map[string]int)
		for _, col := range Columns(records) {
			unique[col] = len(distinctValues(records, col))
		}
		result["counts"] = map[string]any{
			"total":             len(records),
			"unique_per_column": unique,
		}

	case AggUnique:
		if err := checkGroupBy(records, aggregation, groupBy); err != nil {
			return nil, err
		}
		values := distinctValues(records, groupBy)
		sort.Strings(values)
		truncated := len(values) > maxUniqueValues
		if truncated {
			values = values[:maxUniqueValues]
		}
		result["column"] = groupBy
		result["unique_values"] = values
		result["total_unique"] = len(distinctValues(records, groupBy))
		result["truncated"] = truncated

	case AggDistribution:
		if err := checkGroupBy(records, aggregation, groupBy); err != nil {
			return nil, err
		}
		counts := make(map[string]int)
		for _, rec := range records {
			if v, ok := rec[groupBy]; ok && v != nil {
				counts[fmt.Sprint(v)]++
			}
		}

		bins := make([]DistributionBin, 0, len(counts))
		for v, n := range counts {
			bins = append(bins, DistributionBin{Value: v, Count: n})
		}
		sort.Slice(bins, func(i, j int) bool {
			if bins[i].Count != bins[j].Count {
				return bins[i].Count > bins[j].Count
			}
			return bins[i].Value < bins[j].Value
		})

		truncated := len(bins) > maxDistributionBins
		if truncated {
			bins = bins[:maxDistributionBins]
		}
		result["column"] = groupBy
		result["distribution"] = bins
		result["truncated"] = truncated

	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf(
			"unknown aggregation %q (valid: count, unique, distribution)", aggregation))
	}

	return result, nil
}

func checkGroupBy(records []Record, aggregation, groupBy string) error {
	if groupBy == "" {
		return errors.NewInvalidRequest(fmt.Sprintf("group_by is required for %q aggregation", aggregation))
	}
	for _, col := range Columns(records) {
		if col == groupBy {
			return nil
		}
	}
	return &errors.Error{
		Code:    errors.ErrInvalidRequest,
		Status:  400,
		Message: fmt.Sprintf("column %q not found in result set", groupBy),
		Details: map[string]any{"available_columns": Columns(records)},
	}
}

func distinctValues(records []Record, col string) []string {
	seen := make(map[string]bool)
	for _, rec := range records {
		if v, ok := rec[col]; ok && v != nil {
			seen[fmt.Sprint(v)] = true
		}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	return values
}
