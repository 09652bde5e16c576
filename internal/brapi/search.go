package brapi

import (
	"context"
	"time"

	"github.com/cropbase/brapi-mcp/internal/errors"
)

// Search executes the two-phase BrAPI search flow against one service:
// submit the search parameters as a structured body to search/{service},
// then page through search/{service}/{handle} with the ordinary fetch loop.
//
// The filter is bound server-side to the handle, so the second phase sends
// only page/pageSize control parameters. If the submission response carries
// inline data instead of a handle (trivially small result sets), that data
// is normalized and returned directly without a second round trip.
//
// A submission that yields neither a results handle nor inline data is a
// protocol error: it is surfaced, never converted to an empty success.
func Search(ctx context.Context, t Transport, service string, searchParams map[string]any, maxPages, pageSize int) ([]Record, Summary, error) {
	resp, err := t.Post(ctx, "search/"+service, searchParams, nil)
	if err != nil {
		// Transport failure on submit: nothing was accumulated, report
		// the empty outcome the same way a truncated fetch would.
		return []Record{}, Summary{
			RetrievedAt: time.Now().UTC(),
			Truncated:   true,
			Err:         err.Error(),
		}, nil
	}

	result, _ := resp["result"].(map[string]any)
	handle, _ := result["searchResultsDbId"].(string)

	if handle == "" {
		if result == nil {
			return nil, Summary{}, errors.NewProtocol(
				"search submission returned no result object",
				map[string]any{"service": service})
		}
		if _, hasData := result["data"]; !hasData {
			return nil, Summary{}, errors.NewProtocol(
				"search submission returned neither a results handle nor inline data",
				map[string]any{"service": service})
		}

		records := NormalizeResult(result)
		summary := Summary{
			TotalCount:    len(records),
			ReturnedCount: len(records),
			PagesFetched:  1,
			RetrievedAt:   time.Now().UTC(),
		}
		if count, ok := pagination(resp).totalCount(); ok {
			summary.TotalCount = count
			summary.Truncated = len(records) < count
		}
		return records, summary, nil
	}

	records, summary := FetchAll(ctx, t, "search/"+service+"/"+handle, nil, maxPages, pageSize)
	return records, summary, nil
}
