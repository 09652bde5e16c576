package brapi

import (
	"context"
	"strconv"
	"time"
)

// DefaultPageSize is used when a caller passes a non-positive page size.
const DefaultPageSize = 100

// Summary describes the outcome of one fetch or search operation. It is
// attached alongside the record list, never embedded in the records.
type Summary struct {
	// TotalCount is the server-reported total; when the server never
	// reports one it falls back to the number of records retrieved.
	TotalCount int `json:"total_count"`

	// ReturnedCount is the number of records actually retrieved.
	ReturnedCount int `json:"returned_count"`

	// PagesFetched is the number of page requests that completed.
	PagesFetched int `json:"pages_fetched"`

	// RetrievedAt is when the operation finished.
	RetrievedAt time.Time `json:"retrieved_at"`

	// Truncated reports that fewer records were returned than the total
	// available, either because pagination was bounded or because a
	// transport error cut the loop short.
	Truncated bool `json:"truncated"`

	// Err carries the transport error that aborted the page loop, if any.
	// Partial pagination is a valid, reportable outcome, not an exception.
	Err string `json:"error,omitempty"`
}

// FetchAll drives repeated list requests against one endpoint and returns
// the accumulated records plus a Summary.
//
// Pages are requested strictly sequentially starting at page 0: each page's
// response tells the loop whether to continue. The loop stops when the
// server reports no further pages, a page comes back empty, or maxPages is
// reached (the effective bound is min(serverReportedTotalPages, maxPages);
// maxPages <= 0 means unbounded). A transport error on any page aborts the
// loop and returns whatever was accumulated so far with Summary.Err set.
// Cancelling ctx stops issuing further page requests and returns partials.
func FetchAll(ctx context.Context, t Transport, endpoint string, params map[string]string, maxPages, pageSize int) ([]Record, Summary) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	records := make([]Record, 0, pageSize)
	totalCount := 0
	totalReported := false
	pagesFetched := 0
	errMsg := ""

	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		if ctx.Err() != nil {
			errMsg = ctx.Err().Error()
			break
		}

		query := make(map[string]string, len(params)+2)
		for k, v := range params {
			query[k] = v
		}
		query["page"] = strconv.Itoa(page)
		query["pageSize"] = strconv.Itoa(pageSize)

		resp, err := t.Get(ctx, endpoint, query)
		if err != nil {
			errMsg = err.Error()
			break
		}
		pagesFetched++

		pageRecords := NormalizeResult(resp["result"])
		if len(pageRecords) == 0 {
			break
		}
		records = append(records, pageRecords...)

		pg := pagination(resp)
		if count, ok := pg.totalCount(); ok {
			totalCount = count
			totalReported = true
		}

		totalPages := pg.totalPages()
		if maxPages > 0 && totalPages > maxPages {
			totalPages = maxPages
		}
		if pg.currentPage(page) >= totalPages-1 {
			break
		}
	}

	if !totalReported {
		totalCount = len(records)
	}

	return records, Summary{
		TotalCount:    totalCount,
		ReturnedCount: len(records),
		PagesFetched:  pagesFetched,
		RetrievedAt:   time.Now().UTC(),
		Truncated:     errMsg != "" || len(records) < totalCount,
		Err:           errMsg,
	}
}

// pageMeta is the pagination block of one page response.
type pageMeta map[string]any

func pagination(resp map[string]any) pageMeta {
	metadata, _ := resp["metadata"].(map[string]any)
	pg, _ := metadata["pagination"].(map[string]any)
	return pageMeta(pg)
}

func (p pageMeta) totalCount() (int, bool) {
	return intField(p, "totalCount")
}

func (p pageMeta) totalPages() int {
	if n, ok := intField(p, "totalPages"); ok {
		return n
	}
	return 1
}

func (p pageMeta) currentPage(requested int) int {
	if n, ok := intField(p, "currentPage"); ok {
		return n
	}
	return requested
}

// intField reads a numeric field from decoded JSON, where numbers arrive as
// float64.
func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
