package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cropbase/brapi-mcp/internal/brapi"
	"github.com/cropbase/brapi-mcp/internal/cache"
	"github.com/cropbase/brapi-mcp/internal/capability"
	"github.com/cropbase/brapi-mcp/internal/config"
	"github.com/cropbase/brapi-mcp/internal/errors"
	"github.com/cropbase/brapi-mcp/internal/session"
)

// subResources lists the sub-resource segments accepted under a db_id
// (variantsets/{id}/calls and friends).
var subResources = map[string]bool{
	"calls":    true,
	"callsets": true,
	"variants": true,
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	transport brapi.Transport
	caps      *capability.ServerCapabilities
	sessions  *session.Manager
	cfg       *config.Config
	log       *slog.Logger

	// ambient is the session id used when a call does not name one.
	// Created lazily on the first cache access and reused for the rest
	// of the process lifetime.
	mu      sync.Mutex
	ambient string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(transport brapi.Transport, caps *capability.ServerCapabilities, sessions *session.Manager, cfg *config.Config, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handlers{
		transport: transport,
		caps:      caps,
		sessions:  sessions,
		cfg:       cfg,
		log:       log,
	}
}

// Request types for each tool

// DescribeRequest represents the arguments for describe_capabilities.
type DescribeRequest struct {
	Service string `json:"service,omitempty"`
}

// GetRequest represents the arguments for brapi_get.
type GetRequest struct {
	Service    string         `json:"service"`
	DbID       string         `json:"db_id,omitempty"`
	Sub        string         `json:"sub,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	MaxResults int            `json:"max_results,omitempty"`
	Format     string         `json:"format,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
}

// SearchRequest represents the arguments for brapi_search.
type SearchRequest struct {
	Service      string         `json:"service"`
	SearchParams map[string]any `json:"search_params"`
	MaxResults   int            `json:"max_results,omitempty"`
	Format       string         `json:"format,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
}

// AggregateRequest represents the arguments for brapi_aggregate.
type AggregateRequest struct {
	Service     string         `json:"service"`
	Aggregation string         `json:"aggregation"`
	GroupBy     string         `json:"group_by,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	MaxResults  int            `json:"max_results,omitempty"`
}

// DownloadImagesRequest represents the arguments for download_images.
type DownloadImagesRequest struct {
	DbID       string         `json:"db_id,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	MaxResults int            `json:"max_results,omitempty"`
	DestDir    string         `json:"dest_dir,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
}

// ListResultsRequest represents the arguments for list_results.
type ListResultsRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// ResultSummaryRequest represents the arguments for result_summary.
type ResultSummaryRequest struct {
	ResultID  string `json:"result_id"`
	SessionID string `json:"session_id,omitempty"`
}

// LoadResultRequest represents the arguments for load_result.
type LoadResultRequest struct {
	ResultID  string   `json:"result_id"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`
	Columns   []string `json:"columns,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// DeleteResultRequest represents the arguments for delete_result.
type DeleteResultRequest struct {
	ResultID  string `json:"result_id"`
	SessionID string `json:"session_id,omitempty"`
}

// DownloadLinkRequest represents the arguments for download_link.
type DownloadLinkRequest struct {
	ResultID  string `json:"result_id"`
	SessionID string `json:"session_id,omitempty"`
}

// Handler implementations

// HandleDescribeCapabilities handles the describe_capabilities tool call.
func (h *Handlers) HandleDescribeCapabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DescribeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.Service != "" {
		return h.describeService(input.Service)
	}

	modules := make(map[string]any, len(h.caps.Modules))
	for name, mod := range h.caps.Modules {
		paths := make([]string, 0, len(mod.Endpoints))
		for p := range mod.Endpoints {
			paths = append(paths, p)
		}
		modules[name] = paths
	}

	return successResult(map[string]any{
		"server":          h.caps.ServerName,
		"services":        h.caps.Consolidated(),
		"search_services": h.caps.SearchServices(),
		"modules":         modules,
	})
}

// describeService returns endpoint-level detail for one service family.
func (h *Handlers) describeService(service string) (*mcp.CallToolResult, error) {
	if !h.caps.HasService(service) {
		return errorResult(errors.NewUnknownService(service, h.caps.Services())), nil
	}

	type endpointDetail struct {
		Path        string                          `json:"path"`
		Methods     []string                        `json:"methods"`
		Module      string                          `json:"module,omitempty"`
		Description string                          `json:"description,omitempty"`
		Parameters  map[string]capability.ParamSpec `json:"parameters,omitempty"`
	}

	endpoints := make([]endpointDetail, 0, 4)
	for path, ep := range h.caps.Endpoints {
		if path != service && !strings.HasPrefix(path, service+"/") &&
			path != "search/"+service && !strings.HasPrefix(path, "search/"+service+"/") {
			continue
		}
		endpoints = append(endpoints, endpointDetail{
			Path:        path,
			Methods:     ep.Methods,
			Module:      ep.Module,
			Description: ep.Description,
			Parameters:  ep.Parameters,
		})
	}

	return successResult(map[string]any{
		"service":   service,
		"endpoints": endpoints,
	})
}

// HandleGet handles the brapi_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Service == "" {
		return errorResult(errors.NewInvalidRequest("service is required")), nil
	}
	if !h.caps.HasService(input.Service) {
		return errorResult(errors.NewUnknownService(input.Service, h.caps.Services())), nil
	}

	endpoint, derr := buildEndpoint(input.Service, input.DbID, input.Sub)
	if derr != nil {
		return errorResult(derr), nil
	}

	format, ferr := parseFormat(input.Format)
	if ferr != nil {
		return errorResult(ferr), nil
	}

	maxResults, maxPages, pageSize := h.pageBounds(input.MaxResults)
	records, summary := brapi.FetchAll(ctx, h.transport, endpoint, stringifyParams(input.Params), maxPages, pageSize)
	records, summary = clampResults(records, summary, maxResults)

	query := map[string]any{"endpoint": endpoint}
	if len(input.Params) > 0 {
		query["params"] = input.Params
	}

	return h.saveAndSummarize(input.SessionID, endpoint, records, summary, query, format)
}

// HandleSearch handles the brapi_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Service == "" {
		return errorResult(errors.NewInvalidRequest("service is required")), nil
	}
	if !h.caps.HasService("search/" + input.Service) {
		return errorResult(errors.NewUnknownService("search/"+input.Service, h.caps.SearchServices())), nil
	}

	format, ferr := parseFormat(input.Format)
	if ferr != nil {
		return errorResult(ferr), nil
	}

	maxResults, maxPages, pageSize := h.pageBounds(input.MaxResults)
	records, summary, err := brapi.Search(ctx, h.transport, input.Service, input.SearchParams, maxPages, pageSize)
	if err != nil {
		return errorResult(err), nil
	}
	records, summary = clampResults(records, summary, maxResults)

	query := map[string]any{
		"endpoint":      "search/" + input.Service,
		"search_params": input.SearchParams,
	}

	return h.saveAndSummarize(input.SessionID, "search/"+input.Service, records, summary, query, format)
}

// HandleAggregate handles the brapi_aggregate tool call.
func (h *Handlers) HandleAggregate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AggregateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Service == "" {
		return errorResult(errors.NewInvalidRequest("service is required")), nil
	}
	if !h.caps.HasService(input.Service) {
		return errorResult(errors.NewUnknownService(input.Service, h.caps.Services())), nil
	}

	maxResults, maxPages, pageSize := h.pageBounds(input.MaxResults)
	records, summary := brapi.FetchAll(ctx, h.transport, input.Service, stringifyParams(input.Params), maxPages, pageSize)
	records, summary = clampResults(records, summary, maxResults)

	agg, err := brapi.Aggregate(records, input.Aggregation, input.GroupBy)
	if err != nil {
		return errorResult(err), nil
	}

	payload := map[string]any{
		"service":     input.Service,
		"aggregation": input.Aggregation,
		"summary":     summary,
		"result":      agg,
	}
	if input.GroupBy != "" {
		payload["group_by"] = input.GroupBy
	}
	return successResult(payload)
}

// HandleDownloadImages handles the download_images tool call. Image records
// are fetched first; each record's imageURL is then streamed to the
// destination directory. One bad image never aborts the batch.
func (h *Handlers) HandleDownloadImages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DownloadImagesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if !h.caps.HasService("images") {
		return errorResult(errors.NewUnknownService("images", h.caps.Services())), nil
	}

	endpoint := "images"
	if input.DbID != "" {
		endpoint += "/" + input.DbID
	}

	maxResults, maxPages, pageSize := h.pageBounds(input.MaxResults)
	records, summary := brapi.FetchAll(ctx, h.transport, endpoint, stringifyParams(input.Params), maxPages, pageSize)
	records, summary = clampResults(records, summary, maxResults)

	c, sid, err := h.sessionCache(input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	destDir := input.DestDir
	if destDir == "" {
		destDir = filepath.Join(c.Dir(), "downloads")
	}
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}

	downloaded := make([]string, 0, len(records))
	failures := make([]map[string]any, 0)
	for i, rec := range records {
		imageURL, _ := rec["imageURL"].(string)
		if imageURL == "" {
			failures = append(failures, map[string]any{
				"image": imageLabel(rec, i),
				"error": "record has no imageURL",
			})
			continue
		}

		dest := filepath.Join(destDir, imageFileName(rec, imageURL, i))
		if err := h.transport.DownloadFile(ctx, imageURL, dest); err != nil {
			h.log.Warn("image download failed", "url", imageURL, "error", err)
			failures = append(failures, map[string]any{
				"image": imageLabel(rec, i),
				"url":   imageURL,
				"error": err.Error(),
			})
			continue
		}
		downloaded = append(downloaded, dest)
	}

	h.log.Info("images downloaded",
		"endpoint", endpoint,
		"session_id", sid,
		"downloaded", len(downloaded),
		"failed", len(failures))

	return successResult(map[string]any{
		"endpoint":         endpoint,
		"session_id":       sid,
		"dest_dir":         destDir,
		"record_count":     len(records),
		"downloaded_count": len(downloaded),
		"failed_count":     len(failures),
		"files":            downloaded,
		"failures":         failures,
		"summary":          summary,
	})
}

// HandleListResults handles the list_results tool call.
func (h *Handlers) HandleListResults(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListResultsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	c, sid, err := h.sessionCache(input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	infos := c.List()
	results := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		results = append(results, map[string]any{
			"result_id":    info.ResultID,
			"format":       info.Format,
			"row_count":    info.RowCount,
			"column_count": info.ColumnCount,
			"size":         humanize.Bytes(uint64(info.SizeBytes)),
			"created_at":   info.CreatedAt,
		})
	}

	return successResult(map[string]any{
		"session_id": sid,
		"count":      len(results),
		"results":    results,
	})
}

// HandleResultSummary handles the result_summary tool call.
func (h *Handlers) HandleResultSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ResultSummaryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ResultID == "" {
		return errorResult(errors.NewInvalidRequest("result_id is required")), nil
	}

	c, sid, err := h.sessionCache(input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	info, ok := c.Info(input.ResultID)
	if !ok {
		return errorResult(errors.NewNotFound("result", input.ResultID)), nil
	}

	return successResult(map[string]any{
		"session_id": sid,
		"result":     info,
		"size":       humanize.Bytes(uint64(info.SizeBytes)),
	})
}

// HandleLoadResult handles the load_result tool call.
func (h *Handlers) HandleLoadResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LoadResultRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ResultID == "" {
		return errorResult(errors.NewInvalidRequest("result_id is required")), nil
	}

	c, _, err := h.sessionCache(input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	loaded, err := c.Load(input.ResultID, input.Limit, input.Offset, input.Columns)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(loaded)
}

// HandleDeleteResult handles the delete_result tool call.
func (h *Handlers) HandleDeleteResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteResultRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ResultID == "" {
		return errorResult(errors.NewInvalidRequest("result_id is required")), nil
	}

	c, sid, err := h.sessionCache(input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	removed, err := c.Delete(input.ResultID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"session_id": sid,
		"result_id":  input.ResultID,
		"deleted":    removed,
	})
}

// HandleListSessions handles the list_sessions tool call.
func (h *Handlers) HandleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := h.sessions.List()
	return successResult(map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// HandleDownloadLink handles the download_link tool call.
func (h *Handlers) HandleDownloadLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DownloadLinkRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ResultID == "" {
		return errorResult(errors.NewInvalidRequest("result_id is required")), nil
	}

	c, sid, err := h.sessionCache(input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	info, ok := c.Info(input.ResultID)
	if !ok {
		return errorResult(errors.NewNotFound("result", input.ResultID)), nil
	}

	downloadURL := fmt.Sprintf("http://%s:%d/download/%s/%s",
		h.cfg.WebBind, h.cfg.WebPort, sid, info.ResultID)

	return successResult(map[string]any{
		"url":        downloadURL,
		"session_id": sid,
		"result_id":  info.ResultID,
		"format":     info.Format,
		"size":       humanize.Bytes(uint64(info.SizeBytes)),
		"note":       "requires the download server (run the 'web' subcommand) to be listening",
	})
}

// Shared plumbing

// sessionCache resolves the cache for a tool call, falling back to the
// process-wide ambient session when no session_id was given.
func (h *Handlers) sessionCache(explicitID string) (*cache.Cache, string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, id, err := h.sessions.GetOrCreate(explicitID, h.ambient)
	if err != nil {
		return nil, "", err
	}
	if explicitID == "" {
		h.ambient = id
	}
	return c, id, nil
}

// pageBounds converts a caller's max_results into the page loop bounds.
// The effective cap never exceeds the configured maximum.
func (h *Handlers) pageBounds(maxResults int) (capResults, maxPages, pageSize int) {
	capResults = h.cfg.MaxResults
	if capResults <= 0 {
		capResults = 500
	}
	if maxResults > 0 && maxResults < capResults {
		capResults = maxResults
	}

	pageSize = h.cfg.DefaultPageSize
	if pageSize <= 0 {
		pageSize = brapi.DefaultPageSize
	}
	if pageSize > capResults {
		pageSize = capResults
	}

	maxPages = (capResults + pageSize - 1) / pageSize
	return capResults, maxPages, pageSize
}

// saveAndSummarize writes records to the session cache and builds the
// compact handle response shared by brapi_get and brapi_search.
func (h *Handlers) saveAndSummarize(sessionID, endpoint string, records []brapi.Record, summary brapi.Summary, query map[string]any, format cache.Format) (*mcp.CallToolResult, error) {
	c, sid, err := h.sessionCache(sessionID)
	if err != nil {
		return errorResult(err), nil
	}

	resultID := cache.ResultID(endpoint, query)
	info, err := c.Save(resultID, sid, records, query, format)
	if err != nil {
		return errorResult(err), nil
	}

	h.log.Info("result cached",
		"endpoint", endpoint,
		"result_id", info.ResultID,
		"session_id", sid,
		"rows", info.RowCount,
		"bytes", info.SizeBytes)

	return successResult(map[string]any{
		"result_id":    info.ResultID,
		"session_id":   sid,
		"endpoint":     endpoint,
		"format":       info.Format,
		"row_count":    info.RowCount,
		"column_count": info.ColumnCount,
		"columns":      info.Columns,
		"size":         humanize.Bytes(uint64(info.SizeBytes)),
		"summary":      summary,
	})
}

// imageLabel identifies an image record in failure reports.
func imageLabel(rec brapi.Record, i int) string {
	if id, _ := rec["imageDbId"].(string); id != "" {
		return id
	}
	if name, _ := rec["imageFileName"].(string); name != "" {
		return name
	}
	return fmt.Sprintf("record %d", i)
}

// imageFileName picks a local file name for one image record. The name is
// reduced to its base component so a hostile record cannot escape destDir.
func imageFileName(rec brapi.Record, imageURL string, i int) string {
	if name, _ := rec["imageFileName"].(string); name != "" {
		return filepath.Base(name)
	}

	ext := ""
	if u, err := url.Parse(imageURL); err == nil {
		ext = filepath.Ext(u.Path)
	}
	if id, _ := rec["imageDbId"].(string); id != "" {
		return filepath.Base(id + ext)
	}
	return fmt.Sprintf("image_%d%s", i, ext)
}

// buildEndpoint assembles the request path for brapi_get.
func buildEndpoint(service, dbID, sub string) (string, *errors.Error) {
	endpoint := service
	if dbID != "" {
		endpoint += "/" + dbID
	}
	if sub != "" {
		if dbID == "" {
			return "", errors.NewInvalidRequest("sub requires db_id")
		}
		if !subResources[sub] {
			return "", errors.NewInvalidRequest(fmt.Sprintf("unknown sub-resource %q (expected calls, callsets, or variants)", sub))
		}
		endpoint += "/" + sub
	}
	return endpoint, nil
}

// parseFormat validates the requested cache format, defaulting to CSV.
func parseFormat(s string) (cache.Format, *errors.Error) {
	if s == "" {
		return cache.FormatCSV, nil
	}
	f := strings.ToLower(s)
	for _, sup := range cache.SupportedFormats() {
		if f == sup {
			return cache.Format(f), nil
		}
	}
	return "", errors.NewUnsupportedFormat(s, cache.SupportedFormats())
}

// stringifyParams flattens tool-call filter params into query string values.
// List values are comma-joined the way BrAPI servers expect.
func stringifyParams(params map[string]any) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[k] = strings.Join(parts, ",")
		case float64:
			out[k] = strconvFloat(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// strconvFloat renders JSON numbers without a trailing fraction when they
// are whole (page sizes, ids).
func strconvFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(f)
}

// clampResults trims the record list to the effective result cap and marks
// the summary truncated when rows were dropped.
func clampResults(records []brapi.Record, summary brapi.Summary, maxResults int) ([]brapi.Record, brapi.Summary) {
	if maxResults > 0 && len(records) > maxResults {
		records = records[:maxResults]
		summary.ReturnedCount = len(records)
		summary.Truncated = true
	}
	return records, summary
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if appErr, ok := err.(*errors.Error); ok {
		errorObj := map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
			"status":  appErr.Status,
		}
		// Internal error details can carry file paths; keep them out of
		// tool output.
		if appErr.Code != errors.ErrInternal && appErr.Details != nil {
			errorObj["details"] = appErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
