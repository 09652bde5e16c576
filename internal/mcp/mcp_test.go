package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cropbase/brapi-mcp/internal/capability"
	"github.com/cropbase/brapi-mcp/internal/config"
	"github.com/cropbase/brapi-mcp/internal/session"
)

// fakeTransport scripts remote responses per path.
type fakeTransport struct {
	getResponses map[string]map[string]any
	getErrs      map[string]error
	postResponse map[string]any
	postErr      error
	downloadErrs map[string]error

	getPaths  []string
	postPaths []string
	downloads map[string]string // url -> destination
}

func (f *fakeTransport) Get(ctx context.Context, path string, params map[string]string) (map[string]any, error) {
	f.getPaths = append(f.getPaths, path)
	if err, ok := f.getErrs[path]; ok {
		return nil, err
	}
	if resp, ok := f.getResponses[path]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("unexpected GET %s", path)
}

func (f *fakeTransport) Post(ctx context.Context, path string, body any, params map[string]string) (map[string]any, error) {
	f.postPaths = append(f.postPaths, path)
	if f.postErr != nil {
		return nil, f.postErr
	}
	return f.postResponse, nil
}

func (f *fakeTransport) DownloadFile(ctx context.Context, fileURL, destination string) error {
	if err, ok := f.downloadErrs[fileURL]; ok {
		return err
	}
	if f.downloads == nil {
		f.downloads = make(map[string]string)
	}
	f.downloads[fileURL] = destination
	return os.WriteFile(destination, []byte("image bytes"), 0600)
}

// page builds a paginated list response.
func page(current, totalPages, totalCount int, records ...map[string]any) map[string]any {
	data := make([]any, 0, len(records))
	for _, r := range records {
		data = append(data, r)
	}
	return map[string]any{
		"metadata": map[string]any{
			"pagination": map[string]any{
				"currentPage": float64(current),
				"totalPages":  float64(totalPages),
				"totalCount":  float64(totalCount),
				"pageSize":    float64(len(records)),
			},
		},
		"result": map[string]any{"data": data},
	}
}

func testCaps() *capability.ServerCapabilities {
	eps := map[string]*capability.EndpointCapability{
		"studies": {
			Path:        "studies",
			Methods:     []string{"GET"},
			Module:      "core",
			Description: "Study listing",
		},
		"studies/{studyDbId}": {
			Path:    "studies/{studyDbId}",
			Methods: []string{"GET"},
			Module:  "core",
		},
		"search/studies": {
			Path:    "search/studies",
			Methods: []string{"POST"},
			Module:  "core",
		},
		"search/studies/{searchResultsDbId}": {
			Path:    "search/studies/{searchResultsDbId}",
			Methods: []string{"GET"},
			Module:  "core",
		},
		"germplasm": {
			Path:    "germplasm",
			Methods: []string{"GET"},
			Module:  "germplasm",
		},
		"variantsets": {
			Path:    "variantsets",
			Methods: []string{"GET"},
			Module:  "genotyping",
		},
		"images": {
			Path:    "images",
			Methods: []string{"GET"},
			Module:  "phenotyping",
		},
	}
	mods := map[string]*capability.ModuleCapability{}
	for p, ep := range eps {
		m, ok := mods[ep.Module]
		if !ok {
			m = &capability.ModuleCapability{Name: ep.Module, Endpoints: map[string]*capability.EndpointCapability{}}
			mods[ep.Module] = m
		}
		m.Endpoints[p] = ep
	}
	return &capability.ServerCapabilities{
		ServerName: "testserver",
		Modules:    mods,
		Endpoints:  eps,
	}
}

func testHandlers(t *testing.T, ft *fakeTransport) *Handlers {
	t.Helper()

	mgr, err := session.New(t.TempDir())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	cfg := config.DefaultConfig()
	return NewHandlers(ft, testCaps(), mgr, cfg, nil)
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// resultJSON decodes the JSON payload of a tool result.
func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()

	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return payload
}

func errorCode(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()

	if !res.IsError {
		t.Fatal("expected IsError result")
	}
	payload := resultJSON(t, res)
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error object in %v", payload)
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestToolRegistry_NamesMatchDefinitions(t *testing.T) {
	names := AllToolNames()
	if len(names) != 11 {
		t.Fatalf("got %d tools, want 11", len(names))
	}
	for name, entry := range toolRegistry {
		if entry.def.Name != name {
			t.Errorf("registry key %q has def name %q", name, entry.def.Name)
		}
	}
}

func TestValidateDisabledTools(t *testing.T) {
	unknown := ValidateDisabledTools([]string{"brapi_get", "nope", "list_results", "bogus"})
	sort.Strings(unknown)
	if len(unknown) != 2 || unknown[0] != "bogus" || unknown[1] != "nope" {
		t.Errorf("unknown = %v, want [bogus nope]", unknown)
	}
}

func TestHandleGet_SavesAndReturnsHandle(t *testing.T) {
	ft := &fakeTransport{
		getResponses: map[string]map[string]any{
			"studies": page(0, 1, 2,
				map[string]any{"studyDbId": "1", "studyName": "alpha"},
				map[string]any{"studyDbId": "2", "studyName": "beta"},
			),
		},
	}
	h := testHandlers(t, ft)

	res, err := h.HandleGet(context.Background(), makeRequest(map[string]any{"service": "studies"}))
	if err != nil {
		t.Fatalf("HandleGet: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %v", resultJSON(t, res))
	}

	payload := resultJSON(t, res)
	resultID, _ := payload["result_id"].(string)
	if resultID == "" {
		t.Fatal("missing result_id in response")
	}
	if rc, _ := payload["row_count"].(float64); int(rc) != 2 {
		t.Errorf("row_count = %v, want 2", payload["row_count"])
	}
	if _, hasData := payload["data"]; hasData {
		t.Error("get response must carry a handle, not raw rows")
	}

	// The handle must load back through the same session.
	sid, _ := payload["session_id"].(string)
	loadRes, err := h.HandleLoadResult(context.Background(), makeRequest(map[string]any{
		"result_id":  resultID,
		"session_id": sid,
	}))
	if err != nil {
		t.Fatalf("HandleLoadResult: %v", err)
	}
	loaded := resultJSON(t, loadRes)
	rows, _ := loaded["data"].([]any)
	if len(rows) != 2 {
		t.Errorf("loaded %d rows, want 2", len(rows))
	}
}

func TestHandleGet_UnknownService(t *testing.T) {
	h := testHandlers(t, &fakeTransport{})

	res, err := h.HandleGet(context.Background(), makeRequest(map[string]any{"service": "nonexistent"}))
	if err != nil {
		t.Fatalf("HandleGet: %v", err)
	}
	if code := errorCode(t, res); code != "UNKNOWN_SERVICE" {
		t.Errorf("code = %q, want UNKNOWN_SERVICE", code)
	}

	payload := resultJSON(t, res)
	errObj := payload["error"].(map[string]any)
	details, _ := errObj["details"].(map[string]any)
	if details == nil || details["available_services"] == nil {
		t.Error("error should list available services")
	}
}

func TestHandleGet_SubResourceRules(t *testing.T) {
	h := testHandlers(t, &fakeTransport{
		getResponses: map[string]map[string]any{
			"variantsets/vs1/calls": page(0, 1, 1, map[string]any{"callSetDbId": "c1"}),
		},
	})

	res, _ := h.HandleGet(context.Background(), makeRequest(map[string]any{
		"service": "variantsets",
		"sub":     "calls",
	}))
	if code := errorCode(t, res); code != "INVALID_REQUEST" {
		t.Errorf("sub without db_id: code = %q, want INVALID_REQUEST", code)
	}

	res, _ = h.HandleGet(context.Background(), makeRequest(map[string]any{
		"service": "variantsets",
		"db_id":   "vs1",
		"sub":     "samples",
	}))
	if code := errorCode(t, res); code != "INVALID_REQUEST" {
		t.Errorf("unknown sub: code = %q, want INVALID_REQUEST", code)
	}

	res, _ = h.HandleGet(context.Background(), makeRequest(map[string]any{
		"service": "variantsets",
		"db_id":   "vs1",
		"sub":     "calls",
	}))
	if res.IsError {
		t.Fatalf("valid sub rejected: %v", resultJSON(t, res))
	}
	payload := resultJSON(t, res)
	if payload["endpoint"] != "variantsets/vs1/calls" {
		t.Errorf("endpoint = %v, want variantsets/vs1/calls", payload["endpoint"])
	}
}

func TestHandleGet_UnsupportedFormat(t *testing.T) {
	h := testHandlers(t, &fakeTransport{})

	res, _ := h.HandleGet(context.Background(), makeRequest(map[string]any{
		"service": "studies",
		"format":  "parquet",
	}))
	if code := errorCode(t, res); code != "UNSUPPORTED_FORMAT" {
		t.Errorf("code = %q, want UNSUPPORTED_FORMAT", code)
	}
}

func TestHandleSearch_TwoPhase(t *testing.T) {
	ft := &fakeTransport{
		postResponse: map[string]any{
			"result": map[string]any{"searchResultsDbId": "h42"},
		},
		getResponses: map[string]map[string]any{
			"search/studies/h42": page(0, 1, 1, map[string]any{"studyDbId": "9"}),
		},
	}
	h := testHandlers(t, ft)

	res, err := h.HandleSearch(context.Background(), makeRequest(map[string]any{
		"service":       "studies",
		"search_params": map[string]any{"studyDbIds": []any{"9"}},
	}))
	if err != nil {
		t.Fatalf("HandleSearch: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error: %v", resultJSON(t, res))
	}

	if len(ft.postPaths) != 1 || ft.postPaths[0] != "search/studies" {
		t.Errorf("postPaths = %v", ft.postPaths)
	}
	payload := resultJSON(t, res)
	if rc, _ := payload["row_count"].(float64); int(rc) != 1 {
		t.Errorf("row_count = %v, want 1", payload["row_count"])
	}
}

func TestHandleSearch_UnknownService(t *testing.T) {
	h := testHandlers(t, &fakeTransport{})

	res, _ := h.HandleSearch(context.Background(), makeRequest(map[string]any{
		"service":       "germplasm", // listable but not searchable in the fixture
		"search_params": map[string]any{},
	}))
	if code := errorCode(t, res); code != "UNKNOWN_SERVICE" {
		t.Errorf("code = %q, want UNKNOWN_SERVICE", code)
	}
}

func TestHandleAggregate_Count(t *testing.T) {
	ft := &fakeTransport{
		getResponses: map[string]map[string]any{
			"studies": page(0, 1, 2,
				map[string]any{"studyDbId": "1", "locationName": "ibadan"},
				map[string]any{"studyDbId": "2", "locationName": "ibadan"},
			),
		},
	}
	h := testHandlers(t, ft)

	res, err := h.HandleAggregate(context.Background(), makeRequest(map[string]any{
		"service":     "studies",
		"aggregation": "count",
	}))
	if err != nil {
		t.Fatalf("HandleAggregate: %v", err)
	}
	payload := resultJSON(t, res)
	agg, _ := payload["result"].(map[string]any)
	if agg == nil {
		t.Fatalf("missing aggregate result in %v", payload)
	}
	if rows, _ := agg["total_records"].(float64); int(rows) != 2 {
		t.Errorf("total_records = %v, want 2", agg["total_records"])
	}
}

func TestResultLifecycle_SummaryThenDelete(t *testing.T) {
	ft := &fakeTransport{
		getResponses: map[string]map[string]any{
			"germplasm": page(0, 1, 1, map[string]any{"germplasmDbId": "g1"}),
		},
	}
	h := testHandlers(t, ft)

	res, _ := h.HandleGet(context.Background(), makeRequest(map[string]any{"service": "germplasm"}))
	payload := resultJSON(t, res)
	resultID := payload["result_id"].(string)

	sumRes, _ := h.HandleResultSummary(context.Background(), makeRequest(map[string]any{"result_id": resultID}))
	if sumRes.IsError {
		t.Fatalf("summary failed: %v", resultJSON(t, sumRes))
	}

	listRes, _ := h.HandleListResults(context.Background(), makeRequest(nil))
	listPayload := resultJSON(t, listRes)
	if count, _ := listPayload["count"].(float64); int(count) != 1 {
		t.Errorf("list count = %v, want 1", listPayload["count"])
	}

	delRes, _ := h.HandleDeleteResult(context.Background(), makeRequest(map[string]any{"result_id": resultID}))
	delPayload := resultJSON(t, delRes)
	if deleted, _ := delPayload["deleted"].(bool); !deleted {
		t.Error("delete reported deleted=false for an existing result")
	}

	sumRes, _ = h.HandleResultSummary(context.Background(), makeRequest(map[string]any{"result_id": resultID}))
	if code := errorCode(t, sumRes); code != "NOT_FOUND" {
		t.Errorf("after delete: code = %q, want NOT_FOUND", code)
	}
}

func TestHandleDownloadImages_Batch(t *testing.T) {
	ft := &fakeTransport{
		getResponses: map[string]map[string]any{
			"images": page(0, 1, 3,
				map[string]any{"imageDbId": "img1", "imageFileName": "plot_a.png", "imageURL": "https://img.example/plot_a.png"},
				map[string]any{"imageDbId": "img2", "imageURL": "https://img.example/raw/img2.jpg"},
				map[string]any{"imageDbId": "img3"},
			),
		},
		downloadErrs: map[string]error{},
	}
	h := testHandlers(t, ft)
	destDir := t.TempDir()

	res, err := h.HandleDownloadImages(context.Background(), makeRequest(map[string]any{
		"dest_dir": destDir,
	}))
	if err != nil {
		t.Fatalf("HandleDownloadImages: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %v", resultJSON(t, res))
	}

	payload := resultJSON(t, res)
	if n, _ := payload["downloaded_count"].(float64); int(n) != 2 {
		t.Errorf("downloaded_count = %v, want 2", payload["downloaded_count"])
	}
	if n, _ := payload["failed_count"].(float64); int(n) != 1 {
		t.Errorf("failed_count = %v, want 1", payload["failed_count"])
	}

	// File names come from imageFileName when present, else imageDbId + the
	// URL's extension.
	for _, name := range []string{"plot_a.png", "img2.jpg"} {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Errorf("expected downloaded file %s: %v", name, err)
		}
	}

	failures, _ := payload["failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want 1 entry", failures)
	}
	failure, _ := failures[0].(map[string]any)
	if failure["image"] != "img3" {
		t.Errorf("failure image = %v, want img3", failure["image"])
	}
}

func TestHandleDownloadImages_TransportFailureIsPerImage(t *testing.T) {
	ft := &fakeTransport{
		getResponses: map[string]map[string]any{
			"images": page(0, 1, 2,
				map[string]any{"imageDbId": "ok", "imageFileName": "ok.png", "imageURL": "https://img.example/ok.png"},
				map[string]any{"imageDbId": "bad", "imageFileName": "bad.png", "imageURL": "https://img.example/bad.png"},
			),
		},
		downloadErrs: map[string]error{
			"https://img.example/bad.png": fmt.Errorf("connection reset"),
		},
	}
	h := testHandlers(t, ft)
	destDir := t.TempDir()

	res, _ := h.HandleDownloadImages(context.Background(), makeRequest(map[string]any{
		"dest_dir": destDir,
	}))
	payload := resultJSON(t, res)

	if n, _ := payload["downloaded_count"].(float64); int(n) != 1 {
		t.Errorf("downloaded_count = %v, want 1", payload["downloaded_count"])
	}
	failures, _ := payload["failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want 1 entry", failures)
	}
	failure, _ := failures[0].(map[string]any)
	if failure["url"] != "https://img.example/bad.png" {
		t.Errorf("failure url = %v", failure["url"])
	}
}

func TestHandleDownloadImages_DefaultDestDir(t *testing.T) {
	ft := &fakeTransport{
		getResponses: map[string]map[string]any{
			"images/img9": page(0, 1, 1,
				map[string]any{"imageDbId": "img9", "imageFileName": "leaf.png", "imageURL": "https://img.example/leaf.png"},
			),
		},
	}
	h := testHandlers(t, ft)

	res, _ := h.HandleDownloadImages(context.Background(), makeRequest(map[string]any{
		"db_id": "img9",
	}))
	payload := resultJSON(t, res)

	destDir, _ := payload["dest_dir"].(string)
	if !strings.HasSuffix(destDir, "downloads") {
		t.Errorf("dest_dir = %q, want a downloads directory inside the session cache", destDir)
	}
	if _, err := os.Stat(filepath.Join(destDir, "leaf.png")); err != nil {
		t.Errorf("expected downloaded file under default dest dir: %v", err)
	}
	if payload["endpoint"] != "images/img9" {
		t.Errorf("endpoint = %v, want images/img9", payload["endpoint"])
	}
}

func TestHandleDownloadImages_UnknownService(t *testing.T) {
	mgr, err := session.New(t.TempDir())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	caps := testCaps()
	delete(caps.Endpoints, "images")
	h := NewHandlers(&fakeTransport{}, caps, mgr, config.DefaultConfig(), nil)

	res, _ := h.HandleDownloadImages(context.Background(), makeRequest(nil))
	if code := errorCode(t, res); code != "UNKNOWN_SERVICE" {
		t.Errorf("code = %q, want UNKNOWN_SERVICE", code)
	}
}

func TestHandleLoadResult_NotFound(t *testing.T) {
	h := testHandlers(t, &fakeTransport{})

	res, _ := h.HandleLoadResult(context.Background(), makeRequest(map[string]any{"result_id": "studies_deadbeef00"}))
	if code := errorCode(t, res); code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}
}

func TestAmbientSession_ReusedAcrossCalls(t *testing.T) {
	ft := &fakeTransport{
		getResponses: map[string]map[string]any{
			"studies":   page(0, 1, 1, map[string]any{"studyDbId": "1"}),
			"germplasm": page(0, 1, 1, map[string]any{"germplasmDbId": "g1"}),
		},
	}
	h := testHandlers(t, ft)

	res1, _ := h.HandleGet(context.Background(), makeRequest(map[string]any{"service": "studies"}))
	res2, _ := h.HandleGet(context.Background(), makeRequest(map[string]any{"service": "germplasm"}))

	sid1 := resultJSON(t, res1)["session_id"].(string)
	sid2 := resultJSON(t, res2)["session_id"].(string)
	if sid1 != sid2 {
		t.Errorf("ambient session changed between calls: %q vs %q", sid1, sid2)
	}

	res3, _ := h.HandleGet(context.Background(), makeRequest(map[string]any{
		"service":    "studies",
		"session_id": "explicit1",
	}))
	if sid3 := resultJSON(t, res3)["session_id"].(string); sid3 != "explicit1" {
		t.Errorf("explicit session_id not honored: got %q", sid3)
	}
}

func TestHandleDescribeCapabilities(t *testing.T) {
	h := testHandlers(t, &fakeTransport{})

	res, err := h.HandleDescribeCapabilities(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleDescribeCapabilities: %v", err)
	}
	payload := resultJSON(t, res)
	if payload["server"] != "testserver" {
		t.Errorf("server = %v, want testserver", payload["server"])
	}
	search, _ := payload["search_services"].([]any)
	if len(search) != 1 || search[0] != "studies" {
		t.Errorf("search_services = %v, want [studies]", search)
	}

	// Per-service detail includes the search variant.
	res, _ = h.HandleDescribeCapabilities(context.Background(), makeRequest(map[string]any{"service": "studies"}))
	detail := resultJSON(t, res)
	eps, _ := detail["endpoints"].([]any)
	if len(eps) != 4 {
		t.Errorf("studies detail has %d endpoints, want 4", len(eps))
	}

	res, _ = h.HandleDescribeCapabilities(context.Background(), makeRequest(map[string]any{"service": "nope"}))
	if code := errorCode(t, res); code != "UNKNOWN_SERVICE" {
		t.Errorf("code = %q, want UNKNOWN_SERVICE", code)
	}
}

func TestHandleDownloadLink(t *testing.T) {
	ft := &fakeTransport{
		getResponses: map[string]map[string]any{
			"studies": page(0, 1, 1, map[string]any{"studyDbId": "1"}),
		},
	}
	h := testHandlers(t, ft)

	res, _ := h.HandleGet(context.Background(), makeRequest(map[string]any{"service": "studies"}))
	payload := resultJSON(t, res)
	resultID := payload["result_id"].(string)
	sid := payload["session_id"].(string)

	linkRes, _ := h.HandleDownloadLink(context.Background(), makeRequest(map[string]any{"result_id": resultID}))
	link := resultJSON(t, linkRes)
	wantURL := fmt.Sprintf("http://127.0.0.1:8580/download/%s/%s", sid, resultID)
	if link["url"] != wantURL {
		t.Errorf("url = %v, want %s", link["url"], wantURL)
	}

	linkRes, _ = h.HandleDownloadLink(context.Background(), makeRequest(map[string]any{"result_id": "missing_0000000000"}))
	if code := errorCode(t, linkRes); code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}
}

func TestPageBounds(t *testing.T) {
	h := testHandlers(t, &fakeTransport{})

	capResults, maxPages, pageSize := h.pageBounds(0)
	if capResults != 500 || pageSize != 100 || maxPages != 5 {
		t.Errorf("defaults: cap=%d pages=%d size=%d, want 500/5/100", capResults, maxPages, pageSize)
	}

	capResults, maxPages, pageSize = h.pageBounds(30)
	if capResults != 30 || pageSize != 30 || maxPages != 1 {
		t.Errorf("small cap: cap=%d pages=%d size=%d, want 30/1/30", capResults, maxPages, pageSize)
	}

	capResults, maxPages, pageSize = h.pageBounds(250)
	if capResults != 250 || pageSize != 100 || maxPages != 3 {
		t.Errorf("mid cap: cap=%d pages=%d size=%d, want 250/3/100", capResults, maxPages, pageSize)
	}
}

func TestStringifyParams(t *testing.T) {
	got := stringifyParams(map[string]any{
		"name":   "alpha",
		"ids":    []any{"a", "b"},
		"year":   float64(2024),
		"ratio":  1.5,
		"absent": nil,
	})
	want := map[string]string{
		"name":  "alpha",
		"ids":   "a,b",
		"year":  "2024",
		"ratio": "1.5",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
