package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var describeCapabilitiesToolDef = mcp.NewTool("describe_capabilities",
	mcp.WithDescription("Describe what the connected BrAPI server supports: available services grouped by module, plus which services offer detail lookup and search. Pass a service name for its endpoint paths and accepted parameters."),
	mcp.WithString("service",
		mcp.Description("Optional service name (e.g. 'studies') to get endpoint-level detail for"),
	),
)

var getToolDef = mcp.NewTool("brapi_get",
	mcp.WithDescription("Fetch records from a BrAPI list endpoint with automatic pagination. The full result set is saved to the session cache; the response carries a result_id handle plus a fetch summary, not the raw rows. Use load_result to page through the data."),
	mcp.WithString("service",
		mcp.Required(),
		mcp.Description("Service name, e.g. 'studies', 'germplasm', 'variantsets'"),
	),
	mcp.WithString("db_id",
		mcp.Description("Database id for a single-record lookup, e.g. a studyDbId"),
	),
	mcp.WithString("sub",
		mcp.Description("Sub-resource under a db_id: 'calls', 'callsets', or 'variants' (variantsets only)"),
	),
	mcp.WithObject("params",
		mcp.Description("Query filter parameters passed through to the endpoint"),
	),
	mcp.WithNumber("max_results",
		mcp.Description("Cap on records to retrieve; defaults to the configured maximum"),
	),
	mcp.WithString("format",
		mcp.Description("Cache file format: 'csv' (default) or 'jsonl'"),
	),
	mcp.WithString("session_id",
		mcp.Description("Session to cache the result under; omit to use the current session"),
	),
)

var searchToolDef = mcp.NewTool("brapi_search",
	mcp.WithDescription("Run a two-phase BrAPI search: the filter document is POSTed to search/{service}, then results are retrieved (either inline or via the returned search handle). The result set is saved to the session cache and a result_id handle is returned."),
	mcp.WithString("service",
		mcp.Required(),
		mcp.Description("Searchable service name, e.g. 'studies' for search/studies"),
	),
	mcp.WithObject("search_params",
		mcp.Required(),
		mcp.Description("Search filter document, e.g. {\"studyDbIds\": [\"123\"]}"),
	),
	mcp.WithNumber("max_results",
		mcp.Description("Cap on records to retrieve; defaults to the configured maximum"),
	),
	mcp.WithString("format",
		mcp.Description("Cache file format: 'csv' (default) or 'jsonl'"),
	),
	mcp.WithString("session_id",
		mcp.Description("Session to cache the result under; omit to use the current session"),
	),
)

var aggregateToolDef = mcp.NewTool("brapi_aggregate",
	mcp.WithDescription("Fetch records from a BrAPI endpoint and return a compact aggregate instead of rows: 'count' (row/column totals plus per-column distinct counts), 'unique' (distinct values of one column), or 'distribution' (value frequencies of one column)."),
	mcp.WithString("service",
		mcp.Required(),
		mcp.Description("Service name to aggregate over"),
	),
	mcp.WithString("aggregation",
		mcp.Required(),
		mcp.Description("One of 'count', 'unique', 'distribution'"),
	),
	mcp.WithString("group_by",
		mcp.Description("Column name; required for 'unique' and 'distribution'"),
	),
	mcp.WithObject("params",
		mcp.Description("Query filter parameters passed through to the endpoint"),
	),
	mcp.WithNumber("max_results",
		mcp.Description("Cap on records to retrieve before aggregating"),
	),
)

var downloadImagesToolDef = mcp.NewTool("download_images",
	mcp.WithDescription("Fetch image records from the images endpoint and download each referenced image file to a local directory. Returns per-image success and failure details, never the image bytes. Use describe_capabilities with service 'images' for the accepted filter parameters."),
	mcp.WithString("db_id",
		mcp.Description("Database id of a single image to download"),
	),
	mcp.WithObject("params",
		mcp.Description("Query filter parameters passed through to the images endpoint"),
	),
	mcp.WithNumber("max_results",
		mcp.Description("Cap on image records to retrieve"),
	),
	mcp.WithString("dest_dir",
		mcp.Description("Directory to write image files into; defaults to a downloads directory inside the session cache"),
	),
	mcp.WithString("session_id",
		mcp.Description("Session whose downloads directory to use; omit to use the current session"),
	),
)

var listResultsToolDef = mcp.NewTool("list_results",
	mcp.WithDescription("List the cached results of a session, newest first."),
	mcp.WithString("session_id",
		mcp.Description("Session to list; omit to use the current session"),
	),
)

var resultSummaryToolDef = mcp.NewTool("result_summary",
	mcp.WithDescription("Describe one cached result: row and column counts, column names, file size, and the query that produced it."),
	mcp.WithString("result_id",
		mcp.Required(),
		mcp.Description("Result handle returned by brapi_get or brapi_search"),
	),
	mcp.WithString("session_id",
		mcp.Description("Session the result lives in; omit to use the current session"),
	),
)

var loadResultToolDef = mcp.NewTool("load_result",
	mcp.WithDescription("Load rows from a cached result, with optional offset, row limit, and column projection. Returns the rows plus slice metadata."),
	mcp.WithString("result_id",
		mcp.Required(),
		mcp.Description("Result handle returned by brapi_get or brapi_search"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum rows to return; omit or 0 for all"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Rows to skip from the start"),
	),
	mcp.WithArray("columns",
		mcp.Description("Column names to keep; omit for all columns"),
		mcp.WithStringItems(),
	),
	mcp.WithString("session_id",
		mcp.Description("Session the result lives in; omit to use the current session"),
	),
)

var deleteResultToolDef = mcp.NewTool("delete_result",
	mcp.WithDescription("Delete one cached result and its data file."),
	mcp.WithString("result_id",
		mcp.Required(),
		mcp.Description("Result handle to delete"),
	),
	mcp.WithString("session_id",
		mcp.Description("Session the result lives in; omit to use the current session"),
	),
)

var listSessionsToolDef = mcp.NewTool("list_sessions",
	mcp.WithDescription("List all known sessions with creation and last-access times, most recently used first."),
)

var downloadLinkToolDef = mcp.NewTool("download_link",
	mcp.WithDescription("Return an HTTP download URL for a cached result's data file. The link is served by the web download server (the 'web' subcommand); start it if it is not already running."),
	mcp.WithString("result_id",
		mcp.Required(),
		mcp.Description("Result handle to link to"),
	),
	mcp.WithString("session_id",
		mcp.Description("Session the result lives in; omit to use the current session"),
	),
)
