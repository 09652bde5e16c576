package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/urfave/cli/v2"

	"github.com/cropbase/brapi-mcp/internal/brapi"
	"github.com/cropbase/brapi-mcp/internal/capability"
	"github.com/cropbase/brapi-mcp/internal/config"
	"github.com/cropbase/brapi-mcp/internal/errors"
	"github.com/cropbase/brapi-mcp/internal/mcp"
	"github.com/cropbase/brapi-mcp/internal/session"
	"github.com/cropbase/brapi-mcp/internal/web"
)

// runtime bundles the shared dependencies of CLI commands. The tool
// handlers are built lazily because most commands never touch the remote
// server.
type runtime struct {
	cfg      *config.Config
	log      *slog.Logger
	sessions *session.Manager
	version  string

	h *mcp.Handlers
}

// handlers returns the shared tool handlers. With introspect set the
// capability set is discovered from the remote server's serverinfo;
// otherwise an empty set is used (commands that only touch local state).
func (rt *runtime) handlers(ctx context.Context, introspect bool) (*mcp.Handlers, error) {
	if rt.h != nil {
		return rt.h, nil
	}

	table, err := capability.LoadTable()
	if err != nil {
		return nil, err
	}

	transport := brapi.NewHTTPTransport(
		rt.cfg.BaseURL,
		rt.cfg.Token(),
		time.Duration(rt.cfg.RequestTimeoutSecs)*time.Second,
		rt.log,
	)

	var caps *capability.ServerCapabilities
	if introspect {
		caps = capability.FromServer(ctx, transport, rt.cfg.ServerName, table, rt.log)
	} else {
		caps = capability.Build(rt.cfg.ServerName, nil, table)
	}

	rt.h = mcp.NewHandlers(transport, caps, rt.sessions, rt.cfg, rt.log)
	return rt.h, nil
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(rt *runtime) *cli.App {
	app := &cli.App{
		Name:    "brapi-mcp",
		Usage:   "BrAPI query gateway for MCP clients",
		Version: Version,
		Commands: []*cli.Command{
			capabilitiesCmd(rt),
			getCmd(rt),
			searchCmd(rt),
			aggregateCmd(rt),
			resultsCmd(rt),
			loadCmd(rt),
			deleteCmd(rt),
			sessionsCmd(rt),
			cleanupCmd(rt),
			webCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// capabilitiesCmd creates the capabilities command.
func capabilitiesCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "capabilities",
		Usage: "Show what the remote BrAPI server supports",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "service", Aliases: []string{"s"}, Usage: "Show endpoint detail for one service"},
		},
		Action: func(c *cli.Context) error {
			h, err := rt.handlers(c.Context, true)
			if err != nil {
				return outputError(err)
			}
			args := map[string]any{}
			if service := c.String("service"); service != "" {
				args["service"] = service
			}
			return runTool(c.Context, h.HandleDescribeCapabilities, args)
		},
	}
}

// getCmd creates the get command.
func getCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch records from a list endpoint into the session cache",
		ArgsUsage: "<service>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db-id", Usage: "Database id for a single-record lookup"},
			&cli.StringFlag{Name: "sub", Usage: "Sub-resource under a db-id (calls|callsets|variants)"},
			&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "Query filter as key=value (repeatable)"},
			&cli.IntFlag{Name: "max-results", Usage: "Cap on records to retrieve"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Cache format: csv|jsonl"},
			&cli.StringFlag{Name: "session", Usage: "Session id to cache under"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("service argument is required"))
			}
			params, err := parseKVParams(c.StringSlice("param"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			h, err := rt.handlers(c.Context, true)
			if err != nil {
				return outputError(err)
			}

			args := map[string]any{"service": c.Args().First()}
			if v := c.String("db-id"); v != "" {
				args["db_id"] = v
			}
			if v := c.String("sub"); v != "" {
				args["sub"] = v
			}
			if len(params) > 0 {
				args["params"] = params
			}
			if v := c.Int("max-results"); v > 0 {
				args["max_results"] = v
			}
			if v := c.String("format"); v != "" {
				args["format"] = v
			}
			if v := c.String("session"); v != "" {
				args["session_id"] = v
			}
			return runTool(c.Context, h.HandleGet, args)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Run a two-phase search (filter document from --params or stdin)",
		ArgsUsage: "<service>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "params", Usage: "Search filter document as JSON"},
			&cli.IntFlag{Name: "max-results", Usage: "Cap on records to retrieve"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Cache format: csv|jsonl"},
			&cli.StringFlag{Name: "session", Usage: "Session id to cache under"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("service argument is required"))
			}

			raw := c.String("params")
			if raw == "" && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				raw = text
			}
			if raw == "" {
				return outputError(errors.NewInvalidRequest("search params must be given via --params or piped via stdin"))
			}

			var searchParams map[string]any
			if err := json.Unmarshal([]byte(raw), &searchParams); err != nil {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid search params JSON: %v", err)))
			}

			h, err := rt.handlers(c.Context, true)
			if err != nil {
				return outputError(err)
			}

			args := map[string]any{
				"service":       c.Args().First(),
				"search_params": searchParams,
			}
			if v := c.Int("max-results"); v > 0 {
				args["max_results"] = v
			}
			if v := c.String("format"); v != "" {
				args["format"] = v
			}
			if v := c.String("session"); v != "" {
				args["session_id"] = v
			}
			return runTool(c.Context, h.HandleSearch, args)
		},
	}
}

// aggregateCmd creates the aggregate command.
func aggregateCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "aggregate",
		Usage:     "Fetch records and return an aggregate instead of rows",
		ArgsUsage: "<service>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "aggregation", Aliases: []string{"a"}, Required: true, Usage: "count|unique|distribution"},
			&cli.StringFlag{Name: "group-by", Aliases: []string{"g"}, Usage: "Column name (unique and distribution)"},
			&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "Query filter as key=value (repeatable)"},
			&cli.IntFlag{Name: "max-results", Usage: "Cap on records to retrieve before aggregating"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("service argument is required"))
			}
			params, err := parseKVParams(c.StringSlice("param"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			h, err := rt.handlers(c.Context, true)
			if err != nil {
				return outputError(err)
			}

			args := map[string]any{
				"service":     c.Args().First(),
				"aggregation": c.String("aggregation"),
			}
			if v := c.String("group-by"); v != "" {
				args["group_by"] = v
			}
			if len(params) > 0 {
				args["params"] = params
			}
			if v := c.Int("max-results"); v > 0 {
				args["max_results"] = v
			}
			return runTool(c.Context, h.HandleAggregate, args)
		},
	}
}

// resultsCmd creates the results command.
func resultsCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "results",
		Usage: "List cached results of a session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Usage: "Session id"},
		},
		Action: func(c *cli.Context) error {
			h, err := rt.handlers(c.Context, false)
			if err != nil {
				return outputError(err)
			}
			args := map[string]any{}
			if v := c.String("session"); v != "" {
				args["session_id"] = v
			}
			return runTool(c.Context, h.HandleListResults, args)
		},
	}
}

// loadCmd creates the load command.
func loadCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "load",
		Usage:     "Load rows from a cached result",
		ArgsUsage: "<result-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum rows to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Rows to skip"},
			&cli.StringFlag{Name: "columns", Usage: "Comma-separated column names to keep"},
			&cli.StringFlag{Name: "session", Usage: "Session id"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("result-id argument is required"))
			}
			h, err := rt.handlers(c.Context, false)
			if err != nil {
				return outputError(err)
			}
			args := map[string]any{"result_id": c.Args().First()}
			if v := c.Int("limit"); v > 0 {
				args["limit"] = v
			}
			if v := c.Int("offset"); v > 0 {
				args["offset"] = v
			}
			if v := c.String("columns"); v != "" {
				args["columns"] = splitColumns(v)
			}
			if v := c.String("session"); v != "" {
				args["session_id"] = v
			}
			return runTool(c.Context, h.HandleLoadResult, args)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a cached result",
		ArgsUsage: "<result-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Usage: "Session id"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("result-id argument is required"))
			}
			h, err := rt.handlers(c.Context, false)
			if err != nil {
				return outputError(err)
			}
			args := map[string]any{"result_id": c.Args().First()}
			if v := c.String("session"); v != "" {
				args["session_id"] = v
			}
			return runTool(c.Context, h.HandleDeleteResult, args)
		},
	}
}

// sessionsCmd creates the sessions command.
func sessionsCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List all known sessions",
		Action: func(c *cli.Context) error {
			h, err := rt.handlers(c.Context, false)
			if err != nil {
				return outputError(err)
			}
			return runTool(c.Context, h.HandleListSessions, nil)
		},
	}
}

// cleanupCmd creates the cleanup command.
func cleanupCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Remove sessions not accessed within the age threshold",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: "Age threshold in days (e.g., 30d); defaults to the configured value"},
		},
		Action: func(c *cli.Context) error {
			days := rt.cfg.CleanupAgeDays
			if olderThan := c.String("older-than"); olderThan != "" {
				parsed, err := parseDays(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				days = parsed
			}

			removed, err := rt.sessions.Sweep(time.Duration(days)*24*time.Hour, rt.log)
			if err != nil {
				return outputError(err)
			}
			if removed == nil {
				removed = []string{}
			}
			return outputJSON(map[string]any{
				"removed_sessions": removed,
				"count":            len(removed),
				"older_than_days":  days,
			})
		},
	}
}

// webCmd creates the web command.
func webCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Serve cached results for download over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (defaults to the configured value)"},
			&cli.IntFlag{Name: "port", Usage: "Port (defaults to the configured value)"},
		},
		Action: func(c *cli.Context) error {
			bind := rt.cfg.WebBind
			if v := c.String("bind"); v != "" {
				bind = v
			}
			port := rt.cfg.WebPort
			if v := c.Int("port"); v > 0 {
				port = v
			}

			srv := web.NewServer(rt.sessions, rt.version, bind, port, rt.log)
			return web.Run(srv, rt.log)
		},
	}
}

// Helper functions

// runTool invokes a tool handler with the given arguments and prints the
// JSON payload, exiting nonzero on an error result.
func runTool(ctx context.Context, fn func(context.Context, mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error), args map[string]any) error {
	req := mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{Arguments: args},
	}
	res, err := fn(ctx, req)
	if err != nil {
		return outputError(err)
	}

	text := resultText(res)
	if res.IsError {
		return cli.Exit(text, 1)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(text), "", "  "); err != nil {
		fmt.Println(text)
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

// resultText extracts the text payload of a tool result.
func resultText(res *mcpgo.CallToolResult) string {
	for _, content := range res.Content {
		if tc, ok := content.(mcpgo.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if appErr, ok := err.(*errors.Error); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseKVParams converts repeated key=value flags into a params map.
func parseKVParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q (expected key=value)", pair)
		}
		params[key] = value
	}
	return params, nil
}

// splitColumns splits a comma-separated column list.
func splitColumns(s string) []string {
	parts := strings.Split(s, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := strings.TrimSpace(p); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// parseDays parses "30d" format to days.
func parseDays(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 30d")
}
