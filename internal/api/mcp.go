package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/maphy9/mind-flow/internal/reminder"
	"github.com/maphy9/mind-flow/internal/schedule"
	"github.com/maphy9/mind-flow/internal/storage"
)

// ReminderLister is the read access the MCP layer needs.
type ReminderLister interface {
	ListReminders(ctx context.Context, userID string) ([]storage.Reminder, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     ReminderLister
	Reminders Reminders
	UserID    string
	Location  *time.Location
	Now       func() time.Time // defaults to time.Now
}

// NewMCPServer creates an MCP server with the reminder tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := server.NewMCPServer(
		"mindflow",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mind-flow: schedule, list and manage personal reminders from plain time phrases such as \"07:30\" or \"in 20 minutes\"."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("schedule_reminder",
			mcp.WithDescription("Create a reminder. Time accepts \"HH:mm\" (daily), \"today HH:mm\", \"in N minutes|hours\" or any text containing HH:mm."),
			mcp.WithString("title", mcp.Description("What to be reminded about"), mcp.Required()),
			mcp.WithString("time", mcp.Description("Free-text time expression")),
		),
		mcpScheduleReminder(deps),
	)

	s.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List the user's reminders with a short schedule description."),
		),
		mcpListReminders(deps),
	)

	s.AddTool(
		mcp.NewTool("toggle_reminder",
			mcp.WithDescription("Disable an enabled reminder or re-enable a disabled one."),
			mcp.WithString("id", mcp.Description("Reminder id"), mcp.Required()),
		),
		mcpToggleReminder(deps),
	)

	s.AddTool(
		mcp.NewTool("remove_reminder",
			mcp.WithDescription("Delete a reminder and cancel its notifications."),
			mcp.WithString("id", mcp.Description("Reminder id"), mcp.Required()),
		),
		mcpRemoveReminder(deps),
	)

	s.AddTool(
		mcp.NewTool("parse_time",
			mcp.WithDescription("Show how a time expression would be scheduled without creating anything."),
			mcp.WithString("text", mcp.Description("Free-text time expression"), mcp.Required()),
		),
		mcpParseTime(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://reminders",
			"Reminders",
			mcp.WithResourceDescription("The user's reminders as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceReminders(deps),
	)

	return s
}

func mcpScheduleReminder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		rawTime := req.GetString("time", "")

		res, err := deps.Reminders.Schedule(ctx, deps.UserID, title, rawTime)
		if errors.Is(err, reminder.ErrEmptyTitle) {
			return mcpError("title is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create reminder: %v", err)), nil
		}
		return mcpJSON(resultView(res, deps.Location))
	}
}

func mcpListReminders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reminders, err := deps.Store.ListReminders(ctx, deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list reminders: %v", err)), nil
		}
		views := make([]ReminderView, len(reminders))
		for i, r := range reminders {
			views[i] = describe(r, deps.Location)
		}
		return mcpJSON(views)
	}
}

func mcpToggleReminder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		res, err := deps.Reminders.Toggle(ctx, deps.UserID, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("reminder %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to toggle reminder: %v", err)), nil
		}
		return mcpJSON(resultView(res, deps.Location))
	}
}

func mcpRemoveReminder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		res, err := deps.Reminders.Remove(ctx, deps.UserID, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("reminder %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to remove reminder: %v", err)), nil
		}
		msg := fmt.Sprintf("Removed %q", res.Reminder.Title)
		if res.CancelFailures > 0 {
			msg += fmt.Sprintf(" (%d notification(s) could not be cancelled)", res.CancelFailures)
		}
		return mcpText(msg), nil
	}
}

// ParsedTime is the parse_time tool's answer.
type ParsedTime struct {
	Kind   string `json:"kind"`
	Hour   *int   `json:"hour,omitempty"`
	Minute *int   `json:"minute,omitempty"`
	When   string `json:"when,omitempty"`
}

func mcpParseTime(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		return mcpJSON(ParseTime(text, deps.Now().In(deps.Location)))
	}
}

// ParseTime reports how text would be scheduled relative to now.
func ParseTime(text string, now time.Time) ParsedTime {
	d := schedule.Parse(text, now)
	out := ParsedTime{Kind: d.Kind.String()}
	switch d.Kind {
	case schedule.KindDaily:
		h, m := d.Hour, d.Minute
		out.Hour, out.Minute = &h, &m
	case schedule.KindOnce:
		h, m := d.When.Hour(), d.When.Minute()
		out.Hour, out.Minute = &h, &m
		out.When = d.When.Format(time.RFC3339)
	}
	return out
}

type resultOut struct {
	Reminder       ReminderView     `json:"reminder"`
	Outcome        reminder.Outcome `json:"outcome"`
	CancelFailures int              `json:"cancelFailures,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

func resultView(res reminder.Result, loc *time.Location) resultOut {
	return resultOut{
		Reminder:       describe(res.Reminder, loc),
		Outcome:        res.Outcome,
		CancelFailures: res.CancelFailures,
		Warnings:       res.Warnings,
	}
}

func mcpResourceReminders(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		reminders, err := deps.Store.ListReminders(ctx, deps.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to list reminders: %w", err)
		}
		views := make([]ReminderView, len(reminders))
		for i, r := range reminders {
			views[i] = describe(r, deps.Location)
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal reminders: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
