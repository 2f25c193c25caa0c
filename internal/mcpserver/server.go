// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes duet tools for LLM integration via stdio transport.
// Every tool acts on behalf of one configured principal.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/identity"
	"github.com/starford/duet/internal/notes"
	"github.com/starford/duet/internal/pairing"
	"github.com/starford/duet/internal/profiles"
	"github.com/starford/duet/internal/reports"
)

const guideURI = "duet://pairing-guide"

// Deps are the services the tools call into.
type Deps struct {
	Profiles *profiles.Service
	Pairing  *pairing.Service
	Notes    *notes.Service
	Reports  *reports.Service
}

// Server wraps the MCP server with duet tools.
type Server struct {
	mcp  *server.MCPServer
	deps Deps
	uid  string
}

// New creates a new MCP server acting as principal uid with all tools registered.
func New(deps Deps, uid string) *Server {
	s := &Server{deps: deps, uid: uid}

	s.mcp = server.NewMCPServer(
		"Duet",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("pair_status",
		mcp.WithDescription("Show the acting principal's profile and active pair, if any."),
	), s.pairStatus)

	s.mcp.AddTool(mcp.NewTool("list_invites",
		mcp.WithDescription("List invites sent to (in) or by (out) the acting principal."),
		mcp.WithString("direction", mcp.Required(), mcp.Enum(pairing.Incoming, pairing.Outgoing),
			mcp.Description("in for received invites, out for sent invites")),
		mcp.WithString("status", mcp.Enum("pending", "accepted", "declined"),
			mcp.Description("Invite status filter (default pending)")),
	), s.listInvites)

	s.mcp.AddTool(mcp.NewTool("create_invite",
		mcp.WithDescription("Invite a registered user to form a pair. Read the "+guideURI+" resource first."),
		mcp.WithString("email", mcp.Required(), mcp.Description("Partner email address")),
	), s.createInvite)

	s.mcp.AddTool(mcp.NewTool("accept_invite",
		mcp.WithDescription("Accept a pending invite addressed to the acting principal."),
		mcp.WithString("invite_id", mcp.Required(), mcp.Description("Invite ID from list_invites")),
	), s.acceptInvite)

	s.mcp.AddTool(mcp.NewTool("decline_invite",
		mcp.WithDescription("Decline a pending invite addressed to the acting principal."),
		mcp.WithString("invite_id", mcp.Required(), mcp.Description("Invite ID from list_invites")),
	), s.declineInvite)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the acting principal's notes, newest first."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Write a note. Notes written while paired feed the pair's report."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Note text")),
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("report_schedule",
		mcp.WithDescription("Show the current reporting window, whether it is due, and its report."),
	), s.reportSchedule)

	s.mcp.AddTool(mcp.NewTool("generate_report",
		mcp.WithDescription("Generate the report of the current window if it is due and not generated yet."),
	), s.generateReport)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Pairing Guide",
			mcp.WithResourceDescription("How invites, pairs and reports work in duet."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", apperr.Kind(err), err))
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) principal(ctx context.Context) (identity.Principal, error) {
	p, err := s.deps.Profiles.Get(ctx, s.uid)
	if err != nil {
		return identity.Principal{}, err
	}
	return identity.Principal{UID: s.uid, Email: p.Email, DisplayName: p.DisplayName}, nil
}

func (s *Server) pairStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := s.deps.Profiles.Get(ctx, s.uid)
	if err != nil {
		return toolError(err), nil
	}
	pair, err := s.deps.Pairing.ActivePair(ctx, s.uid)
	if err != nil {
		return toolError(err), nil
	}
	status := map[string]any{
		"uid":          s.uid,
		"displayName":  p.DisplayName,
		"pairId":       p.PairID,
		"partnerEmail": p.PartnerEmail,
		"paired":       pair != nil,
	}
	if pair != nil {
		status["partnerId"] = pair.Partner(s.uid)
		status["since"] = pair.ReactivatedAt.Time
	}
	return jsonResult(status), nil
}

func (s *Server) listInvites(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	direction, err := req.RequireString("direction")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	invites, err := s.deps.Pairing.ListInvites(ctx, s.uid, direction, req.GetString("status", ""))
	if err != nil {
		return toolError(err), nil
	}
	type item struct {
		ID     string `json:"id"`
		From   string `json:"from"`
		To     string `json:"to"`
		Status string `json:"status"`
	}
	items := make([]item, 0, len(invites))
	for _, inv := range invites {
		items = append(items, item{ID: inv.ID, From: inv.FromEmail, To: inv.ToEmail, Status: inv.Status})
	}
	return jsonResult(items), nil
}

func (s *Server) createInvite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	email, err := req.RequireString("email")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	me, err := s.principal(ctx)
	if err != nil {
		return toolError(err), nil
	}
	inv, err := s.deps.Pairing.CreateInvite(ctx, me, email)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("invited %s: %s", inv.ToEmail, inv.ID)), nil
}

func (s *Server) acceptInvite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("invite_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pair, err := s.deps.Pairing.AcceptInvite(ctx, s.uid, id)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("paired: %s", pair.ID)), nil
}

func (s *Server) declineInvite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("invite_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.deps.Pairing.DeclineInvite(ctx, s.uid, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("declined: %s", id)), nil
}

func (s *Server) listNotes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, list, err := s.deps.Notes.List(ctx, s.uid)
	if err != nil {
		return toolError(err), nil
	}
	type item struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	items := make([]item, 0, len(list))
	for _, n := range list {
		items = append(items, item{ID: n.ID, Text: n.Text})
	}
	return jsonResult(map[string]any{"mode": scope.Mode, "notes": items}), nil
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.deps.Notes.Create(ctx, s.uid, text)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", n.ID)), nil
}

func (s *Server) reportSchedule(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cur, err := s.deps.Reports.Current(ctx, s.uid)
	if err != nil {
		return toolError(err), nil
	}
	out := map[string]any{"schedule": cur.Schedule}
	if cur.Report != nil {
		out["reportStatus"] = cur.Report.Status
		out["summary"] = cur.Report.Summary
	}
	return jsonResult(out), nil
}

func (s *Server) generateReport(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.deps.Reports.GenerateFor(ctx, s.uid)
	if err != nil {
		return toolError(err), nil
	}
	if res.Outcome == reports.Skipped {
		return mcp.NewToolResultText("skipped: the report of this window is already generated or in progress"), nil
	}
	return mcp.NewToolResultText(*res.Report.Summary), nil
}

func (s *Server) readGuideResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     PairingGuide,
		},
	}, nil
}
