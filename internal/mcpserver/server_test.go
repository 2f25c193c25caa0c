package mcpserver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/notes"
	"github.com/starford/duet/internal/pairing"
	"github.com/starford/duet/internal/profiles"
	"github.com/starford/duet/internal/reports"
	"github.com/starford/duet/internal/schedule"
	"github.com/starford/duet/internal/summarizer"
	"github.com/starford/duet/internal/testutil"
)

func testServers(t *testing.T) (alice, bob *Server, store *docstore.Store) {
	t.Helper()

	store = testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "uid-a", "alice@example.com", "Alice")
	testutil.SeedPrincipal(t, store, "uid-b", "bob@example.com", "Bob")

	policy, err := schedule.NewPolicy(time.UTC, nil)
	if err != nil {
		t.Fatal(err)
	}
	deps := Deps{
		Profiles: profiles.NewService(store),
		Pairing:  pairing.NewService(store, nil),
		Notes:    notes.NewService(store),
		Reports: reports.NewService(store, policy, summarizer.Func(func(context.Context, []models.Note) (string, error) {
			return "summary", nil
		}), nil),
	}
	return New(deps, "uid-a"), New(deps, "uid-b"), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "pair_status":
		result, err = srv.pairStatus(ctx, req)
	case "list_invites":
		result, err = srv.listInvites(ctx, req)
	case "create_invite":
		result, err = srv.createInvite(ctx, req)
	case "accept_invite":
		result, err = srv.acceptInvite(ctx, req)
	case "decline_invite":
		result, err = srv.declineInvite(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "add_note":
		result, err = srv.addNote(ctx, req)
	case "report_schedule":
		result, err = srv.reportSchedule(ctx, req)
	case "generate_report":
		result, err = srv.generateReport(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestInviteAndAccept(t *testing.T) {
	alice, bob, _ := testServers(t)

	r := callTool(t, alice, "create_invite", map[string]interface{}{"email": "bob@example.com"})
	if r.IsError {
		t.Fatalf("create_invite: %s", resultText(r))
	}
	id := strings.TrimPrefix(resultText(r), "invited bob@example.com: ")

	r = callTool(t, bob, "list_invites", map[string]interface{}{"direction": "in"})
	if !strings.Contains(resultText(r), id) {
		t.Fatalf("incoming invites = %s", resultText(r))
	}

	r = callTool(t, bob, "accept_invite", map[string]interface{}{"invite_id": id})
	if text := resultText(r); text != "paired: uid-a_uid-b" {
		t.Fatalf("accept = %q", text)
	}

	r = callTool(t, bob, "pair_status", nil)
	if text := resultText(r); !strings.Contains(text, `"paired": true`) || !strings.Contains(text, `"partnerId": "uid-a"`) {
		t.Errorf("pair_status = %s", text)
	}
}

func TestToolErrorsCarryCode(t *testing.T) {
	alice, bob, _ := testServers(t)

	r := callTool(t, alice, "create_invite", map[string]interface{}{"email": "alice@example.com"})
	if !r.IsError || !strings.HasPrefix(resultText(r), "invalid_input:") {
		t.Errorf("self invite = %q", resultText(r))
	}

	r = callTool(t, bob, "accept_invite", map[string]interface{}{"invite_id": "missing"})
	if !r.IsError || !strings.HasPrefix(resultText(r), "not_found:") {
		t.Errorf("missing invite = %q", resultText(r))
	}

	r = callTool(t, alice, "generate_report", nil)
	if !r.IsError || !strings.HasPrefix(resultText(r), "not_in_pair:") {
		t.Errorf("generate without pair = %q", resultText(r))
	}

	r = callTool(t, alice, "accept_invite", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing invite_id")
	}
}

func TestDeclineInvite(t *testing.T) {
	alice, bob, _ := testServers(t)
	r := callTool(t, alice, "create_invite", map[string]interface{}{"email": "bob@example.com"})
	id := strings.TrimPrefix(resultText(r), "invited bob@example.com: ")

	r = callTool(t, bob, "decline_invite", map[string]interface{}{"invite_id": id})
	if r.IsError {
		t.Fatalf("decline: %s", resultText(r))
	}
	r = callTool(t, bob, "decline_invite", map[string]interface{}{"invite_id": id})
	if !strings.HasPrefix(resultText(r), "already_processed:") {
		t.Errorf("second decline = %q", resultText(r))
	}
	r = callTool(t, alice, "list_invites", map[string]interface{}{"direction": "out", "status": "declined"})
	if !strings.Contains(resultText(r), id) {
		t.Errorf("declined outgoing = %s", resultText(r))
	}
}

func TestNotesAndSchedule(t *testing.T) {
	alice, _, _ := testServers(t)

	r := callTool(t, alice, "add_note", map[string]interface{}{"text": "remember the milk"})
	if r.IsError {
		t.Fatalf("add_note: %s", resultText(r))
	}
	r = callTool(t, alice, "list_notes", nil)
	if text := resultText(r); !strings.Contains(text, "remember the milk") || !strings.Contains(text, `"mode": "solo"`) {
		t.Errorf("list_notes = %s", text)
	}

	r = callTool(t, alice, "report_schedule", nil)
	if text := resultText(r); r.IsError || !strings.Contains(text, `"inPair": false`) {
		t.Errorf("report_schedule = %s", text)
	}
}

func TestGuideResource(t *testing.T) {
	alice, _, _ := testServers(t)
	contents, err := alice.readGuideResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != guideURI || !strings.Contains(tc.Text, "accept_invite") {
		t.Errorf("unexpected guide resource %+v", contents)
	}
}
