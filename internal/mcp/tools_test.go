package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/skill"
)

type greetSkill struct {
	level skill.PermissionLevel
	ran   int
}

func (g *greetSkill) ID() string {
	if g.level == skill.Sensitive {
		return "greet_loud"
	}
	return "greet"
}
func (g *greetSkill) Name() string                           { return "Greet" }
func (g *greetSkill) Description() string                    { return "Says hello" }
func (g *greetSkill) PermissionLevel() skill.PermissionLevel { return g.level }
func (g *greetSkill) Modes() []skill.Mode                    { return nil }
func (g *greetSkill) Schema() skill.Schema {
	return skill.Schema{
		Type:       "object",
		Properties: map[string]skill.Property{"name": {Type: "string", Description: "Who to greet"}, "tags": {Type: "array", Items: &skill.Items{Type: "string"}}},
		Required:   []string{"name"},
	}
}

func (g *greetSkill) Validate(in skill.Input) error {
	if in.StringParam("name") == "" {
		return fmt.Errorf("name is required: %w", fault.ErrInvalidInput)
	}
	return nil
}

func (g *greetSkill) Execute(ctx context.Context, in skill.Input, sc *skill.Context) (*skill.Output, error) {
	g.ran++
	return skill.DataOutput("Hello, "+in.StringParam("name"), map[string]int{"count": g.ran})
}

func setupTestServer(t *testing.T, approved ...string) (*Server, *greetSkill, *greetSkill) {
	t.Helper()
	reg := skill.NewRegistry(nil)
	safe := &greetSkill{level: skill.Safe}
	loud := &greetSkill{level: skill.Sensitive}
	for _, s := range []skill.Skill{safe, loud} {
		if err := reg.Register(s); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	sc := skill.NewContext(skill.ModeFind, t.TempDir(), t.TempDir())
	for _, id := range approved {
		sc.Approvals.Approve(id)
	}
	rt := skill.NewRuntime(reg, nil, skill.RuntimeConfig{})
	return NewServerIO(rt, sc, strings.NewReader(""), &bytes.Buffer{}), safe, loud
}

// roundTrip feeds lines to a fresh server and returns the decoded responses.
func roundTrip(t *testing.T, s *Server, lines ...string) []Response {
	t.Helper()
	var out bytes.Buffer
	s.reader = bufio.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	s.writer = &out
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	var resps []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var r Response
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("bad response %q: %v", line, err)
		}
		resps = append(resps, r)
	}
	return resps
}

func toolResult(t *testing.T, r Response) ToolResult {
	t.Helper()
	if r.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", r.Error)
	}
	b, _ := json.Marshal(r.Result)
	var res ToolResult
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	return res
}

func TestInitializeAndPing(t *testing.T) {
	server, _, _ := setupTestServer(t)
	resps := roundTrip(t, server,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
	b, _ := json.Marshal(resps[0].Result)
	if !strings.Contains(string(b), `"name":"littlehelper"`) {
		t.Errorf("unexpected initialize result: %s", b)
	}
}

func TestParseAndMethodErrors(t *testing.T) {
	server, _, _ := setupTestServer(t)
	resps := roundTrip(t, server,
		`{not json`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{}}`,
	)
	if len(resps) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(resps))
	}
	for i, code := range []int{-32700, -32601, -32602} {
		if resps[i].Error == nil || resps[i].Error.Code != code {
			t.Errorf("response %d: expected error %d, got %+v", i, code, resps[i].Error)
		}
	}
}

func TestToolsList(t *testing.T) {
	server, _, _ := setupTestServer(t)
	tools := server.tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "greet" || tools[1].Name != "greet_loud" {
		t.Errorf("unexpected tool order: %s, %s", tools[0].Name, tools[1].Name)
	}
	if tools[0].InputSchema.Properties["tags"].Items == nil {
		t.Error("expected array items to be kept")
	}
	if !strings.Contains(tools[1].Description, "--approve greet_loud") {
		t.Errorf("expected approval hint, got %q", tools[1].Description)
	}

	if err := server.runtime.Registry().SetPermission("greet", skill.Disabled); err != nil {
		t.Fatal(err)
	}
	if tools := server.tools(); len(tools) != 1 {
		t.Errorf("disabled skill should be hidden, got %d tools", len(tools))
	}
}

func TestToolCall_Safe(t *testing.T) {
	server, safe, _ := setupTestServer(t)
	resps := roundTrip(t, server, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"greet","arguments":{"name":"Ada"}}}`)
	res := toolResult(t, resps[0])
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content[0].Text)
	}
	if res.Content[0].Text != "Hello, Ada" {
		t.Errorf("unexpected text: %q", res.Content[0].Text)
	}
	if len(res.Content) != 2 || !strings.Contains(res.Content[1].Text, `"count": 1`) {
		t.Errorf("expected data block, got %+v", res.Content)
	}
	if safe.ran != 1 {
		t.Errorf("expected one run, got %d", safe.ran)
	}
}

func TestToolCall_InvalidInput(t *testing.T) {
	server, safe, _ := setupTestServer(t)
	res := server.call(context.Background(), ToolCallParams{Name: "greet", Arguments: json.RawMessage(`{}`)})
	if !res.IsError || !strings.Contains(res.Content[0].Text, "invalid_input") {
		t.Errorf("expected invalid input error, got %+v", res)
	}
	res = server.call(context.Background(), ToolCallParams{Name: "greet", Arguments: json.RawMessage(`[1]`)})
	if !res.IsError {
		t.Error("expected error for non-object arguments")
	}
	if safe.ran != 0 {
		t.Error("skill should not have run")
	}
}

func TestToolCall_SensitiveNeedsApproval(t *testing.T) {
	server, _, loud := setupTestServer(t)
	res := server.call(context.Background(), ToolCallParams{Name: "greet_loud", Arguments: json.RawMessage(`{"name":"Bo"}`)})
	if !res.IsError || !strings.Contains(res.Content[0].Text, "permission_denied") {
		t.Errorf("expected permission error, got %+v", res)
	}
	if loud.ran != 0 {
		t.Error("sensitive skill ran without approval")
	}

	server, _, loud = setupTestServer(t, "greet_loud")
	res = server.call(context.Background(), ToolCallParams{Name: "greet_loud", Arguments: json.RawMessage(`{"name":"Bo"}`)})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content[0].Text)
	}
	if loud.ran != 1 {
		t.Errorf("expected one run, got %d", loud.ran)
	}
}

func TestToolCall_Unknown(t *testing.T) {
	server, _, _ := setupTestServer(t)
	res := server.call(context.Background(), ToolCallParams{Name: "nope"})
	if !res.IsError || !strings.Contains(res.Content[0].Text, "not_found") {
		t.Errorf("expected not found, got %+v", res)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a longer string", 10, "this is..."},
		{"abc", 10, "abc"},
		{"longer text here", 10, "longer ..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}
