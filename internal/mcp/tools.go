package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// maxText caps the text of one tool result.
const maxText = 20000

// tools lists the skills usable in the session's mode that carry a schema.
// Disabled skills are hidden.
func (s *Server) tools() []Tool {
	reg := s.runtime.Registry()
	tools := []Tool{}
	for _, sk := range reg.ForMode(s.sc.Mode) {
		sch, ok := sk.(skill.Schemer)
		if !ok {
			continue
		}
		if p, err := reg.Permission(sk.ID()); err != nil || p == skill.Disabled {
			continue
		}
		desc := sk.Description()
		if sk.PermissionLevel() == skill.Sensitive && !s.sc.IsApproved(sk.ID()) {
			p, _ := reg.Permission(sk.ID())
			if p == skill.Ask {
				desc += " (needs approval: start the server with --approve " + sk.ID() + ")"
			}
		}
		tools = append(tools, Tool{Name: sk.ID(), Description: desc, InputSchema: inputSchema(sch.Schema())})
	}
	return tools
}

func inputSchema(sch skill.Schema) InputSchema {
	out := InputSchema{Type: sch.Type, Required: sch.Required, Properties: map[string]Property{}}
	if out.Type == "" {
		out.Type = "object"
	}
	for name, p := range sch.Properties {
		prop := Property{Type: p.Type, Description: p.Description, Enum: p.Enum}
		if p.Items != nil {
			prop.Items = &Items{Type: p.Items.Type}
		}
		out.Properties[name] = prop
	}
	return out
}

func (s *Server) call(ctx context.Context, params ToolCallParams) ToolResult {
	in := skill.Input{}
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &in.Params); err != nil {
			return errorResult("arguments must be a JSON object")
		}
	}
	in.Query = in.StringParam("query")

	exec := s.runtime.Invoke(ctx, params.Name, in, s.sc)
	s.log.Debug("mcp tool call", "skill", params.Name, "status", exec.Status, "duration_ms", exec.DurationMS)
	if !exec.Succeeded() {
		if exec.Status == skill.StatusTimeout {
			return errorResult(fmt.Sprintf("%s timed out after %dms", params.Name, exec.DurationMS))
		}
		return errorResult(fmt.Sprintf("%s failed (%s): %s", params.Name, exec.ErrorCategory, fault.Friendly(exec.Err())))
	}
	return outputResult(exec.Output)
}

// outputResult renders a skill output as text blocks: the summary first,
// then the structured data when there is any.
func outputResult(out *skill.Output) ToolResult {
	if out == nil {
		return textResult("Done.")
	}
	res := textResult(truncate(out.Summary(), maxText))
	if len(out.Data) > 0 && out.Text != "" {
		data := jsonResult(out.Data)
		data.Content[0].Text = truncate(data.Content[0].Text, maxText)
		res.Content = append(res.Content, data.Content...)
	}
	if strings.TrimSpace(res.Content[0].Text) == "" {
		res.Content[0].Text = "Done."
	}
	return res
}

// Helpers

func textResult(text string) ToolResult {
	return ToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(msg string) ToolResult {
	return ToolResult{
		Content: []ContentBlock{{Type: "text", Text: msg}},
		IsError: true,
	}
}

func jsonResult(v interface{}) ToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return textResult(string(data))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
