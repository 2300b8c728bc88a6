package assistant

import (
	"encoding/json"

	"github.com/littlehelper/littlehelper/internal/provider"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// Tools describes the skills usable in mode as provider tools. Skills
// without a schema and disabled skills are left out.
func Tools(reg *skill.Registry, mode skill.Mode) []provider.Tool {
	var out []provider.Tool
	for _, s := range reg.ForMode(mode) {
		sch, ok := s.(skill.Schemer)
		if !ok {
			continue
		}
		if p, err := reg.Permission(s.ID()); err != nil || p == skill.Disabled {
			continue
		}
		schema, err := json.Marshal(sch.Schema())
		if err != nil {
			continue
		}
		out = append(out, provider.Tool{Name: s.ID(), Description: s.Description(), InputSchema: schema})
	}
	return out
}

// inputFor turns tool arguments into a skill input.
func inputFor(raw json.RawMessage, conversation []string) (skill.Input, error) {
	in := skill.Input{Conversation: conversation}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &in.Params); err != nil {
			return in, err
		}
	}
	in.Query = in.StringParam("query")
	return in, nil
}
