package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// incident-triage walks an agent through decide, act, report.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("incident-triage",
			mcplib.WithPromptDescription("Get a gated remediation recommendation for a module and report what happened"),
			mcplib.WithArgument("module",
				mcplib.ArgumentDescription("The module or service that is misbehaving"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("mode",
				mcplib.ArgumentDescription("auto or manual (default manual)"),
			),
		),
		s.handleIncidentTriagePrompt,
	)
}

func (s *Server) handleIncidentTriagePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	module := request.Params.Arguments["module"]
	if module == "" {
		return nil, fmt.Errorf("module argument is required")
	}
	mode := request.Params.Arguments["mode"]
	if mode == "" {
		mode = "manual"
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Triage an incident in %s", module),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Triage the current incident in module %q.

1. GATHER the current metrics and a short description of the symptoms, and
   list the remediation playbooks available for %[1]q.

2. CALL kairo_decide with module=%[1]q, mode=%[2]q, the metrics as a JSON
   string, the symptoms as context, and the playbooks.

3. ACT on the response:
   - should_execute=true: run the recommended playbook.
   - should_execute=false: do not run anything unattended. Present the
     recommendation, confidence and applied_threshold to a human.

4. REPORT with kairo_record_outcome using parent_id=<decision_id> and
   outcome executed, rejected or failed, plus the observed impact.`, module, mode),
				},
			},
		},
	}, nil
}
