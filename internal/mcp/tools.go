package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/kairo-hq/kairo/internal/integrity"
	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/orchestrator"
	"github.com/kairo-hq/kairo/internal/storage"
	"github.com/kairo-hq/kairo/internal/tuner"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("kairo_decide",
			mcplib.WithDescription(`Ask for a gated playbook recommendation for an operational situation.

WHEN TO USE: When a module is misbehaving and you are considering running
one of its remediation playbooks.

WHAT YOU GET BACK:
- recommendation: "Yes" or "No"
- playbook_id: the playbook to run, if any
- confidence: the reasoning provider's confidence (0.0-1.0)
- should_execute: whether the confidence gate allows running it unattended
- applied_threshold: the gate threshold that was used
- decision_id: quote this when you report the outcome with kairo_record_outcome

mode="auto" gates at 0.85, mode="manual" (the default) at 0.95.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("module",
				mcplib.Description("The module or service the situation concerns"),
				mcplib.Required(),
			),
			mcplib.WithString("context",
				mcplib.Description("Free-text description of what is happening"),
			),
			mcplib.WithString("metrics",
				mcplib.Description("Optional JSON object of current metric readings, e.g. {\"error_rate\":0.12}"),
			),
			mcplib.WithArray("available_playbooks",
				mcplib.Description("Playbooks that may be recommended"),
				mcplib.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":    map[string]any{"type": "string"},
						"title": map[string]any{"type": "string"},
					},
					"required": []string{"id"},
				}),
			),
			mcplib.WithString("mode",
				mcplib.Description("Gate strictness"),
				mcplib.Enum(string(model.ModeAuto), string(model.ModeManual)),
				mcplib.DefaultString(string(model.ModeManual)),
			),
		),
		s.handleDecide,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("kairo_record_outcome",
			mcplib.WithDescription(`Report what happened after a recommendation was acted on (or not).

The outcome is appended as a new audit record linked to the decision; the
original decision is never modified. Outcomes feed the self-tuner.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("parent_id",
				mcplib.Description("decision_id returned by kairo_decide"),
				mcplib.Required(),
			),
			mcplib.WithString("outcome",
				mcplib.Description("What happened to the recommendation"),
				mcplib.Required(),
				mcplib.Enum(string(model.OutcomeExecuted), string(model.OutcomeRejected), string(model.OutcomeFailed)),
			),
			mcplib.WithString("impact",
				mcplib.Description("Observed effect, e.g. \"latency back to baseline\""),
			),
			mcplib.WithString("actor",
				mcplib.Description("Who is reporting the outcome"),
				mcplib.Required(),
			),
		),
		s.handleRecordOutcome,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("kairo_recent_decisions",
			mcplib.WithDescription("List the most recent audit records, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum records to return"),
				mcplib.Min(1),
				mcplib.Max(storage.MaxListLimit),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleRecent,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("kairo_retune",
			mcplib.WithDescription("Recompute the tuning config from recent outcomes and return it."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleRetune,
	)
}

func (s *Server) handleDecide(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.DecisionRequest{
		Module:  request.GetString("module", ""),
		Context: request.GetString("context", ""),
		Mode:    model.Mode(request.GetString("mode", "")),
	}
	if req.Module == "" {
		return errorResult("module is required"), nil
	}
	if m := request.GetString("metrics", ""); m != "" {
		req.Metrics = json.RawMessage(m)
	}
	playbooks, err := decodePlaybooks(request.GetArguments()["available_playbooks"])
	if err != nil {
		return errorResult(err.Error()), nil
	}
	req.AvailablePlaybooks = playbooks

	decision, err := s.decider.Decide(ctx, req)
	if err != nil {
		var oe *orchestrator.Error
		if errors.As(err, &oe) && oe.Kind == orchestrator.KindInvalidInput {
			return errorResult("invalid input: " + oe.Err.Error()), nil
		}
		s.logger.Error("mcp: decide failed", "error", err)
		return errorResult(fmt.Sprintf("decide failed (%s)", orchestrator.KindOf(err))), nil
	}
	return jsonResult(decision), nil
}

// decodePlaybooks accepts the tool argument as the generic JSON value the
// transport produced.
func decodePlaybooks(raw any) ([]model.Playbook, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("available_playbooks: %w", err)
	}
	var out []model.Playbook
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("available_playbooks must be a list of {id, title} objects")
	}
	return out, nil
}

func (s *Server) handleRecordOutcome(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.RecordOutcomeRequest{
		ParentID: request.GetString("parent_id", ""),
		Outcome:  model.Outcome(request.GetString("outcome", "")),
		Actor:    request.GetString("actor", ""),
	}
	if impact := request.GetString("impact", ""); impact != "" {
		req.Impact = &impact
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	rec := req.Record(s.now())
	id, err := s.store.Append(ctx, rec)
	if err != nil {
		s.logger.Error("mcp: record outcome failed", "parent_id", req.ParentID, "error", err)
		return errorResult("outcome could not be recorded"), nil
	}
	rec.ID = id
	return jsonResult(model.RecordOutcomeResponse{ID: id, Record: rec}), nil
}

func (s *Server) handleRecent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	if limit <= 0 {
		return errorResult("limit must be positive"), nil
	}
	records, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		s.logger.Error("mcp: list recent failed", "error", err)
		return errorResult("audit history unavailable"), nil
	}
	if records == nil {
		records = []model.DecisionRecord{}
	}
	return jsonResult(model.RecentDecisionsResponse{
		Records: records,
		Count:   len(records),
		Digest:  integrity.Digest(records),
	}), nil
}

func (s *Server) handleRetune(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	cfg, err := s.retuner.Retune(ctx)
	switch {
	case err == nil:
		return jsonResult(cfg), nil
	case errors.Is(err, tuner.ErrRetuneInProgress):
		return errorResult("a retune is already running"), nil
	default:
		return errorResult("retune failed: " + err.Error()), nil
	}
}
