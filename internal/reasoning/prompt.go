package reasoning

import (
	"fmt"
	"strings"
	"time"

	"github.com/kairo-hq/kairo/internal/model"
)

// promptTemplate lists every field the response object must carry. Provider
// output is parsed leniently, but the model is asked for exactly this shape.
const promptTemplate = `You are the remediation advisor for an operations dashboard.
Decide whether one of the available playbooks should be executed now.

Module: %s

Current metrics (JSON):
%s

Operator context:
%s

Available playbooks:
%s

Recent decisions (newest first):
%s

Tuning: confidence threshold %.2f, aggressiveness %.2f, recent success rate %.2f.
%s

Respond with a single JSON object and nothing else:
{
  "recommendation": "Yes" or "No",
  "playbookId": id of the playbook to run, or null,
  "reason": one or two sentences,
  "confidence": number between 0 and 1,
  "urgency": "Low", "Medium", "High" or "Critical",
  "estimatedImpact": expected effect of running the playbook,
  "memoryInfluence": how the recent decisions affected this answer
}`

// BuildPrompt renders the reasoning prompt. At most model.MaxHistoryLimit
// history records are included.
func BuildPrompt(req model.DecisionRequest, tuning model.TuningConfig, history []model.DecisionRecord) string {
	metrics := "{}"
	if len(req.Metrics) > 0 {
		metrics = string(req.Metrics)
	}
	operator := strings.TrimSpace(req.Context)
	if operator == "" {
		operator = "(none)"
	}
	return fmt.Sprintf(promptTemplate,
		req.Module,
		metrics,
		operator,
		formatPlaybooks(req.AvailablePlaybooks),
		formatHistory(history),
		tuning.ConfidenceThreshold, tuning.Aggressiveness, tuning.SuccessRate,
		tuning.Guidance(),
	)
}

func formatPlaybooks(playbooks []model.Playbook) string {
	if len(playbooks) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, p := range playbooks {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", p.ID, p.Title)
	}
	return b.String()
}

// formatHistory summarizes records one per line.
func formatHistory(history []model.DecisionRecord) string {
	if len(history) > model.MaxHistoryLimit {
		history = history[:model.MaxHistoryLimit]
	}
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, r := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		playbook := "-"
		if r.PlaybookID != nil {
			playbook = *r.PlaybookID
		}
		fmt.Fprintf(&b, "- %s %s playbook=%s confidence=%.2f outcome=%s",
			r.Timestamp.UTC().Format(time.RFC3339), r.ActionType, playbook, r.Confidence, r.Outcome)
		if r.Impact != nil && *r.Impact != "" {
			fmt.Fprintf(&b, " impact=%q", truncate(*r.Impact, 120))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
