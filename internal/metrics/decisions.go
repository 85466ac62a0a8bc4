package metrics

import (
	"strconv"

	"github.com/DukeRupert/sitegate/internal/domain"
)

// DecisionRecorded counts an access decision.
func DecisionRecorded(d domain.AccessDecision) {
	reason := string(d.Reason)
	if reason == "" {
		reason = "none"
	}
	AccessDecisionsTotal.WithLabelValues(strconv.FormatBool(d.Allowed), reason).Inc()
	if d.Reason == domain.ReasonFallback {
		AccessFallbacksTotal.Inc()
	}
}

// PromptEvaluated counts a prompt evaluation result.
func PromptEvaluated(trigger domain.TriggerType, r domain.PromptResult) {
	t := string(trigger)
	if t == "" {
		t = "none"
	}
	if r.Show && r.Prompt != nil {
		PromptsShownTotal.WithLabelValues(t, r.Prompt.VariantID).Inc()
		return
	}
	PromptsSuppressedTotal.WithLabelValues(t, string(r.SuppressReason)).Inc()
}
