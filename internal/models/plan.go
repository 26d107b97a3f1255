package models

// AICounselorID is the sentinel counselor id used wherever a session is
// handled by the automated agent instead of a human counselor.
const AICounselorID = "AI_AGENT_GEMINI"

// PlanType separates human counseling plans from automated-agent plans.
type PlanType string

const (
	PlanHuman PlanType = "HUMAN"
	PlanAI    PlanType = "AI"
)

// PricingPlan is a priced, time-boxed session offering.
type PricingPlan struct {
	ID              string   `json:"id"`
	DurationMinutes int      `json:"durationMinutes"`
	Cost            int      `json:"cost"`
	Label           string   `json:"label"`
	Description     string   `json:"description"`
	Type            PlanType `json:"type"`
}

// PricingPlans is the static plan catalog shown during session creation.
var PricingPlans = []PricingPlan{
	{ID: "p_10", Label: "Quick Vent", Cost: 0, DurationMinutes: 10, Description: "A quick 10-minute session to let off steam.", Type: PlanHuman},
	{ID: "p_ai_free", Label: "AI Quick Chat", Cost: 0, DurationMinutes: 5, Description: "Try our AI Counselor for free (5 mins).", Type: PlanAI},
	{ID: "p_15", Label: "Short Talk", Cost: 1, DurationMinutes: 15, Description: "15 minutes of dedicated listening.", Type: PlanHuman},
	{ID: "p_ai_30", Label: "AI Companion", Cost: 5, DurationMinutes: 30, Description: "Instant support from our AI Counselor.", Type: PlanAI},
	{ID: "p_30", Label: "Deep Dive", Cost: 5, DurationMinutes: 30, Description: "30 minutes to explore your thoughts.", Type: PlanHuman},
	{ID: "p_60", Label: "Full Session", Cost: 10, DurationMinutes: 60, Description: "An hour of complete focus on you.", Type: PlanHuman},
	{ID: "p_unlimited", Label: "Monthly Pass", Cost: 100, DurationMinutes: 9999, Description: "Unlimited sessions for a whole month.", Type: PlanHuman},
}

// PlanByID looks up a plan from the catalog.
func PlanByID(id string) (PricingPlan, bool) {
	for _, plan := range PricingPlans {
		if plan.ID == id {
			return plan, true
		}
	}
	return PricingPlan{}, false
}
