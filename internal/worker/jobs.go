package worker

import (
	"fmt"
	"time"
)

// Job types routed through the queue. Each type has its own delayed set,
// ready list, and consumer pool.
const (
	JobTypeCampaignStart   = "campaign.start"
	JobTypeMessageDispatch = "campaign.dispatch"
	JobTypeSequenceStep    = "sequence.step"
)

// StartCampaignPayload asks the dispatcher to fan a pending campaign out
// into per-contact dispatch jobs.
type StartCampaignPayload struct {
	CampaignID  string `json:"campaign_id"`
	WorkspaceID string `json:"workspace_id"`
}

// DispatchPayload delivers one already-scheduled campaign message. The
// message row exists (status pending) before this job is enqueued.
type DispatchPayload struct {
	CampaignID  string    `json:"campaign_id"`
	ContactID   string    `json:"contact_id"`
	MessageID   string    `json:"message_id"`
	WorkspaceID string    `json:"workspace_id"`
	SendAt      time.Time `json:"send_at"`
}

// StepPayload executes one sequence rule for one follow-up. RuleID pins the
// job to the rule it was scheduled for, so a redelivered job can detect that
// its step already ran.
type StepPayload struct {
	FollowUpID  string `json:"follow_up_id"`
	RuleID      string `json:"rule_id"`
	WorkspaceID string `json:"workspace_id"`
}

// StartCampaignKey dedupes start requests for one campaign.
func StartCampaignKey(campaignID string) string {
	return fmt.Sprintf("campaign:%s:start", campaignID)
}

// DispatchKey dedupes the dispatch job for one contact of one campaign.
func DispatchKey(campaignID, contactID string) string {
	return fmt.Sprintf("campaign:%s:contact:%s", campaignID, contactID)
}

// StepKey dedupes one (follow-up, rule) step execution.
func StepKey(followUpID, ruleID string) string {
	return fmt.Sprintf("followup:%s:rule:%s", followUpID, ruleID)
}
