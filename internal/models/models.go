// Package models holds the entities in §3 of the data model: the
// relational rows (User, Campaign, Lead, LinkedInAccount, Message,
// WorkflowJob) and the cache-shape structs layered on top of the lead
// snapshot stored at campaign:{id}:leads.
package models

import "time"

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	GoogleID    string    `json:"googleId,omitempty"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CampaignStatus string

const (
	CampaignStatusDraft  CampaignStatus = "draft"
	CampaignStatusActive CampaignStatus = "active"
)

type Campaign struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      CampaignStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type ScrapingStatus string

const (
	ScrapingStatusPending    ScrapingStatus = "pending"
	ScrapingStatusProcessing ScrapingStatus = "processing"
	ScrapingStatusCompleted  ScrapingStatus = "completed"
	ScrapingStatusError      ScrapingStatus = "error"
)

type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusSent     InviteStatus = "sent"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusRejected InviteStatus = "rejected"
	InviteStatusFailed   InviteStatus = "failed"
)

// Lead is keyed by (user, campaign, url) within a campaign; the same url
// may recur across campaigns of the same user, which is the premise of
// C2's global fan-out by URL.
type Lead struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	CampaignID     string         `json:"campaignId"`
	URL            string         `json:"url"`
	Name           string         `json:"name,omitempty"`
	Title          string         `json:"title,omitempty"`
	Company        string         `json:"company,omitempty"`
	Location       string         `json:"location,omitempty"`
	ProfilePicture string         `json:"profilePicture,omitempty"`
	ScrapingStatus ScrapingStatus `json:"scrapingStatus"`

	InviteSent            bool         `json:"inviteSent"`
	InviteStatus          InviteStatus `json:"inviteStatus"`
	InviteSentAt          *time.Time   `json:"inviteSentAt,omitempty"`
	InviteAcceptedAt      *time.Time   `json:"inviteAcceptedAt,omitempty"`
	InviteRetryCount      int          `json:"inviteRetryCount"`
	LastConnectionCheckAt *time.Time   `json:"lastConnectionCheckAt,omitempty"`

	MessageSent   bool       `json:"messageSent"`
	MessageSentAt *time.Time `json:"messageSentAt,omitempty"`
	MessageError  string     `json:"messageError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Eligible reports whether the lead qualifies for fetchEligibleLeads: a
// URL is present, the invite hasn't been sent, and the status is still
// pending, failed, or unset. scrapingStatus is deliberately not consulted
// here — see SPEC_FULL.md (Open Question decisions) for the decoupling
// rationale.
func (l *Lead) Eligible() bool {
	if l.URL == "" || l.InviteSent {
		return false
	}
	switch l.InviteStatus {
	case InviteStatusPending, InviteStatusFailed, "":
		return true
	default:
		return false
	}
}

// SessionCookie mirrors one entry of the persisted session bundle's
// cookie jar (§6).
type SessionCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly"`
	Secure   bool   `json:"secure"`
	SameSite string `json:"sameSite,omitempty"`
}

// SessionBundle is the persisted cookie + storage snapshot that lets the
// browser resume an authenticated LinkedIn session without re-login.
type SessionBundle struct {
	SessionID      string            `json:"sessionId"`
	Email          string            `json:"email"`
	UserName       string            `json:"userName,omitempty"`
	ProfileImageURL string           `json:"profileImageUrl,omitempty"`
	UserAgent      string            `json:"userAgent,omitempty"`
	Cookies        []SessionCookie   `json:"cookies"`
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage"`
	IsActive       bool              `json:"isActive"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastUsed       time.Time         `json:"lastUsed"`
}

// RateLimitKind enumerates C1's three independent quota counters.
type RateLimitKind string

const (
	RateLimitInvite           RateLimitKind = "invite"
	RateLimitConnectionCheck  RateLimitKind = "connection_check"
	RateLimitMessage          RateLimitKind = "message"
)

// LinkedInAccount holds one user's authenticated session and daily quota
// state. Invariant: at most one account per user has IsActive = true.
type LinkedInAccount struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	Session SessionBundle `json:"session"`

	DailyInvitesSent      int `json:"dailyInvitesSent"`
	DailyConnectionChecks int `json:"dailyConnectionChecks"`
	DailyMessagesSent     int `json:"dailyMessagesSent"`

	DailyInviteLimit          int `json:"dailyInviteLimit"`
	DailyConnectionCheckLimit int `json:"dailyConnectionCheckLimit"`
	DailyMessageLimit         int `json:"dailyMessageLimit"`

	InviteLastReset          time.Time `json:"inviteLastReset"`
	ConnectionCheckLastReset time.Time `json:"connectionCheckLastReset"`
	MessageLastReset         time.Time `json:"messageLastReset"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Used returns the account's current counter for kind.
func (a *LinkedInAccount) Used(kind RateLimitKind) int {
	switch kind {
	case RateLimitInvite:
		return a.DailyInvitesSent
	case RateLimitConnectionCheck:
		return a.DailyConnectionChecks
	case RateLimitMessage:
		return a.DailyMessagesSent
	default:
		return 0
	}
}

// Limit returns the account's configured or default limit for kind.
func (a *LinkedInAccount) Limit(kind RateLimitKind, defaults WorkflowLimits) int {
	switch kind {
	case RateLimitInvite:
		if a.DailyInviteLimit > 0 {
			return a.DailyInviteLimit
		}
		return defaults.Invite
	case RateLimitConnectionCheck:
		if a.DailyConnectionCheckLimit > 0 {
			return a.DailyConnectionCheckLimit
		}
		return defaults.ConnectionCheck
	case RateLimitMessage:
		if a.DailyMessageLimit > 0 {
			return a.DailyMessageLimit
		}
		return defaults.Message
	default:
		return 0
	}
}

// LastReset returns the account's last-reset timestamp for kind.
func (a *LinkedInAccount) LastReset(kind RateLimitKind) time.Time {
	switch kind {
	case RateLimitInvite:
		return a.InviteLastReset
	case RateLimitConnectionCheck:
		return a.ConnectionCheckLastReset
	case RateLimitMessage:
		return a.MessageLastReset
	default:
		return time.Time{}
	}
}

// WorkflowLimits carries the fallback daily limits (defaults: invites 30,
// checks 3, messages 10) used when an account row stores no override.
type WorkflowLimits struct {
	Invite          int
	ConnectionCheck int
	Message         int
}

type MessageStatus string

const (
	MessageStatusDraft     MessageStatus = "draft"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusScheduled MessageStatus = "scheduled"
)

type Message struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	LeadID     string        `json:"leadId"`
	CampaignID string        `json:"campaignId"`
	Content    string        `json:"content"`
	ModelID    string        `json:"modelId,omitempty"`
	Prompt     string        `json:"prompt,omitempty"`
	Status     MessageStatus `json:"status"`
	SentAt     *time.Time    `json:"sentAt,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

type WorkflowJobStatus string

const (
	WorkflowJobQueued     WorkflowJobStatus = "queued"
	WorkflowJobProcessing WorkflowJobStatus = "processing"
	WorkflowJobPaused     WorkflowJobStatus = "paused"
	WorkflowJobCancelled  WorkflowJobStatus = "cancelled"
	WorkflowJobCompleted  WorkflowJobStatus = "completed"
	WorkflowJobFailed     WorkflowJobStatus = "failed"
)

func (s WorkflowJobStatus) Terminal() bool {
	switch s {
	case WorkflowJobCompleted, WorkflowJobFailed, WorkflowJobCancelled:
		return true
	default:
		return false
	}
}

// WorkflowResults is the aggregate count block written to the job row and
// published in the terminal status event.
type WorkflowResults struct {
	Total            int                 `json:"total"`
	Sent             int                 `json:"sent"`
	AlreadyConnected int                 `json:"alreadyConnected"`
	AlreadyPending   int                 `json:"alreadyPending"`
	Failed           int                 `json:"failed"`
	Skipped          bool                `json:"skipped,omitempty"`
	SkipReason       string              `json:"skipReason,omitempty"`
	Errors           []WorkflowLeadError `json:"errors,omitempty"`
}

type WorkflowLeadError struct {
	LeadID string `json:"leadId"`
	Name   string `json:"name,omitempty"`
	Error  string `json:"error"`
}

type WorkflowJob struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	CampaignID        string            `json:"campaignId"`
	LinkedInAccountID string            `json:"linkedinAccountId"`
	CustomMessage     string            `json:"customMessage,omitempty"`
	Status            WorkflowJobStatus `json:"status"`
	TotalLeads        int               `json:"totalLeads"`
	ProcessedLeads    int               `json:"processedLeads"`
	Progress          int               `json:"progress"`
	Results           WorkflowResults   `json:"results"`
	ErrorMessage      string            `json:"errorMessage,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	StartedAt         *time.Time        `json:"startedAt,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
}
