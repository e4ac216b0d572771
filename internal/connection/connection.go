// Package connection implements C6, the connection checker: it scrapes
// the connections page for newly accepted invites, promotes matching
// leads across every campaign that shares their URL, and triggers
// follow-up messages within quota.
package connection

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"outreach-engine/internal/browserctl"
	"outreach-engine/internal/leadstate"
	"outreach-engine/internal/logger"
	"outreach-engine/internal/message"
	"outreach-engine/internal/metrics"
	"outreach-engine/internal/models"
	"outreach-engine/internal/ratelimit"
	"outreach-engine/internal/repository"
	"outreach-engine/internal/session"
)

const connectionsURL = "https://www.linkedin.com/mynetwork/invite-connect/connections/"

const (
	maxScrolls          = 20
	maxConsecutiveStale = 3
	minCollectedFallback = 100
	scrollSleepMin       = 2
	scrollSleepMax       = 5
	messageDelayMin      = 30
	messageDelayMax      = 90
)

var profileHref = regexp.MustCompile(`linkedin\.com/in/([^/?]+)`)

// Result is the outcome of one checkAcceptances run.
type Result struct {
	Matched      int
	Updated      int
	Total        int
	MessagesSent int
	MatchedLeads []*models.Lead
}

type Checker struct {
	leads       *repository.LeadRepository
	messages    *repository.MessageRepository
	leadState   *leadstate.Manager
	rateLimit   *ratelimit.Manager
	log         logger.Logger
	profileRoot string
	headless    bool
}

func NewChecker(
	leads *repository.LeadRepository,
	messages *repository.MessageRepository,
	leadState *leadstate.Manager,
	rateLimit *ratelimit.Manager,
	log logger.Logger,
	profileRoot string,
	headless bool,
) *Checker {
	return &Checker{
		leads: leads, messages: messages, leadState: leadState, rateLimit: rateLimit,
		log: log, profileRoot: profileRoot, headless: headless,
	}
}

// CheckAcceptances runs the full C6 protocol for one account/user pair,
// closing the browser in a guaranteed-release block.
func (c *Checker) CheckAcceptances(ctx context.Context, account *models.LinkedInAccount, userID string) (Result, error) {
	validated, err := session.Validate(
		session.ProfileDir(c.profileRoot, account.ID), c.headless, account.Session, true,
	)
	if err != nil {
		return Result{}, err
	}
	if !validated.IsValid || validated.Session == nil {
		return Result{}, fmt.Errorf("session validation failed: %s", validated.Reason)
	}
	defer session.Cleanup(validated.Session)
	metrics.ConnectionChecksPerformed.WithLabelValues(account.ID).Inc()

	sentLeads, err := c.leads.ListByUserAndInviteStatus(ctx, userID, models.InviteStatusSent)
	if err != nil {
		return Result{}, err
	}
	result := Result{Total: len(sentLeads)}
	if len(sentLeads) == 0 {
		return result, nil
	}

	usernames, err := collectConnectionUsernames(validated.Session.Page, len(sentLeads))
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	matchedLeads := matchLeads(sentLeads, usernames)
	result.Matched = len(matchedLeads)

	for _, lead := range matchedLeads {
		updated, err := c.leadState.UpdateLeadConnectionAccepted(ctx, lead.URL, now)
		if err != nil {
			c.log.WithError(err).Warn("fan-out connection-accepted failed", map[string]interface{}{"leadId": lead.ID})
			continue
		}
		result.Updated += int(updated)
	}

	result.MessagesSent = c.sendFollowUps(ctx, account, validated.Session.Page, matchedLeads)
	result.MatchedLeads = matchedLeads

	for _, lead := range sentLeads {
		if err := c.leads.TouchConnectionCheck(ctx, lead.ID, now); err != nil {
			c.log.WithError(err).Warn("touch connection check failed", map[string]interface{}{"leadId": lead.ID})
		}
	}

	return result, nil
}

func (c *Checker) sendFollowUps(ctx context.Context, account *models.LinkedInAccount, page *rod.Page, matchedLeads []*models.Lead) int {
	sentCount := 0
	for i, lead := range matchedLeads {
		if lead.MessageSent {
			continue
		}
		msgRow, err := c.messages.GetByLeadID(ctx, lead.ID)
		if err != nil || msgRow == nil {
			continue
		}

		check, err := c.rateLimit.Check(ctx, account.ID, models.RateLimitMessage)
		if err != nil || !check.CanProceed {
			break
		}

		res := message.SendMessage(page, lead.URL, msgRow.Content, lead.Name)
		now := time.Now().UTC()
		if res.Success {
			if _, err := c.leadState.UpdateLeadMessageSent(ctx, lead.URL, now); err != nil {
				c.log.WithError(err).Warn("update message sent failed", map[string]interface{}{"leadId": lead.ID})
			}
			if err := c.messages.MarkSent(ctx, msgRow.ID, now); err != nil {
				c.log.WithError(err).Warn("mark message row sent failed", map[string]interface{}{"messageId": msgRow.ID})
			}
			if err := c.rateLimit.Increment(ctx, account.ID, models.RateLimitMessage, 1); err != nil {
				c.log.WithError(err).Warn("increment message quota failed", nil)
			}
			metrics.MessagesSent.WithLabelValues(account.ID).Inc()
			sentCount++
		} else {
			if _, err := c.leadState.UpdateLeadMessageError(ctx, lead.URL, res.Error); err != nil {
				c.log.WithError(err).Warn("update message error failed", map[string]interface{}{"leadId": lead.ID})
			}
		}

		if i < len(matchedLeads)-1 {
			message.RandomDelay(messageDelayMin, messageDelayMax)
		}
	}
	return sentCount
}

// collectConnectionUsernames scroll-loops the connections page until the
// collected URL set reaches max(3*sentCount, 100), three consecutive
// scrolls yield nothing new, or 20 scrolls have occurred.
func collectConnectionUsernames(page *rod.Page, sentCount int) (map[string]struct{}, error) {
	sess := &browserctl.Session{Page: page}
	if err := sess.Navigate(connectionsURL); err != nil {
		return nil, fmt.Errorf("navigate to connections page: %w", err)
	}

	target := scrollTarget(sentCount)

	usernames := make(map[string]struct{})
	staleRounds := 0

	for scroll := 0; scroll < maxScrolls; scroll++ {
		before := len(usernames)
		collectVisibleUsernames(page, usernames)

		if len(usernames) >= target {
			break
		}
		if len(usernames) == before {
			staleRounds++
			if staleRounds >= maxConsecutiveStale {
				break
			}
		} else {
			staleRounds = 0
		}

		if _, err := page.Eval(fmt.Sprintf(`() => window.scrollBy(0, %d)`, browserctl.RandomScrollPixels())); err != nil {
			break
		}
		browserctl.RandomDelay(scrollSleepMin, scrollSleepMax)
	}

	return usernames, nil
}

// scrollTarget is the collected-URL count collectConnectionUsernames
// scrolls toward: 3x the sent-lead count, or 100, whichever is larger.
func scrollTarget(sentCount int) int {
	target := 3 * sentCount
	if target < minCollectedFallback {
		target = minCollectedFallback
	}
	return target
}

func collectVisibleUsernames(page *rod.Page, into map[string]struct{}) {
	anchors, err := page.Timeout(browserctl.SelectorTimeout).Elements("a[href*='/in/']")
	if err != nil {
		return
	}
	for _, a := range anchors {
		href, herr := a.Attribute("href")
		if herr != nil || href == nil {
			continue
		}
		if username := extractUsername(*href); username != "" {
			into[username] = struct{}{}
		}
	}
}

// matchLeads selects sent-invite leads whose profile username appears in
// the scraped connections set.
func matchLeads(sentLeads []*models.Lead, usernames map[string]struct{}) []*models.Lead {
	var matched []*models.Lead
	for _, lead := range sentLeads {
		username := extractUsername(lead.URL)
		if username == "" {
			continue
		}
		if _, ok := usernames[username]; ok {
			matched = append(matched, lead)
		}
	}
	return matched
}

func extractUsername(url string) string {
	m := profileHref.FindStringSubmatch(url)
	if len(m) < 2 {
		return ""
	}
	return strings.ToLower(m[1])
}
