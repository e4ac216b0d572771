// Package invite implements C4, the per-lead invite state machine:
// navigate to a profile, classify its connection state, and either send
// a connection request or record why one wasn't needed.
package invite

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"outreach-engine/internal/browserctl"
	stderrors "outreach-engine/internal/errors"
	"outreach-engine/internal/models"
)

const (
	modalWait      = 1750 * time.Millisecond
	pendingVerify  = 3 * time.Second
	interLeadMin   = 10
	interLeadMax   = 30
)

// Stage names reported via the progress callback.
const (
	StageNavigating  = "navigating"
	StageClassifying = "classifying"
	StageClicking    = "clicking"
	StageSending     = "sending"
)

// LeadOutcome is the per-lead result, one entry of Results.Errors when
// status is failed.
type LeadOutcome struct {
	LeadID string
	Status string // "sent" | "alreadyPending" | "alreadyConnected" | "failed"
	Error  string
}

// ProgressEvent is delivered to the caller's callback. ProcessInvites
// emits one per lead, on whole-lead completion (Status non-empty, Current
// an integer); the sub-step shape (Status empty, Current fractional) that
// reportSubStep builds is not emitted by ProcessInvites.
type ProgressEvent struct {
	Current float64
	Stage   string
	Status  string
	// LeadID identifies the lead a whole-lead completion event belongs to.
	// Empty on sub-step events.
	LeadID string
}

// ProgressCallback may return errors.ErrWorkflowPaused or
// errors.ErrWorkflowCancelled to abort the remaining leads; C4 re-raises
// it to the caller without wrapping.
type ProgressCallback func(event ProgressEvent) error

// Results aggregates the outcome of one processInvites call.
type Results struct {
	Total            int
	Sent             int
	AlreadyConnected int
	AlreadyPending   int
	Failed           int
	Errors           []models.WorkflowLeadError
}

var (
	skipButtonText       = regexp.MustCompile(`(?i)message|pending|follow|connected`)
	connectMenuItem      = regexp.MustCompile(`(?i)^connect$`)
	connectAriaInviteWord = regexp.MustCompile(`(?i)invite`)
	connectAriaConnectWord = regexp.MustCompile(`(?i)connect`)
)

var topCardSelectors = []string{
	".pv-top-card",
	"section.artdeco-card.ph5",
	"main section:first-of-type",
}

var pendingButtonSelectors = []string{
	"button[aria-label*='Pending' i]",
	"button:has-text('Pending')",
}

var removeConnectionSelectors = []string{
	"button[aria-label*='Remove connection' i]",
	"span:has-text('Remove Connection')",
}

var overflowMenuButtonSelectors = []string{
	"button[aria-label='More actions']",
	"button[aria-label*='More' i]",
}

var sendWithoutNoteSelectors = []string{
	"button:has-text('Send without a note')",
	"button[aria-label='Send without a note']",
}

var modalSelectors = []string{
	"div.send-invite",
	"div[role='dialog']:has-text('Send without a note')",
	"div[role='dialog']:has-text('Add a note')",
}

// ProcessInvites runs the per-lead state machine sequentially over leads,
// in input order, calling progress once per lead when that lead
// completes; no sub-step progress events are sent. campaignID
// scopes the per-lead status writes the caller's progress callback makes
// through C2 — a lead's outcome here never fans out by url, only
// checkAcceptances does that.
func ProcessInvites(ctx context.Context, page *rod.Page, leads []*models.Lead, customMessage, campaignID string, progress ProgressCallback) (Results, error) {
	results := Results{Total: len(leads)}

	for i, lead := range leads {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		outcome := processOneLead(page, lead)
		applyOutcome(&results, outcome)

		if err := reportWhole(progress, i, len(leads), outcome.LeadID, outcome.Status); err != nil {
			return results, err
		}

		if i < len(leads)-1 {
			browserctl.RandomDelay(interLeadMin, interLeadMax)
		}
	}

	return results, nil
}

func applyOutcome(results *Results, outcome LeadOutcome) {
	switch outcome.Status {
	case "sent":
		results.Sent++
	case "alreadyPending":
		results.AlreadyPending++
	case "alreadyConnected":
		results.AlreadyConnected++
	default:
		results.Failed++
		results.Errors = append(results.Errors, models.WorkflowLeadError{LeadID: outcome.LeadID, Error: outcome.Error})
	}
}

func reportWhole(progress ProgressCallback, completed, total int, leadID, status string) error {
	if progress == nil {
		return nil
	}
	current := float64(completed + 1)
	if total > 0 {
		// clamp to total so the final callback reads exactly `total`
		if int(current) > total {
			current = float64(total)
		}
	}
	return progress(ProgressEvent{Current: current, Stage: StageSending, Status: status, LeadID: leadID})
}

func reportSubStep(progress ProgressCallback, completed int, fraction float64, stage string) error {
	if progress == nil {
		return nil
	}
	return progress(ProgressEvent{Current: float64(completed) + fraction, Stage: stage})
}

func processOneLead(page *rod.Page, lead *models.Lead) LeadOutcome {
	if err := navigateToProfile(page, lead.URL); err != nil {
		return LeadOutcome{LeadID: lead.ID, Status: "failed", Error: stderrors.NewNavigationTimeoutError(lead.URL, err).Error()}
	}

	topCard, _ := browserctl.FindFirst(page, nil, topCardSelectors)

	if el, err := browserctl.FindFirst(page, topCard, pendingButtonSelectors); err == nil && el != nil {
		return LeadOutcome{LeadID: lead.ID, Status: "alreadyPending"}
	}

	if el, err := browserctl.FindFirst(page, topCard, removeConnectionSelectors); err == nil && el != nil {
		return LeadOutcome{LeadID: lead.ID, Status: "alreadyConnected"}
	}

	connectEl, found := findConnectButton(page, topCard)
	if !found {
		return verifyWithoutConnect(page, topCard, lead)
	}

	if err := browserctl.ClickWithFallback(connectEl); err != nil {
		return LeadOutcome{LeadID: lead.ID, Status: "failed", Error: stderrors.NewConnectNotFoundError().Error()}
	}
	time.Sleep(modalWait)

	modal, err := browserctl.FindFirst(page, nil, modalSelectors)
	if err != nil || modal == nil {
		return LeadOutcome{LeadID: lead.ID, Status: "failed", Error: stderrors.NewModalNotShownError().Error()}
	}

	sendBtn, err := browserctl.FindFirst(page, modal, sendWithoutNoteSelectors)
	if err != nil || sendBtn == nil {
		return LeadOutcome{LeadID: lead.ID, Status: "failed", Error: stderrors.NewModalNotShownError().Error()}
	}
	if err := browserctl.ClickWithFallback(sendBtn); err != nil {
		return LeadOutcome{LeadID: lead.ID, Status: "failed", Error: stderrors.NewModalNotShownError().Error()}
	}

	if verifyPendingAppeared(page, topCard) {
		return LeadOutcome{LeadID: lead.ID, Status: "sent"}
	}
	return LeadOutcome{LeadID: lead.ID, Status: "failed", Error: stderrors.NewVerificationFailedError("Pending button did not appear").Error()}
}

func navigateToProfile(page *rod.Page, url string) error {
	s := &browserctl.Session{Page: page}
	return s.Navigate(url)
}

// findConnectButton implements the two-strategy Connect discovery scoped
// to the profile header container.
func findConnectButton(page *rod.Page, topCard *rod.Element) (*rod.Element, bool) {
	scope := page.Timeout(browserctl.SelectorTimeout)
	var candidates rod.Elements
	var err error
	if topCard != nil {
		candidates, err = topCard.Elements("button")
	} else {
		candidates, err = scope.Elements("button")
	}
	if err == nil {
		for _, btn := range candidates {
			text, terr := btn.Text()
			if terr != nil {
				continue
			}
			if strings.Contains(strings.ToLower(text), "connect") && !skipButtonText.MatchString(text) {
				if visible, _ := btn.Visible(); visible {
					return btn, true
				}
			}
		}
	}

	// Strategy 2: open the overflow "More" menu and look for a Connect item.
	overflow, oerr := browserctl.FindFirst(page, topCard, overflowMenuButtonSelectors)
	if oerr != nil || overflow == nil {
		return nil, false
	}
	if err := browserctl.ClickWithFallback(overflow); err != nil {
		return nil, false
	}
	time.Sleep(500 * time.Millisecond)

	items, ierr := scope.Elements("div[role='menu'] div[role='button'], li.artdeco-dropdown__item")
	if ierr != nil {
		return nil, false
	}
	for _, item := range items {
		text, terr := item.Text()
		if terr == nil && connectMenuItem.MatchString(strings.TrimSpace(text)) {
			if visible, _ := item.Visible(); visible {
				return item, true
			}
		}
		aria, aerr := item.Attribute("aria-label")
		if aerr == nil && aria != nil && connectAriaInviteWord.MatchString(*aria) && connectAriaConnectWord.MatchString(*aria) {
			if visible, _ := item.Visible(); visible {
				return item, true
			}
		}
	}
	return nil, false
}

func verifyWithoutConnect(page *rod.Page, topCard *rod.Element, lead *models.Lead) LeadOutcome {
	if verifyPendingAppeared(page, topCard) {
		return LeadOutcome{LeadID: lead.ID, Status: "alreadyPending"}
	}
	if el, err := browserctl.FindFirst(page, topCard, removeConnectionSelectors); err == nil && el != nil {
		return LeadOutcome{LeadID: lead.ID, Status: "alreadyConnected"}
	}
	return LeadOutcome{LeadID: lead.ID, Status: "failed", Error: "Connect button not found"}
}

func verifyPendingAppeared(page *rod.Page, topCard *rod.Element) bool {
	deadline := time.Now().Add(pendingVerify)
	for time.Now().Before(deadline) {
		if el, err := browserctl.FindFirst(page, topCard, pendingButtonSelectors); err == nil && el != nil {
			return true
		}
		time.Sleep(250 * time.Millisecond)
	}
	return false
}
