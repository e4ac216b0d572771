// Package message implements C5, the message sender: it opens a
// profile's compose dialog and types a message character-by-character to
// mimic human input.
package message

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"outreach-engine/internal/browserctl"
)

const composeDialogWait = 2 * time.Second
const postSendWait = 2 * time.Second

var messageButtonSelectors = []string{
	"button[aria-label*='Message' i]",
	"a[aria-label*='Message' i]",
	"button.pvs-profile-actions__action",
}

var composeDialogSelectors = []string{
	"div[role='dialog']",
	"div.overlay-bubble-header",
	"div.msg-form",
}

var composeAreaSelectors = []string{
	"div.msg-form__contenteditable[contenteditable='true']",
	"div[role='textbox'][contenteditable='true']",
}

var sendButtonSelectors = []string{
	"button[type='submit']:has-text('Send')",
	"button.msg-form__send-button",
	"button[aria-label*='Send' i]",
}

// Result is the outcome of a SendMessage call.
type Result struct {
	Success bool
	Error   string
}

// SendMessage navigates to profileUrl, opens the compose dialog, types
// content character-by-character, and clicks Send. displayName is
// accepted but not used.
func SendMessage(page *rod.Page, profileURL, content, displayName string) Result {
	sess := &browserctl.Session{Page: page}
	if err := sess.Navigate(profileURL); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	btn, err := findMessageButton(page)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	if err := btn.ScrollIntoView(); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("scroll to message button: %s", err)}
	}
	if err := browserctl.ClickWithFallback(btn); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("click message button: %s", err)}
	}

	time.Sleep(composeDialogWait)
	if _, err := browserctl.FindFirst(page, nil, composeDialogSelectors); err != nil {
		return Result{Success: false, Error: "compose dialog did not appear"}
	}

	composeArea, err := browserctl.FindFirst(page, nil, composeAreaSelectors)
	if err != nil {
		return Result{Success: false, Error: "compose area not found"}
	}
	if err := browserctl.ClickWithFallback(composeArea); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("focus compose area: %s", err)}
	}
	if _, err := composeArea.Eval(`() => { this.innerText = ''; }`); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("clear compose area: %s", err)}
	}

	if err := typeCharacterByCharacter(composeArea, content); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("type message: %s", err)}
	}

	sendBtn, err := browserctl.FindFirst(page, nil, sendButtonSelectors)
	if err != nil {
		return Result{Success: false, Error: "send button not found"}
	}
	if disabled, derr := sendBtn.Attribute("disabled"); derr == nil && disabled != nil {
		return Result{Success: false, Error: "send button disabled"}
	}
	if err := browserctl.ClickWithFallback(sendBtn); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("click send: %s", err)}
	}
	time.Sleep(postSendWait)

	return Result{Success: true}
}

func findMessageButton(page *rod.Page) (*rod.Element, error) {
	el, err := browserctl.FindFirst(page, nil, messageButtonSelectors)
	if err != nil {
		return nil, fmt.Errorf("message button not found: %w", err)
	}
	text, terr := el.Text()
	if terr == nil && isExcludedButtonText(text) {
		return nil, fmt.Errorf("message button not found: matched excluded text %q", text)
	}
	return el, nil
}

// isExcludedButtonText reports whether text is a label LinkedIn shows on a
// profile action button that looks like the message button but isn't one
// ("Messaging", already-open-thread links, a past-tense "Message sent"
// status) rather than a fresh compose action.
func isExcludedButtonText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "messaging") || strings.Contains(lower, "message sent")
}

// typeCharacterByCharacter types content one rune at a time through rod's
// Input (CDP Input.insertText under the hood, so LinkedIn's own keydown/
// input listeners fire same as real typing) with a 20-50 ms random delay
// between keystrokes, the anti-detection cadence of the message flow.
func typeCharacterByCharacter(el *rod.Element, content string) error {
	for _, r := range content {
		if err := el.Input(string(r)); err != nil {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(31)) * time.Millisecond)
	}
	return nil
}

// RandomDelay sleeps uniformly in [minSec, maxSec] — the inter-message
// pacing C6 applies between sends (default 30-90s).
func RandomDelay(minSec, maxSec int) {
	browserctl.RandomDelay(minSec, maxSec)
}
