// Package session implements C3, the session validator: it resumes a
// persisted LinkedIn session inside a fresh browser context and
// classifies whether the session is still authenticated.
package session

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"outreach-engine/internal/browserctl"
	"outreach-engine/internal/models"
)

const feedURL = "https://www.linkedin.com/feed/"

var (
	loginOrCheckpoint = regexp.MustCompile(`linkedin\.com/(login|checkpoint|authwall)`)
	authenticatedSurface = regexp.MustCompile(`linkedin\.com/(feed|in/|mynetwork|messaging)`)
)

// Result is the verdict returned for every validation attempt.
type Result struct {
	IsValid bool
	Reason  string
	// Session is populated only when KeepOpen was requested and
	// validation succeeded; the caller owns closing it.
	Session *browserctl.Session
}

// Validate launches a persistent context rooted at profileDir, injects
// the session bundle, navigates to the feed, and classifies the result.
// When keepOpen is true and the session validates, the live context is
// returned to the caller instead of being closed.
func Validate(profileDir string, headless bool, bundle models.SessionBundle, keepOpen bool) (Result, error) {
	sess, err := browserctl.Launch(profileDir, headless)
	if err != nil {
		return Result{IsValid: false, Reason: err.Error()}, nil
	}

	if err := sess.InjectCookies(toNetworkCookies(bundle.Cookies)); err != nil {
		sess.Close()
		return Result{IsValid: false, Reason: fmt.Sprintf("inject cookies: %s", err)}, nil
	}
	if err := sess.InjectStorageOnNewDocument(bundle.LocalStorage, bundle.SessionStorage); err != nil {
		sess.Close()
		return Result{IsValid: false, Reason: fmt.Sprintf("inject storage: %s", err)}, nil
	}

	if err := sess.Navigate(feedURL); err != nil {
		sess.Close()
		return Result{IsValid: false, Reason: err.Error()}, nil
	}

	current, err := sess.CurrentURL()
	if err != nil {
		sess.Close()
		return Result{IsValid: false, Reason: err.Error()}, nil
	}

	valid, reason := classify(current)
	if !valid {
		sess.Close()
		return Result{IsValid: false, Reason: reason}, nil
	}
	if keepOpen {
		return Result{IsValid: true, Reason: reason, Session: sess}, nil
	}
	sess.Close()
	return Result{IsValid: true, Reason: reason}, nil
}

// classify decides whether a post-navigation URL indicates an
// authenticated session, a redirect to login, or an unrecognized page.
func classify(currentURL string) (valid bool, reason string) {
	switch {
	case loginOrCheckpoint.MatchString(currentURL):
		return false, "redirected to login"
	case authenticatedSurface.MatchString(currentURL) || strings.HasPrefix(currentURL, feedURL):
		return true, "authenticated surface reached"
	default:
		return false, "unexpected page"
	}
}

// ProfileDir returns the per-account profile subdirectory under root, so
// concurrent accounts never share a filesystem resource.
func ProfileDir(root, accountID string) string {
	return filepath.Join(root, accountID)
}

func toNetworkCookies(cookies []models.SessionCookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return out
}

// Cleanup closes a kept-open session, swallowing errors — C3's
// cleanup(context) contract.
func Cleanup(sess *browserctl.Session) {
	sess.Close()
}
