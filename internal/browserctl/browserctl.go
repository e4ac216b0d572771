// Package browserctl hosts the go-rod launch and selector helpers shared
// by the session validator, invite automation, message sender, and
// connection checker. Grounded on the teacher's single-purpose data
// store wrappers, generalized here to the browser driver.
package browserctl

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	WindowWidth  = 1280
	WindowHeight = 720

	NavigationTimeout = 45 * time.Second
	StabiliseWait     = 5 * time.Second
	SelectorTimeout    = 5 * time.Second
)

// Session wraps one launched browser + page rooted at a per-account
// profile directory. The profile directory is a filesystem resource the
// caller must ensure is not shared across concurrent workers.
type Session struct {
	browser *rod.Browser
	Page    *rod.Page
}

// Launch starts a persistent, headless browser context at profileDir
// with a fixed argv disabling sandboxing and GPU, per the session
// validator's protocol.
func Launch(profileDir string, headless bool) (*Session, error) {
	l := launcher.New().
		Headless(headless).
		UserDataDir(profileDir).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("window-size", fmt.Sprintf("%d,%d", WindowWidth, WindowHeight))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: WindowWidth, Height: WindowHeight, DeviceScaleFactor: 1,
	}); err != nil {
		browser.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	return &Session{browser: browser, Page: page}, nil
}

// Close shuts down the browser, swallowing errors — the session
// validator's cleanup() contract.
func (s *Session) Close() {
	if s == nil || s.browser == nil {
		return
	}
	_ = s.browser.Close()
}

// InjectCookies loads the session bundle's cookies into the browser
// context before any navigation.
func (s *Session) InjectCookies(cookies []*proto.NetworkCookieParam) error {
	if len(cookies) == 0 {
		return nil
	}
	return s.browser.SetCookies(cookies)
}

// InjectStorageOnNewDocument registers a pre-navigation script that
// writes the given local-storage and session-storage key/value pairs on
// every new document, so a reload does not lose them.
func (s *Session) InjectStorageOnNewDocument(localStorage, sessionStorage map[string]string) error {
	script := buildStorageScript(localStorage, sessionStorage)
	_, err := s.Page.EvalOnNewDocument(script)
	return err
}

func buildStorageScript(localStorage, sessionStorage map[string]string) string {
	js := "(() => {"
	for k, v := range localStorage {
		js += fmt.Sprintf("try{window.localStorage.setItem(%q,%q);}catch(e){}", k, v)
	}
	for k, v := range sessionStorage {
		js += fmt.Sprintf("try{window.sessionStorage.setItem(%q,%q);}catch(e){}", k, v)
	}
	js += "})()"
	return js
}

// Navigate loads url, waits for DOM content loaded, then waits a short
// fixed interval to let client-side redirects settle.
func (s *Session) Navigate(url string) error {
	page := s.Page.Timeout(NavigationTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load %s: %w", url, err)
	}
	time.Sleep(StabiliseWait)
	return nil
}

// CurrentURL returns the page's current address, after any client-side
// redirect has settled.
func (s *Session) CurrentURL() (string, error) {
	info, err := s.Page.Info()
	if err != nil {
		return "", fmt.Errorf("read page info: %w", err)
	}
	return info.URL, nil
}

// FindFirst tries each selector in order within scope (nil for the whole
// page) and returns the first visible match. Whether the element is
// enabled is not checked.
func FindFirst(page *rod.Page, scope *rod.Element, selectors []string) (*rod.Element, error) {
	root := page.Timeout(SelectorTimeout)
	for _, sel := range selectors {
		var el *rod.Element
		var err error
		if scope != nil {
			el, err = scope.Timeout(SelectorTimeout).Element(sel)
		} else {
			el, err = root.Element(sel)
		}
		if err != nil || el == nil {
			continue
		}
		visible, verr := el.Visible()
		if verr != nil || !visible {
			continue
		}
		return el, nil
	}
	return nil, fmt.Errorf("no selector matched among %d candidates", len(selectors))
}

// ClickWithFallback attempts a normal click, then a forced click routed
// through the element's scrolled-into-view position, then a DOM-level
// click dispatched from the element handle — the first non-throwing
// attempt wins.
func ClickWithFallback(el *rod.Element) error {
	if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
		return nil
	}
	if err := forcedClick(el); err == nil {
		return nil
	}
	if _, err := el.Eval(`() => this.click()`); err == nil {
		return nil
	}
	return fmt.Errorf("click failed via all three strategies")
}

func forcedClick(el *rod.Element) error {
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// RandomDelay sleeps uniformly in [minSec, maxSec].
func RandomDelay(minSec, maxSec int) {
	if maxSec <= minSec {
		time.Sleep(time.Duration(minSec) * time.Second)
		return
	}
	span := maxSec - minSec
	d := minSec + rand.Intn(span+1)
	time.Sleep(time.Duration(d) * time.Second)
}

// RandomScrollPixels returns a random scroll delta in [800,1200], the
// range the connection checker's scroll loop uses.
func RandomScrollPixels() int {
	return 800 + rand.Intn(401)
}
