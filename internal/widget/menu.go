package widget

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

// OptionsMenu is the dropdown behind the header options button. While shown
// it watches for interactions outside its own region and the button's.
type OptionsMenu struct {
	shell *Shell

	mu      sync.Mutex
	shown   bool
	release func()
}

func newOptionsMenu(shell *Shell) *OptionsMenu {
	return &OptionsMenu{shell: shell}
}

// Show opens the menu. A pointer-down outside every region hides it again.
func (m *OptionsMenu) Show(regions ...Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shown {
		return
	}
	m.shown = true
	m.release = m.shell.outside.Watch(m.Hide, regions...)
}

// Hide closes the menu and releases its outside-interaction watch.
func (m *OptionsMenu) Hide() {
	m.mu.Lock()
	release := m.release
	m.shown = false
	m.release = nil
	m.mu.Unlock()

	if release != nil {
		release()
	}
}

// Toggle flips the menu like the options button does.
func (m *OptionsMenu) Toggle(regions ...Region) {
	if m.Shown() {
		m.Hide()
		return
	}
	m.Show(regions...)
}

// Shown reports whether the menu is open.
func (m *OptionsMenu) Shown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shown
}

// ResetChat resets the conversation and hides the menu.
func (m *OptionsMenu) ResetChat(ctx context.Context) error {
	err := m.shell.Reset(ctx)
	m.Hide()
	return err
}

// SupportLink is the mailto link for the support email, if one is set. origin
// is the host page origin.
func (m *OptionsMenu) SupportLink(origin string) (string, bool) {
	email := m.shell.settings.SupportEmail
	if email == "" {
		return "", false
	}
	return "mailto:" + email + "?Subject=" + encodeURIComponent("Inquiry from "+origin), true
}

// SessionID is shown so visitors can quote it to support.
func (m *OptionsMenu) SessionID() (string, bool) {
	id := m.shell.SessionID()
	return id, id != ""
}

func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
