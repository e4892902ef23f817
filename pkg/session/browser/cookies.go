package browser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chromedp/cdproto/network"
)

// storedCookies is the cookie file layout written by browser login helpers
type storedCookies struct {
	Cookies []*network.Cookie `json:"cookies"`
}

// loadCookies reads a cookie file holding either {"cookies": [...]} or a
// bare array exported from a browser
func loadCookies(path string) ([]*network.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var cookies []*network.Cookie
		if err := json.Unmarshal(data, &cookies); err != nil {
			return nil, fmt.Errorf("failed to parse cookie file: %w", err)
		}
		return cookies, nil
	}

	var stored storedCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file: %w", err)
	}
	return stored.Cookies, nil
}

// hasAuthCookie reports whether cookies include a session token
func hasAuthCookie(cookies []*network.Cookie) bool {
	for _, c := range cookies {
		if c.Name == "auth_token" && c.Value != "" {
			return true
		}
	}
	return false
}
