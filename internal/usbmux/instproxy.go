package usbmux

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"howett.net/plist"
)

const instproxyService = "com.apple.mobile.installation_proxy"

// AppPath resolves an app bundle identifier to its install path by
// browsing the installed user apps. An identifier that already looks
// like a path passes through unchanged.
func (m *Client) AppPath(dev Device, bundleID string) (string, error) {
	if strings.HasPrefix(bundleID, "/") {
		return bundleID, nil
	}

	c, err := m.ServiceConn(dev, instproxyService)
	if err != nil {
		return "", err
	}
	defer c.Close()

	_ = c.SetDeadline(time.Now().Add(60 * time.Second))
	req := map[string]any{
		"Command": "Browse",
		"ClientOptions": map[string]any{
			"ApplicationType":  "User",
			"ReturnAttributes": []string{"CFBundleIdentifier", "Path"},
		},
	}
	if err := writeLockdown(c, req, plist.BinaryFormat); err != nil {
		return "", err
	}

	// Browse replies arrive in chunks until Status is Complete.
	var known []string
	for {
		resp, err := readLockdown(c)
		if err != nil {
			return "", err
		}
		if e, ok := resp["Error"].(string); ok && e != "" {
			return "", fmt.Errorf("browse installed apps: %s", e)
		}
		list, _ := resp["CurrentList"].([]any)
		for _, entry := range list {
			app, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			id, _ := app["CFBundleIdentifier"].(string)
			if id == "" {
				continue
			}
			if id == bundleID {
				if path, _ := app["Path"].(string); path != "" {
					return path, nil
				}
			}
			known = append(known, id)
		}
		if status, _ := resp["Status"].(string); status == "Complete" {
			break
		}
	}

	sort.Strings(known)
	return "", fmt.Errorf("%w: app %s is not installed (installed: %s)",
		ErrNotFound, bundleID, strings.Join(known, ", "))
}
