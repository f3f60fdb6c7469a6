//go:build linux

package notify

import (
	"fmt"
	"os/user"
)

// command runs notify-send, through sudo when the notification belongs to another
// user. That user's session bus has to be named explicitly.
func command(username, title, body string) (string, []string) {
	if username == "" {
		return "notify-send", []string{title, body}
	}
	args := []string{"-u", username}
	if u, err := user.Lookup(username); err == nil {
		args = append(args, fmt.Sprintf("DBUS_SESSION_BUS_ADDRESS=unix:path=/run/user/%s/bus", u.Uid))
	}
	return "sudo", append(args, "notify-send", title, body)
}
