//go:build darwin

package notify

import "fmt"

func command(username, title, body string) (string, []string) {
	script := fmt.Sprintf(`display notification %q with title %q`, body, title)
	if username == "" {
		return "osascript", []string{"-e", script}
	}
	return "sudo", []string{"-u", username, "osascript", "-e", script}
}
