//go:build !linux && !darwin

package notify

// command reports no notifier; Notify falls back to logging.
func command(_, _, _ string) (string, []string) {
	return "", nil
}
