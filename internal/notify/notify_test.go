package notify

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

type recordedCall struct {
	name string
	args []string
}

func TestDesktop_Notify(t *testing.T) {
	var calls []recordedCall
	d := New("", nil).WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, recordedCall{name: name, args: args})
		return nil, nil
	})

	if err := d.Notify(context.Background(), "Cherries sent", "Sent 5 cherries to jane@co.example"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	name, args := command("", "Cherries sent", "Sent 5 cherries to jane@co.example")
	if name == "" {
		if len(calls) != 0 {
			t.Errorf("ran %+v on a platform without a notifier", calls)
		}
		return
	}
	if len(calls) != 1 || calls[0].name != name || !slices.Equal(calls[0].args, args) {
		t.Errorf("calls = %+v, want %s %v", calls, name, args)
	}
}

func TestDesktop_NotifyFailure(t *testing.T) {
	if name, _ := command("", "t", "b"); name == "" {
		t.Skip("no desktop notifier on this platform")
	}
	d := New("", nil).WithRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("cannot open display\n"), errors.New("exit status 1")
	})

	err := d.Notify(context.Background(), "t", "b")
	if err == nil || !strings.Contains(err.Error(), "cannot open display") {
		t.Errorf("Notify() error = %v, want command output included", err)
	}
}
