package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"testing"
	"time"
)

var fastPolicy = Policy{Attempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 500", &StatusError{StatusCode: 500}, true},
		{"status 404", &StatusError{StatusCode: 404}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"dns", &net.DNSError{IsTimeout: true}, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"plain", errors.New("bad feed"), false},
		{"closed mid-response", &url.Error{Op: "Get", URL: "https://x", Err: io.ErrUnexpectedEOF}, true},
		{"malformed url", &url.Error{Op: "parse", URL: "::", Err: errors.New("missing protocol scheme")}, false},
		{"url timeout", &url.Error{Op: "Get", URL: "https://x", Err: context.DeadlineExceeded}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy, nil, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	var notified []int
	got, err := Do(context.Background(), fastPolicy, func(attempt int, _ error, _ time.Duration) {
		notified = append(notified, attempt)
	}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &StatusError{StatusCode: 503}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Fatalf("got %d after %d calls", got, calls)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Fatalf("unexpected notify attempts %v", notified)
	}
}

func TestDoStopsAtAttemptBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy, nil, func(context.Context) (int, error) {
		calls++
		return 0, &StatusError{StatusCode: 502}
	})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	sentinel := errors.New("not an image")
	calls := 0
	_, err := Do(context.Background(), fastPolicy, nil, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, Policy{Attempts: 5, InitialDelay: time.Second, Multiplier: 2}, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls > 1 {
		t.Fatalf("expected at most one attempt, got %d", calls)
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}
