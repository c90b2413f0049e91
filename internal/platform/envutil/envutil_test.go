package envutil

import (
	"testing"
	"time"
)

func TestDurationAcceptsSecondsAndGoSyntax(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "15")
	if got := Duration("OUTBOX_POLL_INTERVAL", time.Second); got != 15*time.Second {
		t.Fatalf("seconds: want=%s got=%s", 15*time.Second, got)
	}
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
	if got := Duration("OUTBOX_POLL_INTERVAL", time.Second); got != 250*time.Millisecond {
		t.Fatalf("go syntax: want=%s got=%s", 250*time.Millisecond, got)
	}
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")
	if got := Duration("OUTBOX_POLL_INTERVAL", time.Second); got != time.Second {
		t.Fatalf("invalid: want default got=%s", got)
	}
}

func TestCSVDropsBlanks(t *testing.T) {
	t.Setenv("PAYSTACK_ALLOWED_IPS", " 1.1.1.1, ,2.2.2.2 ")
	got := CSV("PAYSTACK_ALLOWED_IPS", nil)
	if len(got) != 2 || got[0] != "1.1.1.1" || got[1] != "2.2.2.2" {
		t.Fatalf("csv: got=%v", got)
	}
}

func TestBoolDefaults(t *testing.T) {
	t.Setenv("PAYSTACK_VERIFY_SIGNATURE", "")
	if Bool("PAYSTACK_VERIFY_SIGNATURE", false) {
		t.Fatalf("empty: want default false")
	}
	t.Setenv("PAYSTACK_VERIFY_SIGNATURE", "on")
	if !Bool("PAYSTACK_VERIFY_SIGNATURE", false) {
		t.Fatalf("on: want true")
	}
}

func TestFloatFallsBackOnGarbage(t *testing.T) {
	t.Setenv("OTEL_SAMPLER_RATIO", "0.25")
	if got := Float("OTEL_SAMPLER_RATIO", 1); got != 0.25 {
		t.Fatalf("float: want=0.25 got=%v", got)
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "quarter")
	if got := Float("OTEL_SAMPLER_RATIO", 1); got != 1 {
		t.Fatalf("garbage: want default 1 got=%v", got)
	}
}
