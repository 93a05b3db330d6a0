package message_test

import (
	"testing"

	"github.com/mahilo/registry/internal/message"
)

func TestValidatePayloadSize(t *testing.T) {
	t.Parallel()
	if err := message.ValidatePayloadSize("", 100); err != message.ErrPayloadEmpty {
		t.Errorf("err = %v, want ErrPayloadEmpty", err)
	}
	if err := message.ValidatePayloadSize("hello", 3); err != message.ErrPayloadTooLarge {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
	if err := message.ValidatePayloadSize("hello", 100); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := message.ValidatePayloadSize("hello", 0); err != nil {
		t.Errorf("zero maxBytes should fall back to the default: %v", err)
	}
}

func TestIsCiphertext(t *testing.T) {
	t.Parallel()
	if !message.IsCiphertext(message.CiphertextPayloadType) {
		t.Error("expected the ciphertext payload type to be recognized")
	}
	if message.IsCiphertext(message.DefaultPayloadType) {
		t.Error("plain text payload type should not be recognized as ciphertext")
	}
}

func TestAggregateStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{name: "no children", statuses: nil, want: message.StatusPending},
		{name: "all delivered", statuses: []string{message.StatusDelivered, message.StatusDelivered}, want: message.StatusDelivered},
		{name: "all failed", statuses: []string{message.StatusFailed, message.StatusFailed}, want: message.StatusFailed},
		{name: "any pending wins", statuses: []string{message.StatusDelivered, message.StatusPending}, want: message.StatusPending},
		{name: "mixed terminal with no pending resolves failed", statuses: []string{message.StatusDelivered, message.StatusFailed}, want: message.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			children := make([]message.Delivery, len(tt.statuses))
			for i, s := range tt.statuses {
				children[i] = message.Delivery{Status: s}
			}
			got := message.AggregateStatus(children)
			if got != tt.want {
				t.Errorf("AggregateStatus(%v) = %q, want %q", tt.statuses, got, tt.want)
			}
		})
	}
}
