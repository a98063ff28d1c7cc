package notify

import (
	"context"
	"strings"
	"testing"

	"socialfeed/feed"

	"github.com/google/go-cmp/cmp"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

func TestNotificationMessage(t *testing.T) {
	s := NewSendGrid(nil, "Feed Bot", "bot@feed.example.com", "https://feed.example.com")

	to := &feed.Recipient{UserID: "ann", Name: "Ann", Email: "ann@example.com"}
	message, err := s.notificationMessage(to, feed.LikeNotification("Bob", "my post"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if diff := cmp.Diff(message.From, mail.NewEmail("Feed Bot", "bot@feed.example.com")); diff != "" {
		t.Errorf("Bad sender; diff (-got +want)\n%s", diff)
	}
	if message.Subject != "New Like! ❤️" {
		t.Errorf("Bad subject %q", message.Subject)
	}
	if len(message.Personalizations) != 1 || len(message.Personalizations[0].To) != 1 {
		t.Fatalf("Bad personalizations %+v", message.Personalizations)
	}
	if diff := cmp.Diff(message.Personalizations[0].To[0], mail.NewEmail("Ann", "ann@example.com")); diff != "" {
		t.Errorf("Bad recipient; diff (-got +want)\n%s", diff)
	}

	want := "Bob liked your post: \"my post\"\n\nOpen the feed: https://feed.example.com\n\nYou can turn these emails off in Settings.\n"
	if diff := cmp.Diff(message.Content[0].Value, want); diff != "" {
		t.Errorf("Bad body; diff (-got +want)\n%s", diff)
	}
}

func TestResetMessage(t *testing.T) {
	s := NewSendGrid(nil, "Feed Bot", "bot@feed.example.com", "https://feed.example.com")

	message, err := s.resetMessage("ann@example.com", "https://feed.example.com/reset-password?token=abc")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(message.Content[0].Value, "https://feed.example.com/reset-password?token=abc\n") {
		t.Errorf("Reset link missing from body %q", message.Content[0].Value)
	}
}

func TestNotifySkipsMissingEmail(t *testing.T) {
	// A nil client would panic if Notify tried to send.
	s := NewSendGrid(nil, "Feed Bot", "bot@feed.example.com", "https://feed.example.com")
	if err := s.Notify(context.Background(), &feed.Recipient{UserID: "ann"}, feed.LikeNotification("Bob", "x")); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
