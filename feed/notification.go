package feed

import (
	"context"
	"fmt"
)

// Notification kinds.
const (
	KindLike    = "like"
	KindComment = "comment"
)

// previewLength is how many characters of a post or comment make it into a
// notification body.
const previewLength = 50

// Notification is a title/body message with a small data payload.
type Notification struct {
	Kind  string
	Title string
	Body  string
	Data  map[string]string
}

// Recipient identifies who a notification is for.
type Recipient struct {
	UserID string
	Name   string
	Email  string
}

// Notifier delivers notifications.  Delivery failures are never surfaced to
// users.
type Notifier interface {
	Notify(ctx context.Context, to *Recipient, n *Notification) error
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLength {
		return text
	}
	return string(r[:previewLength]) + "..."
}

// LikeNotification builds the notification sent to a post's author when
// someone likes it.
func LikeNotification(likerName, postText string) *Notification {
	return &Notification{
		Kind:  KindLike,
		Title: "New Like! ❤️",
		Body:  fmt.Sprintf("%s liked your post: \"%s\"", likerName, preview(postText)),
		Data: map[string]string{
			"type":     KindLike,
			"postText": postText,
		},
	}
}

// CommentNotification builds the notification sent to a post's author when
// someone comments on it.
func CommentNotification(commenterName, commentText, postText string) *Notification {
	return &Notification{
		Kind:  KindComment,
		Title: "New Comment! 💬",
		Body:  fmt.Sprintf("%s commented on your post: \"%s\"", commenterName, preview(commentText)),
		Data: map[string]string{
			"type":        KindComment,
			"commentText": commentText,
			"postText":    postText,
		},
	}
}
