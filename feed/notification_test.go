package feed

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLikeNotification(t *testing.T) {
	got := LikeNotification("Ann", "short post")
	want := &Notification{
		Kind:  KindLike,
		Title: "New Like! ❤️",
		Body:  `Ann liked your post: "short post"`,
		Data: map[string]string{
			"type":     "like",
			"postText": "short post",
		},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Bad notification; diff (-got +want)\n%s", diff)
	}
}

func TestCommentNotificationTruncates(t *testing.T) {
	comment := strings.Repeat("é", 60)
	got := CommentNotification("Bob", comment, "post")

	wantBody := `Bob commented on your post: "` + strings.Repeat("é", 50) + `..."`
	if got.Body != wantBody {
		t.Errorf("Bad body; got %q, want %q", got.Body, wantBody)
	}
	if got.Data["commentText"] != comment {
		t.Errorf("Data should carry the full comment; got %q", got.Data["commentText"])
	}
	if got.Title != "New Comment! 💬" {
		t.Errorf("Bad title %q", got.Title)
	}
}

func TestPreview(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{strings.Repeat("a", 50), strings.Repeat("a", 50)},
		{strings.Repeat("a", 51), strings.Repeat("a", 50) + "..."},
	}
	for _, tc := range testCases {
		if got := preview(tc.in); got != tc.want {
			t.Errorf("preview(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUserNames(t *testing.T) {
	testCases := []struct {
		user      User
		wantName  string
		wantShort string
	}{
		{User{DisplayName: "Ann", Email: "ann@example.com"}, "Ann", "Ann"},
		{User{Email: "ann@example.com"}, "ann@example.com", "ann"},
		{User{}, "User", "User"},
	}
	for _, tc := range testCases {
		if got := tc.user.Name(); got != tc.wantName {
			t.Errorf("%+v.Name() = %q, want %q", tc.user, got, tc.wantName)
		}
		if got := tc.user.ShortName(); got != tc.wantShort {
			t.Errorf("%+v.ShortName() = %q, want %q", tc.user, got, tc.wantShort)
		}
	}
}
