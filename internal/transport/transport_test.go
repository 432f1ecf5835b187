package transport

import "testing"

func TestNewLoginAnnouncement(t *testing.T) {
	a := NewLoginAnnouncement("user-1", "session_1_aaa")

	if a.Type != TypeNewLogin {
		t.Errorf("Type = %q, want %q", a.Type, TypeNewLogin)
	}
	if a.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", a.UserID)
	}
	if a.SessionID != "session_1_aaa" {
		t.Errorf("SessionID = %q, want session_1_aaa", a.SessionID)
	}
	if a.Timestamp == 0 {
		t.Error("Timestamp not set")
	}
}

func TestAnnouncementValid(t *testing.T) {
	tests := []struct {
		name string
		a    Announcement
		want bool
	}{
		{
			name: "complete",
			a:    Announcement{Type: TypeNewLogin, UserID: "u", SessionID: "s"},
			want: true,
		},
		{
			name: "wrong type",
			a:    Announcement{Type: "LOGOUT", UserID: "u", SessionID: "s"},
			want: false,
		},
		{
			name: "missing type",
			a:    Announcement{UserID: "u", SessionID: "s"},
			want: false,
		},
		{
			name: "missing user",
			a:    Announcement{Type: TypeNewLogin, SessionID: "s"},
			want: false,
		},
		{
			name: "missing session",
			a:    Announcement{Type: TypeNewLogin, UserID: "u"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
