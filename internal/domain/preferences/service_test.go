package preferences

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	settings  NotificationSettings
	getErr    error
	saveErr   error
	saved     NotificationSettings
	saveCalls int
	profile   Profile
	patch     map[string]interface{}
	avatar    []byte
	avatarErr error
}

func (m *mockRepo) GetNotificationSettings(_ context.Context) (NotificationSettings, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	// Hand out a copy so mutations are only visible through Save.
	out := NotificationSettings{}
	for ch, evs := range m.settings {
		out[ch] = map[string]bool{}
		for k, v := range evs {
			out[ch][k] = v
		}
	}
	return out, nil
}

func (m *mockRepo) SaveNotificationSettings(_ context.Context, s NotificationSettings) (NotificationSettings, error) {
	m.saveCalls++
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.saved = s
	m.settings = s
	return s, nil
}

func (m *mockRepo) GetProfile(_ context.Context) (Profile, error) {
	return m.profile, nil
}

func (m *mockRepo) UpdateProfile(_ context.Context, patch map[string]interface{}) (Profile, error) {
	m.patch = patch
	b, _ := json.Marshal(patch)
	return Profile(b), nil
}

func (m *mockRepo) UploadAvatar(_ context.Context, filename string, content io.Reader) (Profile, error) {
	if m.avatarErr != nil {
		return nil, m.avatarErr
	}
	m.avatar, _ = io.ReadAll(content)
	return Profile(`{"avatar":"/media/` + filename + `"}`), nil
}

type mockUsers struct {
	calls int
	err   error
}

func (m *mockUsers) CurrentUser(_ context.Context, tabID string) (*auth.User, error) {
	m.calls++
	return &auth.User{ID: "u-1"}, m.err
}

func TestToggleNotification_FetchMutateSave(t *testing.T) {
	repo := &mockRepo{settings: NotificationSettings{
		ChannelEmail: {"appointment_reminder": true, "lab_result": true},
		ChannelSMS:   {"appointment_reminder": false},
	}}
	svc := NewService(repo, nil, zerolog.Nop())

	out, err := svc.ToggleNotification(context.Background(), Toggle{Channel: ChannelSMS, Event: "appointment_reminder", Enabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out[ChannelSMS]["appointment_reminder"] {
		t.Error("toggle not applied")
	}
	if !repo.saved[ChannelEmail]["lab_result"] || !repo.saved[ChannelEmail]["appointment_reminder"] {
		t.Error("the whole map must be saved, untouched entries included")
	}
}

func TestToggleNotification_NewChannel(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, nil, zerolog.Nop())

	if _, err := svc.ToggleNotification(context.Background(), Toggle{Channel: ChannelApp, Event: "message", Enabled: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.saved[ChannelApp]["message"] {
		t.Errorf("expected app/message enabled, got %v", repo.saved)
	}
}

func TestToggleNotification_Validation(t *testing.T) {
	tests := []struct {
		name   string
		toggle Toggle
		want   error
	}{
		{"unknown channel", Toggle{Channel: "fax", Event: "message"}, ErrInvalidChannel},
		{"empty event", Toggle{Channel: ChannelEmail}, ErrInvalidEvent},
		{"bad event", Toggle{Channel: ChannelEmail, Event: "Lab Result"}, ErrInvalidEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepo{}
			svc := NewService(repo, nil, zerolog.Nop())
			if _, err := svc.ToggleNotification(context.Background(), tt.toggle); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if repo.saveCalls != 0 {
				t.Error("invalid toggles must not be saved")
			}
		})
	}
}

func TestToggleNotification_FetchErrorSkipsSave(t *testing.T) {
	repo := &mockRepo{getErr: errors.New("backend down")}
	svc := NewService(repo, nil, zerolog.Nop())
	if _, err := svc.ToggleNotification(context.Background(), Toggle{Channel: ChannelEmail, Event: "message"}); err == nil {
		t.Fatal("expected error")
	}
	if repo.saveCalls != 0 {
		t.Error("must not save after a failed fetch")
	}
}

func TestSaveNotificationSettings_RejectsUnknownChannel(t *testing.T) {
	svc := NewService(&mockRepo{}, nil, zerolog.Nop())
	_, err := svc.SaveNotificationSettings(context.Background(), NotificationSettings{"pager": {"message": true}})
	if !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestUpdateProfile_StripsReadOnlyFields(t *testing.T) {
	repo := &mockRepo{}
	users := &mockUsers{}
	svc := NewService(repo, users, zerolog.Nop())

	_, err := svc.UpdateProfile(context.Background(), "tab-12345678", map[string]interface{}{
		"first_name": "Ada",
		"role":       "admin",
		"id":         "someone-else",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.patch["role"]; ok {
		t.Error("role must not be relayed")
	}
	if _, ok := repo.patch["id"]; ok {
		t.Error("id must not be relayed")
	}
	if repo.patch["first_name"] != "Ada" {
		t.Errorf("unexpected patch %v", repo.patch)
	}
	if users.calls != 1 {
		t.Error("cached user should be refreshed")
	}
}

func TestUpdateProfile_RefreshFailureIsNotFatal(t *testing.T) {
	svc := NewService(&mockRepo{}, &mockUsers{err: errors.New("boom")}, zerolog.Nop())
	if _, err := svc.UpdateProfile(context.Background(), "tab-12345678", map[string]interface{}{"phone": "555"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUploadAvatar(t *testing.T) {
	repo := &mockRepo{}
	users := &mockUsers{}
	svc := NewService(repo, users, zerolog.Nop())

	p, err := svc.UploadAvatar(context.Background(), "tab-1", "me.png", pngHeader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(repo.avatar, pngHeader) {
		t.Error("picture must reach the backend unchanged")
	}
	if string(p) != `{"avatar":"/media/me.png"}` {
		t.Errorf("unexpected profile %s", p)
	}
	if users.calls != 1 {
		t.Errorf("expected cached user refresh, got %d calls", users.calls)
	}
}

func TestUploadAvatar_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    error
	}{
		{"empty", nil, ErrInvalidAvatar},
		{"not an image", []byte("<html><body>hi</body></html>"), ErrInvalidAvatar},
		{"too large", append(append([]byte{}, pngHeader...), make([]byte, MaxAvatarSize)...), ErrAvatarTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepo{}
			svc := NewService(repo, nil, zerolog.Nop())
			if _, err := svc.UploadAvatar(context.Background(), "tab-1", "x", tt.content); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if repo.avatar != nil {
				t.Error("backend must not be called")
			}
		})
	}
}
