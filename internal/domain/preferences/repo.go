package preferences

import (
	"context"
	"io"
)

// Repository reads and writes the user's settings on the backend.
type Repository interface {
	GetNotificationSettings(ctx context.Context) (NotificationSettings, error)
	SaveNotificationSettings(ctx context.Context, s NotificationSettings) (NotificationSettings, error)
	GetProfile(ctx context.Context) (Profile, error)
	UpdateProfile(ctx context.Context, patch map[string]interface{}) (Profile, error)
	UploadAvatar(ctx context.Context, filename string, content io.Reader) (Profile, error)
}
