package preferences

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelApp   Channel = "app"
	ChannelSMS   Channel = "sms"
)

var (
	ErrInvalidChannel = errors.New("channel must be one of email, app, sms")
	ErrInvalidEvent   = errors.New("event must be a lowercase identifier")
	ErrInvalidProfile = errors.New("profile update must be a JSON object")
	ErrInvalidAvatar  = errors.New("picture must be a JPEG, PNG or WebP image")
	ErrAvatarTooLarge = errors.New("picture must be 5 MB or smaller")
)

var eventPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelApp, ChannelSMS:
		return true
	}
	return false
}

// NotificationSettings maps channel to event type to enabled.
type NotificationSettings map[Channel]map[string]bool

// Validate checks every channel and event key.
func (s NotificationSettings) Validate() error {
	for ch, events := range s {
		if !ch.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
		}
		for ev := range events {
			if !eventPattern.MatchString(ev) {
				return fmt.Errorf("%w: %q", ErrInvalidEvent, ev)
			}
		}
	}
	return nil
}

// Set enables or disables one event on one channel.
func (s NotificationSettings) Set(ch Channel, event string, enabled bool) {
	if s[ch] == nil {
		s[ch] = map[string]bool{}
	}
	s[ch][event] = enabled
}

// Toggle is a single-preference change.
type Toggle struct {
	Channel Channel `json:"channel"`
	Event   string  `json:"event"`
	Enabled bool    `json:"enabled"`
}

func (t Toggle) Validate() error {
	if !t.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, t.Channel)
	}
	if !eventPattern.MatchString(t.Event) {
		return fmt.Errorf("%w: %q", ErrInvalidEvent, t.Event)
	}
	return nil
}

// Profile is the backend profile object, relayed without interpretation.
type Profile = json.RawMessage

// MaxAvatarSize is the largest accepted profile picture in bytes.
const MaxAvatarSize = 5 << 20

var avatarTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// readOnlyProfileFields may not be changed through a profile update.
var readOnlyProfileFields = []string{
	"id",
	"role",
	"email_verified",
	"two_factor_enabled",
	"is_staff",
	"is_superuser",
}
