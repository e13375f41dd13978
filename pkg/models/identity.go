package models

import "time"

// App is a registered client application identified by an API key.
type App struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"-"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserProfile is a per-app end user, created lazily on first sight.
type UserProfile struct {
	ID         string    `json:"id"`
	AppID      string    `json:"app_id"`
	ExternalID string    `json:"external_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuthContext is the resolved identity for a request. User is nil when the
// caller did not send X-User-Id.
type AuthContext struct {
	App  *App
	User *UserProfile
}

// UserID returns the external user id or "" for app-wide requests.
func (a *AuthContext) UserID() string {
	if a == nil || a.User == nil {
		return ""
	}
	return a.User.ExternalID
}

// AppID returns the app id or "" when unauthenticated.
func (a *AuthContext) AppID() string {
	if a == nil || a.App == nil {
		return ""
	}
	return a.App.ID
}
