package session

// Layout names the keys a storage domain uses for auth state. Empty names are
// not persisted.
type Layout struct {
	AccessToken  string
	RefreshToken string
	Profile      string
	Expiry       string

	// Per-field profile mirrors
	ProfileEmail string
	ProfileName  string
	ProfileID    string
}

// ExtensionLayout is the key layout of extension storage.
var ExtensionLayout = Layout{
	AccessToken:  "authToken",
	RefreshToken: "refreshToken",
	Profile:      "user",
	Expiry:       "tokenExpiry",
}

// PageLayout is the key layout of the web app's local storage.
var PageLayout = Layout{
	AccessToken:  "sider_access_token",
	RefreshToken: "sider_refresh_token",
	Profile:      "sider_user_profile",
	Expiry:       "sider_token_expiry",
	ProfileEmail: "sider_user_email",
	ProfileName:  "sider_user_name",
	ProfileID:    "sider_user_id",
}

// Keys returns every key of the layout.
func (l Layout) Keys() []string {
	var keys []string
	for _, k := range []string{
		l.AccessToken, l.RefreshToken, l.Profile, l.Expiry,
		l.ProfileEmail, l.ProfileName, l.ProfileID,
	} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// MirrorKeys returns the per-field profile mirror keys.
func (l Layout) MirrorKeys() []string {
	var keys []string
	for _, k := range []string{l.ProfileEmail, l.ProfileName, l.ProfileID} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ProfileMirrors returns the per-field mirror values for p. Empty fields map
// to "" so callers can delete them.
func (l Layout) ProfileMirrors(p UserProfile) map[string]string {
	values := make(map[string]string)
	if l.ProfileEmail != "" {
		values[l.ProfileEmail] = p.Email
	}
	if l.ProfileName != "" {
		values[l.ProfileName] = p.DisplayName()
	}
	if l.ProfileID != "" {
		values[l.ProfileID] = p.ID
	}
	return values
}
