package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Settings sections stored under userSettings/<uid>.
const (
	SettingsNotifications = "notifications"
	SettingsPrivacy       = "privacy"
	SettingsBilling       = "billing"
	SettingsPreferences   = "preferences"
)

type NotificationSettings struct {
	Email          bool   `json:"email"`
	Push           bool   `json:"push"`
	PushToken      string `json:"pushToken,omitempty"`
	NewMessages    bool   `json:"newMessages"`
	NewSubscribers bool   `json:"newSubscribers"`
	ManagerInvites bool   `json:"managerInvites"`
	Marketing      bool   `json:"marketing"`
}

type PrivacySettings struct {
	ProfileVisibility string `json:"profileVisibility,omitempty"` // public|subscribers|private
	ShowOnlineStatus  bool   `json:"showOnlineStatus"`
	AllowMessagesFrom string `json:"allowMessagesFrom,omitempty"` // everyone|subscribers|none
}

type BillingSettings struct {
	PayoutMethod string `json:"payoutMethod,omitempty"` // bank|paypal|stripe
	PayoutEmail  string `json:"payoutEmail,omitempty"`
	Currency     string `json:"currency,omitempty"`
	TaxID        string `json:"taxId,omitempty"`
}

type PreferenceSettings struct {
	Language string `json:"language,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Theme    string `json:"theme,omitempty"` // light|dark|system
}

type UserSettings struct {
	UserID        string               `json:"userId"`
	Notifications NotificationSettings `json:"notifications"`
	Privacy       PrivacySettings      `json:"privacy"`
	Billing       BillingSettings      `json:"billing"`
	Preferences   PreferenceSettings   `json:"preferences"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

func IsSettingsSection(s string) bool {
	switch s {
	case SettingsNotifications, SettingsPrivacy, SettingsBilling, SettingsPreferences:
		return true
	}
	return false
}

// DecodeSettingsSection strictly decodes one section body and returns its
// canonical field map, ready to be written into the settings document.
func DecodeSettingsSection(section string, raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var v any
	switch section {
	case SettingsNotifications:
		var s NotificationSettings
		if err := dec.Decode(&s); err != nil {
			return nil, &FieldError{Field: section, Reason: err.Error()}
		}
		v = s
	case SettingsPrivacy:
		var s PrivacySettings
		if err := dec.Decode(&s); err != nil {
			return nil, &FieldError{Field: section, Reason: err.Error()}
		}
		if !oneOf(s.ProfileVisibility, "", "public", "subscribers", "private") {
			return nil, &FieldError{Field: "profileVisibility", Reason: "must be public, subscribers or private"}
		}
		if !oneOf(s.AllowMessagesFrom, "", "everyone", "subscribers", "none") {
			return nil, &FieldError{Field: "allowMessagesFrom", Reason: "must be everyone, subscribers or none"}
		}
		v = s
	case SettingsBilling:
		var s BillingSettings
		if err := dec.Decode(&s); err != nil {
			return nil, &FieldError{Field: section, Reason: err.Error()}
		}
		if !oneOf(s.PayoutMethod, "", "bank", "paypal", "stripe") {
			return nil, &FieldError{Field: "payoutMethod", Reason: "must be bank, paypal or stripe"}
		}
		v = s
	case SettingsPreferences:
		var s PreferenceSettings
		if err := dec.Decode(&s); err != nil {
			return nil, &FieldError{Field: section, Reason: err.Error()}
		}
		if !oneOf(s.Theme, "", "light", "dark", "system") {
			return nil, &FieldError{Field: "theme", Reason: "must be light, dark or system"}
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return nil, &FieldError{Field: "timezone", Reason: "unknown time zone"}
			}
		}
		v = s
	default:
		return nil, &FieldError{Field: "section", Reason: fmt.Sprintf("unknown settings section %q", section)}
	}

	// Only keep the keys the caller actually sent, in canonical form.
	var sent map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sent); err != nil {
		return nil, &FieldError{Field: section, Reason: err.Error()}
	}
	b, _ := json.Marshal(v)
	var full map[string]any
	_ = json.Unmarshal(b, &full)
	out := make(map[string]any, len(sent))
	for k := range sent {
		if val, ok := full[k]; ok {
			out[k] = val
		}
	}
	return out, nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
