package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// TimingPushOnly disables the countdown; the modal only opens on a push.
const TimingPushOnly = -1

// MacModalSettings controls when the admin modal opens for one user.
type MacModalSettings struct {
	UserID        string `json:"user_id" gorm:"primaryKey;size:128"`
	DisplayName   string `json:"mac_user_name" gorm:"size:128"`
	TimingSeconds int    `json:"mac_modal_timing"`
}

// PushOnly reports whether the settings rely on push signals alone.
func (s MacModalSettings) PushOnly() bool {
	return s.TimingSeconds < 0
}

// PushPayload is the body of a showMacModal event. Every field is optional.
type PushPayload struct {
	Message   string `json:"message,omitempty"`
	UserID    UserID `json:"user_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Text      string `json:"text,omitempty"`
	Timing    *int   `json:"timing,omitempty"`
}

// UserID accepts both JSON strings and numbers; backends disagree on the type.
type UserID string

func (u *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*u = UserID(n.String())
	return nil
}
