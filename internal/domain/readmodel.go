package domain

import "time"

// Profile is a conversation as rendered in an inbox: the pairing plus the
// counterpart's public card. Avatar, Website and AccountStatus are empty when
// the account system has no matching profile row.
type Profile struct {
	ConversationID  string    `json:"conversationId"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	CounterpartID   string    `json:"counterpartId"`
	CounterpartType Role      `json:"counterpartType"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar,omitempty"`
	Website         string    `json:"website,omitempty"`
	AccountStatus   string    `json:"accountStatus,omitempty"`
}
