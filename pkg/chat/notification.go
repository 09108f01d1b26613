package chat

import (
	"strconv"
	"time"
)

// Notification actions sent to the client channel.
const (
	NotifyNewToken      = "llm_new_token"
	NotifyFinalResponse = "final_response"
	NotifyHeartbeat     = "heartbeat"
	NotifyError         = "error"
)

const (
	notificationType = "text"
	directionOut     = "OUT"
)

// Notification is one structured event delivered to the client channel.
type Notification struct {
	Type       string   `json:"type"`
	Action     string   `json:"action"`
	Direction  string   `json:"direction,omitempty"`
	UserID     string   `json:"userId"`
	Timestamp  string   `json:"timestamp"`
	UserGroups []string `json:"userGroups,omitempty"`
	Data       any      `json:"data"`
}

// TokenData is the data section of an llm_new_token notification.
type TokenData struct {
	SessionID string `json:"sessionId"`
	Token     Token  `json:"token"`
}

// Token carries one streamed text fragment and its position in the run.
type Token struct {
	RunID          string `json:"runId"`
	SequenceNumber int    `json:"sequenceNumber"`
	Value          string `json:"value"`
}

// SessionData is the data section of a heartbeat notification.
type SessionData struct {
	SessionID string `json:"sessionId"`
}

// ErrorData is the data section of an error notification. Content is always
// a fixed, client-safe message.
type ErrorData struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Type      string `json:"type"`
}

// Clock returns the time used for notification timestamps.
type Clock func() time.Time

// Timestamp renders unix seconds as a string, rounded to the nearest second.
func Timestamp(now time.Time) string {
	return strconv.FormatInt(now.Round(time.Second).Unix(), 10)
}

// NewTokenNotification builds an llm_new_token event.
func NewTokenNotification(now time.Time, userID, sessionID string, token Token) Notification {
	return Notification{
		Type:      notificationType,
		Action:    NotifyNewToken,
		UserID:    userID,
		Timestamp: Timestamp(now),
		Data:      TokenData{SessionID: sessionID, Token: token},
	}
}

// NewHeartbeatNotification builds a heartbeat event carrying only the session id.
func NewHeartbeatNotification(now time.Time, userID, sessionID string) Notification {
	return Notification{
		Type:      notificationType,
		Action:    NotifyHeartbeat,
		UserID:    userID,
		Timestamp: Timestamp(now),
		Data:      SessionData{SessionID: sessionID},
	}
}

// NewFinalResponseNotification builds the terminal event for a successful run.
func NewFinalResponseNotification(now time.Time, userID string, userGroups []string, response any) Notification {
	return Notification{
		Type:       notificationType,
		Action:     NotifyFinalResponse,
		UserID:     userID,
		Timestamp:  Timestamp(now),
		UserGroups: userGroups,
		Data:       response,
	}
}

// NewErrorNotification builds the terminal event for a failed run.
func NewErrorNotification(now time.Time, userID, sessionID, content string) Notification {
	return Notification{
		Type:      notificationType,
		Action:    NotifyError,
		Direction: directionOut,
		UserID:    userID,
		Timestamp: Timestamp(now),
		Data: ErrorData{
			SessionID: sessionID,
			Content:   content,
			Type:      notificationType,
		},
	}
}
