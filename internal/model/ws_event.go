package model

import "encoding/json"

// Inbound event types.
const (
	EventAuth          = "auth"
	EventRegister      = "register"
	EventJoinChannel   = "joinChannel"
	EventMessage       = "message"
	EventFile          = "file"
	EventDeleteMessage = "deleteMessage"
	EventCreateChannel = "createChannel"
	EventPrivateChat   = "privateChat"
	EventCommand       = "command"
	EventLogout        = "logout"
	EventPing          = "ping"
)

// Outbound-only event types.
const (
	EventMessageDeleted = "messageDeleted"
	EventChannelCreated = "channelCreated"
	EventChannelDeleted = "channelDeleted"
	EventHistory        = "history"
	EventPong           = "pong"
	EventError          = "error"
)

// WSEvent is the envelope every frame carries. Payload fields live next to
// the discriminator, so the raw frame is decoded a second time into the
// payload type selected by Type.
type WSEvent struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func ParseWSEvent(data []byte) (*WSEvent, error) {
	var ev WSEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	ev.Raw = data
	return &ev, nil
}

// Decode unmarshals the full frame into v.
func (e *WSEvent) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

type AuthPayload struct {
	SessionToken string `json:"sessionToken"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

type RegisterPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type JoinChannelPayload struct {
	Channel string `json:"channel"`
}

type MessagePayload struct {
	Channel   string `json:"channel"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type FilePayload struct {
	Channel  string `json:"channel"`
	Filename string `json:"filename"`
	FileData string `json:"fileData"`
}

type DeleteMessagePayload struct {
	Channel   string `json:"channel"`
	MessageID int64  `json:"messageId"`
}

type CreateChannelPayload struct {
	ChannelName string `json:"channelName"`
}

type PrivateChatPayload struct {
	TargetUser string `json:"targetUser"`
}

type AuthResult struct {
	Type         string `json:"type"`
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Username     string `json:"username,omitempty"`
	Role         Role   `json:"role,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
}

// StatusResult answers register and logout.
type StatusResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type MessageEvent struct {
	Type      string `json:"type"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Channel   string `json:"channel,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type FileEvent struct {
	Type      string `json:"type"`
	FileID    string `json:"fileId"`
	Filename  string `json:"filename"`
	Author    string `json:"author"`
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	Channel   string `json:"channel"`
}

type ChannelEvent struct {
	Type        string      `json:"type"`
	ChannelName string      `json:"channelName"`
	Kind        ChannelKind `json:"kind"`
}

type HistoryEvent struct {
	Type     string    `json:"type"`
	Channel  string    `json:"channel"`
	Messages []Message `json:"messages"`
}

type PongEvent struct {
	Type string `json:"type"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type WSAnnounce struct {
	Message string `json:"message"`
}

// Reconciliation is the delta a polling client applies to its last-N view.
type Reconciliation struct {
	ToAdd    []Message `json:"toAdd"`
	ToRemove []int64   `json:"toRemove"`
}

type ReconcileRequest struct {
	Known []int64 `json:"known"`
}
