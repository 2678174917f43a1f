package model

import (
	"sort"
	"strings"
)

// PrivateSeparator joins the two usernames of a private pairwise channel.
const PrivateSeparator = "-"

// FilePrefix marks message content that references a stored attachment:
// FILE:<fileId>:<originalName>
const FilePrefix = "FILE:"

// SystemAuthor is the author of ephemeral command replies and announcements.
const SystemAuthor = "System"

type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
)

// Channel is a named message stream. Its kind is derived from the name.
type Channel struct {
	Name string      `json:"name"`
	Kind ChannelKind `json:"kind"`
}

func NewChannel(name string) Channel {
	return Channel{Name: name, Kind: KindOf(name)}
}

func KindOf(name string) ChannelKind {
	if strings.Contains(name, PrivateSeparator) {
		return ChannelPrivate
	}
	return ChannelPublic
}

// PrivateChannelName returns the order-independent identifier for a two-party chat.
func PrivateChannelName(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, PrivateSeparator)
}

// Participants splits a private channel name into its two usernames.
// ok is false for public channels.
func Participants(name string) (first, second string, ok bool) {
	first, second, ok = strings.Cut(name, PrivateSeparator)
	return first, second, ok
}

// VisibleTo reports whether username may see the channel.
func VisibleTo(name, username string) bool {
	first, second, private := Participants(name)
	if !private {
		return true
	}
	return username != "" && (first == username || second == username)
}

// Message is one stored chat line. Timestamp doubles as the id within its channel.
type Message struct {
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type,omitempty"`
}

const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

func (m Message) IsFile() bool {
	return strings.HasPrefix(m.Content, FilePrefix)
}

// FileRef decodes the attachment reference of a file message.
func (m Message) FileRef() (fileID, filename string, ok bool) {
	return ParseFileContent(m.Content)
}

func FileContent(fileID, filename string) string {
	return FilePrefix + fileID + ":" + filename
}

func ParseFileContent(content string) (fileID, filename string, ok bool) {
	rest, found := strings.CutPrefix(content, FilePrefix)
	if !found {
		return "", "", false
	}
	fileID, filename, ok = strings.Cut(rest, ":")
	if !ok || fileID == "" {
		return "", "", false
	}
	return fileID, filename, true
}
