package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"unicode"

	"github.com/yukihoshiii/zfh-project/internal/model"
	"github.com/yukihoshiii/zfh-project/internal/repository"

	"github.com/google/uuid"
)

// MaxFileSize is the largest decoded attachment accepted.
const MaxFileSize = 5 << 20

const maxFilenameLen = 255

// Notifier receives chat activity after it has been stored and fanned out.
// Implementations must not block.
type Notifier interface {
	MessagePosted(channel string, msg model.Message)
	ChannelCreated(ch model.Channel)
}

type RouterConfig struct {
	HistoryLimit          int
	TrustClientTimestamps bool
	MaxFileSize           int
}

// Router validates inbound chat events, persists them and fans them out.
// The WebSocket transport feeds it frames; the REST handlers call the same
// exported operations so both paths share one set of rules.
type Router struct {
	hub      *WSHub
	channels *ChannelRegistry
	store    *Store
	auth     *AuthService
	blobs    repository.BlobRepository
	notifier Notifier
	cfg      RouterConfig
	rollDie  func() int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewRouter(hub *WSHub, channels *ChannelRegistry, store *Store, auth *AuthService, blobs repository.BlobRepository, cfg RouterConfig) *Router {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = MaxFileSize
	}
	return &Router{
		hub:      hub,
		channels: channels,
		store:    store,
		auth:     auth,
		blobs:    blobs,
		cfg:      cfg,
		rollDie:  rollPercentile,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetNotifier attaches an optional activity mirror.
func (r *Router) SetNotifier(n Notifier) {
	r.notifier = n
}

// HandleFrame processes one inbound frame. Frames from a single connection
// must be fed sequentially.
func (r *Router) HandleFrame(ctx context.Context, c *WSClient, data []byte) {
	ev, err := model.ParseWSEvent(data)
	if err != nil {
		r.replyError(c, fmt.Errorf("unparseable frame: %w", ErrMalformedInput))
		return
	}

	if err := r.dispatch(ctx, c, ev); err != nil {
		r.replyError(c, err)
	}
}

func (r *Router) dispatch(ctx context.Context, c *WSClient, ev *model.WSEvent) error {
	switch ev.Type {
	case model.EventAuth:
		return r.handleAuth(ctx, c, ev)
	case model.EventRegister:
		return r.handleRegister(ctx, c, ev)
	case model.EventJoinChannel:
		return r.handleJoin(c, ev)
	case model.EventMessage:
		return r.handleMessage(ctx, c, ev)
	case model.EventCommand:
		return r.handleCommandEvent(c, ev)
	case model.EventFile:
		return r.handleFile(ctx, c, ev)
	case model.EventDeleteMessage:
		return r.handleDelete(ctx, c, ev)
	case model.EventCreateChannel:
		return r.handleCreateChannel(ctx, c, ev)
	case model.EventPrivateChat:
		return r.handlePrivateChat(ctx, c, ev)
	case model.EventLogout:
		return r.handleLogout(c)
	case model.EventPing:
		return r.hub.SendTo(c, model.PongEvent{Type: model.EventPong})
	default:
		log.Printf("[Router] ignoring event type %q from %s", ev.Type, c.ID)
		return nil
	}
}

// ---- connection state ----

// Resume authenticates a connection with an existing session token.
func (r *Router) Resume(c *WSClient, token string) error {
	identity, err := r.auth.ValidateSession(token)
	if err != nil {
		return err
	}
	r.signIn(c, identity, token)
	return nil
}

func (r *Router) handleAuth(ctx context.Context, c *WSClient, ev *model.WSEvent) error {
	var p model.AuthPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("auth payload: %w", ErrMalformedInput)
	}

	var (
		identity model.Identity
		token    string
		err      error
	)
	if p.SessionToken != "" {
		token = p.SessionToken
		identity, err = r.auth.ValidateSession(token)
	} else {
		token, identity, err = r.auth.Login(ctx, &model.LoginRequest{Username: p.Username, Password: p.Password})
	}
	if err != nil {
		// The connection stays unauthenticated and may retry.
		return r.hub.SendTo(c, model.AuthResult{Type: model.EventAuth, Success: false, Message: err.Error()})
	}

	r.signIn(c, identity, token)
	return nil
}

func (r *Router) signIn(c *WSClient, identity model.Identity, token string) {
	r.hub.SetIdentity(c, identity, token)
	_ = r.hub.SendTo(c, model.AuthResult{
		Type:         model.EventAuth,
		Success:      true,
		Username:     identity.Username,
		Role:         identity.Role,
		SessionToken: token,
	})
	for _, ch := range r.channels.ListVisible(identity.Username) {
		_ = r.hub.SendTo(c, model.ChannelEvent{Type: model.EventChannelCreated, ChannelName: ch.Name, Kind: ch.Kind})
	}
}

func (r *Router) handleRegister(ctx context.Context, c *WSClient, ev *model.WSEvent) error {
	var p model.RegisterPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("register payload: %w", ErrMalformedInput)
	}

	result := model.StatusResult{Type: model.EventRegister, Success: true}
	if _, err := r.auth.Register(ctx, &model.RegisterRequest{Username: p.Username, Password: p.Password}); err != nil {
		result.Success = false
		result.Message = err.Error()
	}
	return r.hub.SendTo(c, result)
}

func (r *Router) handleJoin(c *WSClient, ev *model.WSEvent) error {
	var p model.JoinChannelPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("join payload: %w", ErrMalformedInput)
	}
	if err := r.hub.Join(c, p.Channel); err != nil {
		return err
	}
	return r.hub.SendTo(c, model.HistoryEvent{
		Type:     model.EventHistory,
		Channel:  p.Channel,
		Messages: r.store.ListLastN(p.Channel, r.cfg.HistoryLimit),
	})
}

func (r *Router) handleLogout(c *WSClient) error {
	if token := c.SessionToken(); token != "" {
		if err := r.auth.Logout(token); err != nil && !errors.Is(err, ErrInvalidToken) {
			return err
		}
	}
	r.hub.ClearIdentity(c)
	return r.hub.SendTo(c, model.StatusResult{Type: model.EventLogout, Success: true})
}

// joined returns the identity and channel of a connection that has joined one.
func joined(c *WSClient) (model.Identity, string, error) {
	identity, ok := c.Identity()
	if !ok {
		return model.Identity{}, "", ErrUnauthenticated
	}
	channel := c.Channel()
	if channel == "" {
		return model.Identity{}, "", fmt.Errorf("join a channel first: %w", ErrForbidden)
	}
	return identity, channel, nil
}

// targetChannel rejects frames that name a channel other than the joined one.
func targetChannel(joinedChannel, requested string) error {
	if requested != "" && requested != joinedChannel {
		return fmt.Errorf("channel %q is not the joined channel: %w", requested, ErrForbidden)
	}
	return nil
}

// ---- messages ----

func (r *Router) handleMessage(ctx context.Context, c *WSClient, ev *model.WSEvent) error {
	var p model.MessagePayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("message payload: %w", ErrMalformedInput)
	}
	identity, channel, err := joined(c)
	if err != nil {
		return err
	}
	if err := targetChannel(channel, p.Channel); err != nil {
		return err
	}

	text := strings.TrimSpace(p.Message)
	if text == "" {
		return fmt.Errorf("empty message: %w", ErrMalformedInput)
	}
	if strings.HasPrefix(text, commandPrefix) {
		return r.runCommand(c, identity, channel, text)
	}

	var ts int64
	if r.cfg.TrustClientTimestamps {
		ts = p.Timestamp
	}
	_, err = r.SendMessage(ctx, identity, channel, p.Message, ts)
	return err
}

func (r *Router) handleCommandEvent(c *WSClient, ev *model.WSEvent) error {
	var p model.MessagePayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("command payload: %w", ErrMalformedInput)
	}
	identity, channel, err := joined(c)
	if err != nil {
		return err
	}
	if err := targetChannel(channel, p.Channel); err != nil {
		return err
	}

	text := strings.TrimSpace(p.Message)
	if !strings.HasPrefix(text, commandPrefix) {
		text = commandPrefix + text
	}
	return r.runCommand(c, identity, channel, text)
}

// SendMessage appends a text message and pushes it to everyone in the channel.
// ts of zero lets the store assign the id.
func (r *Router) SendMessage(ctx context.Context, identity model.Identity, channel, content string, ts int64) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, fmt.Errorf("empty message: %w", ErrMalformedInput)
	}
	if err := r.channels.Visible(channel, identity.Username); err != nil {
		return model.Message{}, err
	}

	lock := r.channelLock(channel)
	lock.Lock()
	msg, err := r.store.AppendMessage(ctx, channel, model.Message{
		Author:    identity.Username,
		Content:   content,
		Timestamp: ts,
		Type:      model.MessageTypeText,
	})
	if err == nil {
		r.hub.Broadcast(model.MessageEvent{
			Type:      model.EventMessage,
			Author:    msg.Author,
			Content:   msg.Content,
			Channel:   channel,
			Timestamp: msg.Timestamp,
		}, channel)
	}
	lock.Unlock()
	if err != nil {
		return model.Message{}, err
	}

	if r.notifier != nil {
		r.notifier.MessagePosted(channel, msg)
	}
	return msg, nil
}

// ---- files ----

func (r *Router) handleFile(ctx context.Context, c *WSClient, ev *model.WSEvent) error {
	var p model.FilePayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("file payload: %w", ErrMalformedInput)
	}
	identity, channel, err := joined(c)
	if err != nil {
		return err
	}
	if err := targetChannel(channel, p.Channel); err != nil {
		return err
	}
	_, err = r.PostFile(ctx, identity, channel, p.Filename, p.FileData)
	return err
}

// PostFile stores an attachment under a fresh id and announces it. The size
// ceiling is checked on the encoded length before anything is decoded.
func (r *Router) PostFile(ctx context.Context, identity model.Identity, channel, filename, encoded string) (model.Message, error) {
	if err := r.channels.Visible(channel, identity.Username); err != nil {
		return model.Message{}, err
	}

	encoded = lineBreaks.Replace(stripDataURL(encoded))
	if size := decodedLen(encoded); size > r.cfg.MaxFileSize {
		return model.Message{}, fmt.Errorf("file is %d bytes, limit %d: %w", size, r.cfg.MaxFileSize, ErrPayloadTooLarge)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return model.Message{}, fmt.Errorf("file data is not base64: %w", ErrMalformedInput)
	}

	name := sanitizeFilename(filename)
	fileID := uuid.NewString()
	if err := r.blobs.Put(ctx, fileID, data); err != nil {
		return model.Message{}, fmt.Errorf("store attachment: %w", err)
	}

	lock := r.channelLock(channel)
	lock.Lock()
	msg, err := r.store.AppendMessage(ctx, channel, model.Message{
		Author:  identity.Username,
		Content: model.FileContent(fileID, name),
		Type:    model.MessageTypeFile,
	})
	if err == nil {
		r.hub.Broadcast(model.FileEvent{
			Type:      model.EventFile,
			FileID:    fileID,
			Filename:  name,
			Author:    msg.Author,
			Channel:   channel,
			Timestamp: msg.Timestamp,
		}, channel)
	}
	lock.Unlock()
	if err != nil {
		r.removeBlob(ctx, fileID)
		return model.Message{}, err
	}

	if r.notifier != nil {
		r.notifier.MessagePosted(channel, msg)
	}
	return msg, nil
}

// OpenFile returns attachment bytes. Attachments of deleted messages are gone.
func (r *Router) OpenFile(ctx context.Context, fileID string) ([]byte, error) {
	data, err := r.blobs.Get(ctx, fileID)
	if errors.Is(err, repository.ErrBlobNotFound) {
		return nil, fmt.Errorf("file %q: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

func (r *Router) removeBlob(ctx context.Context, fileID string) {
	if err := r.blobs.Delete(ctx, fileID); err != nil {
		log.Printf("[Router] orphaned attachment %s, remove manually: %v", fileID, err)
	}
}

// lineBreaks are skipped by the base64 decoder, so they must not count towards the size.
var lineBreaks = strings.NewReplacer("\r", "", "\n", "")

func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if _, rest, ok := strings.Cut(s, ","); ok {
			return rest
		}
	}
	return s
}

// decodedLen is the byte length the standard base64 encoding s decodes to.
func decodedLen(s string) int {
	n := len(s)
	pad := 0
	for pad < 2 && n-pad > 0 && s[n-pad-1] == '=' {
		pad++
	}
	return n/4*3 + (n%4)*3/4 - pad
}

// sanitizeFilename keeps a display name only: no directories, no control characters.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "file"
	}
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	return name
}

// ---- deletion ----

func (r *Router) handleDelete(ctx context.Context, c *WSClient, ev *model.WSEvent) error {
	var p model.DeleteMessagePayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("delete payload: %w", ErrMalformedInput)
	}
	identity, channel, err := joined(c)
	if err != nil {
		return err
	}
	if err := targetChannel(channel, p.Channel); err != nil {
		return err
	}
	_, err = r.DeleteMessage(ctx, identity, channel, p.MessageID)
	return err
}

// DeleteMessage removes a message the caller wrote, or any message for an
// admin, then drops its attachment. Attachment removal never fails the delete.
func (r *Router) DeleteMessage(ctx context.Context, identity model.Identity, channel string, id int64) (model.Message, error) {
	if err := r.channels.Visible(channel, identity.Username); err != nil {
		return model.Message{}, err
	}

	lock := r.channelLock(channel)
	lock.Lock()
	msg, err := r.store.DeleteMessageIf(ctx, channel, id, func(m model.Message) error {
		if m.Author != identity.Username && !identity.IsAdmin() {
			return fmt.Errorf("only the author or an admin can delete this message: %w", ErrForbidden)
		}
		return nil
	})
	if err == nil {
		r.hub.Broadcast(model.MessageDeletedEvent{
			Type:      model.EventMessageDeleted,
			MessageID: msg.Timestamp,
			Channel:   channel,
		}, channel)
	}
	lock.Unlock()
	if err != nil {
		return model.Message{}, err
	}

	if msg.Type == model.MessageTypeFile {
		if fileID, _, ok := msg.FileRef(); ok {
			r.removeBlob(ctx, fileID)
		}
	}
	return msg, nil
}

// ---- channels ----

func (r *Router) handleCreateChannel(ctx context.Context, c *WSClient, ev *model.WSEvent) error {
	var p model.CreateChannelPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("createChannel payload: %w", ErrMalformedInput)
	}
	identity, ok := c.Identity()
	if !ok {
		return ErrUnauthenticated
	}
	_, err := r.CreateChannel(ctx, identity, p.ChannelName)
	return err
}

// CreateChannel adds a public channel and announces it once it is stored.
func (r *Router) CreateChannel(ctx context.Context, identity model.Identity, name string) (model.Channel, error) {
	ch, err := r.channels.Create(ctx, name, identity)
	if err != nil {
		return model.Channel{}, err
	}
	r.announceChannel(ch)
	return ch, nil
}

func (r *Router) handlePrivateChat(ctx context.Context, c *WSClient, ev *model.WSEvent) error {
	var p model.PrivateChatPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("privateChat payload: %w", ErrMalformedInput)
	}
	identity, ok := c.Identity()
	if !ok {
		return ErrUnauthenticated
	}
	ch, created, err := r.OpenPrivateChat(ctx, identity, p.TargetUser)
	if err != nil {
		return err
	}
	if !created {
		// Already announced earlier; remind the requester only.
		return r.hub.SendTo(c, model.ChannelEvent{Type: model.EventChannelCreated, ChannelName: ch.Name, Kind: ch.Kind})
	}
	return nil
}

// OpenPrivateChat returns the pairwise channel, creating and announcing it
// to both participants the first time.
func (r *Router) OpenPrivateChat(ctx context.Context, identity model.Identity, target string) (model.Channel, bool, error) {
	ch, created, err := r.channels.CreatePrivate(ctx, identity, target)
	if err != nil {
		return model.Channel{}, false, err
	}
	if created {
		r.announceChannel(ch)
	}
	return ch, created, nil
}

func (r *Router) announceChannel(ch model.Channel) {
	r.hub.BroadcastVisible(model.ChannelEvent{
		Type:        model.EventChannelCreated,
		ChannelName: ch.Name,
		Kind:        ch.Kind,
	}, ch.Name)
	if r.notifier != nil {
		r.notifier.ChannelCreated(ch)
	}
}

// Announce pushes a System message to every open connection. Not persisted.
func (r *Router) Announce(text string) int {
	return r.hub.BroadcastAll(model.MessageEvent{
		Type:    model.EventMessage,
		Author:  model.SystemAuthor,
		Content: text,
	})
}

// ---- helpers ----

func (r *Router) channelLock(channel string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.locks[channel]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[channel] = lock
	}
	return lock
}

func (r *Router) replyError(c *WSClient, err error) {
	code := ErrorCode(err)
	message := err.Error()
	if code == "internal" {
		log.Printf("[Router] %s: %v", c.ID, err)
		message = "internal error"
	}
	_ = r.hub.SendTo(c, model.ErrorEvent{Type: model.EventError, Code: code, Message: message})
}
