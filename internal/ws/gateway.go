package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"social-events/internal/apperrors"
	"social-events/internal/models"
	"social-events/internal/observability"
	"social-events/internal/repositories"
)

var (
	ErrNotParticipant   = errors.New("not a participant of this chat")
	ErrEmptyBody        = errors.New("message body is empty")
	ErrBodyTooLong      = errors.New("message body is too long")
	ErrInvalidReceiver  = errors.New("receiver is not a participant of this chat")
	ErrMessageNotOwned  = errors.New("message not found or not sent by you")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Notifier hands notification events to the notification pipeline.
// Implementations must not block.
type Notifier interface {
	Publish(ctx context.Context, event models.NotificationEvent)
}

type GatewayConfig struct {
	StoreTimeout time.Duration
	MaxBodyRunes int
}

// Gateway authorizes, persists and fans out chat events.
type Gateway struct {
	registry *Registry
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	notifier Notifier
	cfg      GatewayConfig
	log      zerolog.Logger
}

func NewGateway(registry *Registry, chats repositories.ChatRepository, messages repositories.MessageRepository, notifier Notifier, cfg GatewayConfig, log zerolog.Logger) *Gateway {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.MaxBodyRunes <= 0 {
		cfg.MaxBodyRunes = 4000
	}
	return &Gateway{
		registry: registry,
		chats:    chats,
		messages: messages,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Join adds m to chatID if its user is a participant. Lookup failures deny
// the join.
func (g *Gateway) Join(ctx context.Context, m Member, chatID int64) bool {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	defer cancel()

	ok, err := g.chats.IsParticipant(ctx, chatID, m.UserID())
	if err != nil {
		g.log.Error().Err(err).Int64("chat_id", chatID).Int64("user_id", m.UserID()).Msg("join authorization failed")
		return false
	}
	if !ok {
		g.log.Info().Int64("chat_id", chatID).Int64("user_id", m.UserID()).Msg("join denied")
		return false
	}

	g.registry.Add(chatID, m)
	return true
}

func (g *Gateway) LeaveRoom(m Member, chatID int64) {
	g.registry.Remove(chatID, m)
}

// Leave removes m from every room. Safe to call more than once.
func (g *Gateway) Leave(m Member) {
	g.registry.RemoveAll(m)
}

// Send persists a message and broadcasts it to the room, sender included.
// Nothing is broadcast unless the message was stored.
func (g *Gateway) Send(ctx context.Context, m Member, req SendRequest) (models.Message, error) {
	if err := g.validateBody(req.Text); err != nil {
		return models.Message{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	defer cancel()

	if err := g.authorize(ctx, req.ChatID, m.UserID()); err != nil {
		return models.Message{}, err
	}
	if req.ReceiverID != nil {
		ok, err := g.chats.IsParticipant(ctx, req.ChatID, *req.ReceiverID)
		if err != nil {
			return models.Message{}, apperrors.Transient(fmt.Errorf("check receiver: %w", err))
		}
		if !ok {
			return models.Message{}, apperrors.Rejected(ErrInvalidReceiver)
		}
	}

	msg, err := g.messages.CreateMessage(ctx, req.ChatID, m.UserID(), req.ReceiverID, req.Text)
	if err != nil {
		return models.Message{}, apperrors.Transient(fmt.Errorf("persist message: %w", err))
	}
	observability.IncMessagePersisted()

	g.BroadcastNew(msg, req.ClientID)

	if req.ReceiverID != nil && g.notifier != nil {
		g.notifier.Publish(ctx, models.NotificationEvent{
			RecipientID: *req.ReceiverID,
			SenderID:    msg.SenderID,
			Action:      models.ActionMessageReceived,
			TargetID:    msg.ChatID,
		})
	}
	return msg, nil
}

// Edit replaces the body of a message the caller sent in chatID.
func (g *Gateway) Edit(ctx context.Context, m Member, req EditRequest) (models.Message, error) {
	if err := g.validateBody(req.NewBody); err != nil {
		return models.Message{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	defer cancel()

	msg, err := g.messages.UpdateMessage(ctx, req.ChatID, req.MessageID, m.UserID(), req.NewBody)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, apperrors.Rejected(ErrMessageNotOwned)
		}
		return models.Message{}, apperrors.Transient(fmt.Errorf("update message: %w", err))
	}

	g.BroadcastEdited(msg)
	return msg, nil
}

// Delete hard-deletes a message the caller sent in chatID.
func (g *Gateway) Delete(ctx context.Context, m Member, req DeleteRequest) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	defer cancel()

	deleted, err := g.messages.DeleteMessage(ctx, req.ChatID, req.MessageID, m.UserID())
	if err != nil {
		return apperrors.Transient(fmt.Errorf("delete message: %w", err))
	}
	if !deleted {
		return apperrors.Rejected(ErrMessageNotOwned)
	}

	g.BroadcastDeleted(req.ChatID, req.MessageID)
	return nil
}

func (g *Gateway) BroadcastNew(msg models.Message, clientID string) int {
	return g.registry.Broadcast(msg.ChatID, newMessagePayload(msg, clientID))
}

func (g *Gateway) BroadcastEdited(msg models.Message) int {
	return g.registry.Broadcast(msg.ChatID, encode(EventMessageEdited, 0, models.MessageEditedEvent{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		NewBody:   msg.Body,
	}))
}

func (g *Gateway) BroadcastDeleted(chatID, messageID int64) int {
	return g.registry.Broadcast(chatID, encode(EventMessageDeleted, 0, models.MessageDeletedEvent{
		MessageID: messageID,
		ChatID:    chatID,
	}))
}

func (g *Gateway) authorize(ctx context.Context, chatID, userID int64) error {
	ok, err := g.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return apperrors.Transient(fmt.Errorf("check participant: %w", err))
	}
	if !ok {
		return apperrors.Rejected(ErrNotParticipant)
	}
	return nil
}

func (g *Gateway) validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return apperrors.Rejected(ErrEmptyBody)
	}
	if utf8.RuneCountInString(body) > g.cfg.MaxBodyRunes {
		return apperrors.Rejected(fmt.Errorf("%w: limit is %d characters", ErrBodyTooLong, g.cfg.MaxBodyRunes))
	}
	return nil
}

// Dispatch decodes one client frame, runs it and replies to m with an ack or
// error event where the protocol calls for one.
func (g *Gateway) Dispatch(ctx context.Context, m Member, raw []byte) {
	var env ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.replyError(m, "", 0, apperrors.Rejected(ErrMalformedPayload))
		observability.IncWSEvent("invalid", "rejected")
		return
	}

	var err error
	switch env.Type {
	case EventJoinRoom:
		var req RoomRequest
		if err = decodePayload(env.Payload, &req); err == nil {
			joined := g.Join(ctx, m, req.ChatID)
			m.Deliver(encode(EventAck, env.Ref, AckPayload{Event: env.Type, ChatID: req.ChatID, Joined: joined}))
		}
	case EventLeaveRoom:
		var req RoomRequest
		if err = decodePayload(env.Payload, &req); err == nil {
			g.LeaveRoom(m, req.ChatID)
			m.Deliver(encode(EventAck, env.Ref, AckPayload{Event: env.Type, ChatID: req.ChatID}))
		}
	case EventSendMessage:
		var req SendRequest
		if err = decodePayload(env.Payload, &req); err == nil {
			_, err = g.Send(ctx, m, req)
		}
	case EventEditMessage:
		var req EditRequest
		if err = decodePayload(env.Payload, &req); err == nil {
			_, err = g.Edit(ctx, m, req)
		}
	case EventDeleteMessage:
		var req DeleteRequest
		if err = decodePayload(env.Payload, &req); err == nil {
			err = g.Delete(ctx, m, req)
		}
	default:
		err = apperrors.Rejected(fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type))
	}

	if err != nil {
		g.replyError(m, env.Type, env.Ref, err)
		observability.IncWSEvent(env.Type, string(apperrors.KindOf(err)))
		return
	}
	observability.IncWSEvent(env.Type, "ok")
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return apperrors.Rejected(ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.Rejected(fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	return nil
}

func (g *Gateway) replyError(m Member, event string, ref int64, err error) {
	payload := ErrorPayload{Event: event, Code: CodeRejected, Message: err.Error()}
	if apperrors.KindOf(err) == apperrors.KindTransient {
		payload.Code = CodeTransient
		payload.Message = "temporarily unavailable, try again"
		g.log.Error().Err(err).Str("event", event).Str("conn_id", m.ID()).Int64("user_id", m.UserID()).Msg("websocket event failed")
	}
	var classified *apperrors.Error
	if payload.Code == CodeRejected && errors.As(err, &classified) && classified.Err != nil {
		payload.Message = classified.Err.Error()
	}
	m.Deliver(encode(EventError, ref, payload))
}
