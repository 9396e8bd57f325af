package http

import (
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/service/messages"
)

func messageData(m *core.Message) proto.MessageData {
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	data := proto.MessageData{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		Kind:           m.Kind,
		Status:         m.Status,
		ReadBy:         readBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.Sealed.Content != "" {
		data.Sealed = &proto.SealedData{
			Content: m.Sealed.Content,
			IV:      m.Sealed.IV,
			AuthTag: m.Sealed.AuthTag,
		}
	}
	return data
}

func recordData(r messages.Record) proto.MessageData {
	return messageData(r.Relayable())
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventUserStatus:
		return proto.Outbound{
			Type: proto.TypeUserStatus,
			Data: proto.UserStatusData{UserID: event.UserID, Status: string(event.Status)},
		}
	case core.EventPresenceSnapshot:
		users := event.Users
		if users == nil {
			users = []string{}
		}
		return proto.Outbound{
			Type: proto.TypePresenceSnapshot,
			Data: proto.PresenceSnapshotData{Users: users},
		}
	case core.EventMessageReceive:
		if event.Message == nil {
			return errorOutbound(core.ErrCodeInternal, "empty message")
		}
		return proto.Outbound{
			Type: proto.TypeMessageReceive,
			Data: messageData(event.Message),
		}
	case core.EventTypingUpdate:
		return proto.Outbound{
			Type: proto.TypeTypingUpdate,
			Data: proto.TypingUpdateData{
				ConversationID: event.ConversationID,
				UserID:         event.UserID,
				Username:       event.Username,
				IsTyping:       event.IsTyping,
			},
		}
	case core.EventMessageRead:
		return proto.Outbound{
			Type: proto.TypeMessageReadUpdate,
			Data: proto.ReadUpdateData{
				ConversationID: event.ConversationID,
				MessageID:      event.MessageID,
				UserID:         event.UserID,
			},
		}
	case core.EventError:
		if event.Error == nil {
			return errorOutbound("unknown", "unknown error")
		}
		return errorOutbound(event.Error.Code, event.Error.Message)
	default:
		return errorOutbound(core.ErrCodeInternal, "unknown event")
	}
}

func errorOutbound(code, msg string) proto.Outbound {
	return proto.Outbound{
		Type:  proto.TypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	}
}
