package core

// Relay fans a persisted message out to every connection joined to the
// conversation room, the sender's own connections included. A room nobody
// joined yields no deliveries.
func (s *State) Relay(conversationID string, msg *Message) []Delivery {
	to := s.rooms.Members(conversationID)
	if len(to) == 0 {
		s.log.Debug().Str("conversation_id", conversationID).Msg("relay reached no listeners")
		return nil
	}
	return []Delivery{{
		To: to,
		Event: &Event{
			Kind:           EventMessageReceive,
			ConversationID: conversationID,
			MessageID:      msg.ID,
			Message:        msg,
		},
	}}
}

// MarkRead relays a read receipt to the room, skipping the connection it came
// from (origin may be empty when the receipt was recorded outside a connection).
// Persisting the receipt is the caller's job.
func (s *State) MarkRead(origin, conversationID, messageID, readerID string) []Delivery {
	to := without(s.rooms.Members(conversationID), origin)
	if len(to) == 0 {
		return nil
	}
	return []Delivery{{
		To: to,
		Event: &Event{
			Kind:           EventMessageRead,
			ConversationID: conversationID,
			MessageID:      messageID,
			UserID:         readerID,
		},
	}}
}
