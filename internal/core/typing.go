package core

// typing relays a typing indicator to every room member except the sending
// connection. Nothing is remembered between start and stop; a stop without a
// start is relayed like any other.
func (s *State) typing(connID string, sess *session, cmd *Command) []Delivery {
	userID := sess.userID
	if userID == "" {
		userID = cmd.UserID
	}

	ev := &Event{
		Kind:           EventTypingUpdate,
		ConversationID: cmd.ConversationID,
		UserID:         userID,
		IsTyping:       cmd.Kind == CommandTypingStart,
	}
	// Stop carries no username.
	if ev.IsTyping {
		ev.Username = cmd.Username
		if ev.Username == "" {
			ev.Username = sess.username
		}
	}

	to := without(s.rooms.Members(cmd.ConversationID), connID)
	if len(to) == 0 {
		return nil
	}
	return []Delivery{{To: to, Event: ev}}
}
