package core

// MessageLinkedNames returns the cached display names for a message's first
// author and first recipient, for enriching rendered messages.
func (s *Store) MessageLinkedNames(m *Message) (authorName, recipientName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ""
	}
	if len(m.Author) > 0 {
		authorName = s.cachedValueLocked(cachedNameTable, m.Author[0])
	}
	if len(m.Recipient) > 0 {
		recipientName = s.cachedValueLocked(cachedNameTable, m.Recipient[0])
	}
	return authorName, recipientName
}

// MessageLinkedEmails returns the cached emails for a message's first
// author and first recipient.
func (s *Store) MessageLinkedEmails(m *Message) (authorEmail, recipientEmail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ""
	}
	if len(m.Author) > 0 {
		authorEmail = s.cachedValueLocked(cachedEmailTable, m.Author[0])
	}
	if len(m.Recipient) > 0 {
		recipientEmail = s.cachedValueLocked(cachedEmailTable, m.Recipient[0])
	}
	return authorEmail, recipientEmail
}
