package storage

import (
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"glimpse/model"
)

const previewLen = 100

// MessageMatch is one message hit inside a session.
type MessageMatch struct {
	SessionID    string
	SessionTitle string
	MessageIndex int
	Role         string
	Text         string
	Preview      string
	Timestamp    time.Time
}

// SearchIndex runs message-level searches across the whole store.
type SearchIndex struct {
	storage *SessionStorage
}

func NewSearchIndex(storage *SessionStorage) *SearchIndex {
	return &SearchIndex{storage: storage}
}

// SearchAllSessions returns every message containing query, grouped by
// session in ListAll order.
func (si *SearchIndex) SearchAllSessions(query string) ([]MessageMatch, error) {
	if strings.TrimSpace(query) == "" {
		return []MessageMatch{}, nil
	}

	sessions, err := si.storage.ListAll()
	if err != nil {
		return nil, err
	}

	var matches []MessageMatch
	for _, session := range sessions {
		for _, m := range SearchMessages(session.Messages, query) {
			m.SessionID = session.ID
			m.SessionTitle = session.Title
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// SearchMessages searches the messages of a single conversation
func SearchMessages(messages []model.Message, query string) []MessageMatch {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []MessageMatch{}
	}

	var matches []MessageMatch
	for i, msg := range messages {
		if !strings.Contains(strings.ToLower(msg.Text), query) {
			continue
		}

		preview := msg.Text
		if len([]rune(preview)) > previewLen {
			preview = truncateRunes(preview, previewLen) + "..."
		}

		matches = append(matches, MessageMatch{
			MessageIndex: i,
			Role:         msg.Role,
			Text:         msg.Text,
			Preview:      preview,
			Timestamp:    msg.Timestamp,
		})
	}
	return matches
}

// FilterByTitle fuzzy-matches pattern against session titles, best match
// first. An empty pattern returns the input unchanged.
func FilterByTitle(sessions []*Session, pattern string) []*Session {
	if pattern == "" {
		return sessions
	}

	targets := make([]string, len(sessions))
	for i, s := range sessions {
		targets[i] = s.Title
	}

	matches := fuzzy.Find(pattern, targets)
	filtered := make([]*Session, len(matches))
	for i, match := range matches {
		filtered[i] = sessions[match.Index]
	}
	return filtered
}
