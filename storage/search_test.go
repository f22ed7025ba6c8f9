package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glimpse/model"
	"glimpse/provider/testutil"
)

func TestSearchMessages(t *testing.T) {
	messages := testutil.TestMessages()

	matches := SearchMessages(messages, "HELP")
	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].MessageIndex)
	assert.Equal(t, model.RoleUser, matches[0].Role)
	assert.Equal(t, messages[2].Text, matches[0].Preview)

	assert.Empty(t, SearchMessages(messages, ""))
	assert.Empty(t, SearchMessages(messages, "absent"))
}

func TestSearchMessagesPreviewTruncates(t *testing.T) {
	long := strings.Repeat("é", 150) + " needle"
	matches := SearchMessages([]model.Message{{Role: model.RoleAssistant, Text: long}}, "needle")
	require.Len(t, matches, 1)
	assert.Equal(t, strings.Repeat("é", previewLen)+"...", matches[0].Preview)
	assert.Equal(t, long, matches[0].Text)
}

func TestSearchAllSessions(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Save(&Session{ID: "a", Title: "alpha", Messages: testutil.TestMessages()})
	require.NoError(t, err)
	_, err = s.Save(&Session{ID: "b", Title: "beta", Messages: []model.Message{{Role: model.RoleUser, Text: "how are you doing"}}})
	require.NoError(t, err)

	index := NewSearchIndex(s)

	matches, err := index.SearchAllSessions("how are you")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	ids := map[string]string{}
	for _, m := range matches {
		ids[m.SessionID] = m.SessionTitle
	}
	assert.Equal(t, map[string]string{"a": "alpha", "b": "beta"}, ids)

	none, err := index.SearchAllSessions("")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFilterByTitle(t *testing.T) {
	sessions := []*Session{
		{ID: "1", Title: "Kubernetes upgrade"},
		{ID: "2", Title: "Grocery list"},
		{ID: "3", Title: "kube config error"},
	}

	filtered := FilterByTitle(sessions, "kube")
	require.Len(t, filtered, 2)
	got := []string{filtered[0].ID, filtered[1].ID}
	assert.ElementsMatch(t, []string{"1", "3"}, got)

	assert.Equal(t, sessions, FilterByTitle(sessions, ""))
	assert.Empty(t, FilterByTitle(sessions, "zzz"))
}
