package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/chat"
	"aegis/pkg/llm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestSession(t *testing.T, st *Store) Session {
	t.Helper()
	ctx := context.Background()
	user, err := st.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	sess, err := st.CreateSession(ctx, user.ID, "Test", "")
	require.NoError(t, err)
	return sess
}

func TestSequencesAreDenseAndOrdered(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, st)

	_, err := st.AppendUser(ctx, sess.ID, []llm.ContentBlock{llm.NewTextBlock("first")})
	require.NoError(t, err)

	rec := chat.ToolCallRecord{
		ID:     "call_1",
		Name:   "get_current_time",
		Input:  map[string]any{"timezone": "UTC"},
		Output: map[string]any{"success": true},
	}
	_, _, err = st.AppendToolExchange(ctx, sess.ID, rec)
	require.NoError(t, err)

	_, err = st.AppendFinal(ctx, sess.ID, "gpt-test", "done", []string{"step one"})
	require.NoError(t, err)

	messages, err := st.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)

	for i, m := range messages {
		assert.Equal(t, int64(i+1), m.Sequence, "sequence must be dense from 1")
	}

	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, chat.RoleAssistant, messages[1].Role)
	assert.Equal(t, chat.RoleTool, messages[2].Role)
	assert.Equal(t, chat.RoleAssistant, messages[3].Role)
}

func TestToolExchangeRowsAreAdjacentAndLinked(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, st)

	rec := chat.ToolCallRecord{
		ID:     "call_9",
		Name:   "ddgs_search",
		Input:  map[string]any{"query": "golang"},
		Output: map[string]any{"success": true, "result": "..."},
	}
	assistant, tool, err := st.AppendToolExchange(ctx, sess.ID, rec)
	require.NoError(t, err)

	assert.Equal(t, assistant.Sequence+1, tool.Sequence)
	assert.Equal(t, "call_9", assistant.ToolCallID)
	assert.Equal(t, "call_9", tool.ToolCallID)
	assert.Equal(t, "ddgs_search", assistant.ToolName)
}

func TestAppendArtifactCarriesMarkerAndCallID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, st)

	blocks := []llm.ContentBlock{llm.NewTextBlock("(tool) Downloaded cat.png (file_id=1, pages=1)")}
	msg, err := st.AppendArtifact(ctx, sess.ID, "call_2", blocks)
	require.NoError(t, err)

	assert.Equal(t, chat.RoleAssistant, msg.Role)
	assert.Equal(t, chat.ArtifactToolName, msg.ToolName)
	assert.Equal(t, "call_2", msg.ToolCallID)
}

func TestAppendFinalRoundTrips(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, st)

	msg, err := st.AppendFinal(ctx, sess.ID, "gpt-test", "the answer", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", msg.ModelID)

	var final chat.AssistantFinal
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &final))
	assert.Equal(t, chat.AssistantFinalType, final.Type)
	assert.Equal(t, "the answer", final.Final)
	assert.Equal(t, []string{"a", "b"}, final.Progress)
}

func TestUserUniqueness(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.CreateUser(ctx, "bob", "hash1")
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, "bob", "hash2")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestSessionOwnershipAndDeleteCascade(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, st)

	_, err := st.AppendUser(ctx, sess.ID, []llm.ContentBlock{llm.NewTextBlock("hello")})
	require.NoError(t, err)

	require.NoError(t, st.DeleteSession(ctx, sess.ID))

	messages, err := st.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	assert.ErrorIs(t, st.DeleteSession(ctx, sess.ID), ErrNotFound)
}

func TestFileRoundTripAndMissingFile(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec, err := st.CreateFile(ctx, chat.FileRecord{
		Filename: "cat.png",
		MimeType: "image/png",
		Size:     4,
	}, []chat.FilePage{{Name: "cat.png", MimeType: "image/png", Data: []byte{1, 2, 3, 4}}})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.PageCount)

	got, pages, err := st.File(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Equal(t, []byte{1, 2, 3, 4}, pages[0].Data)

	missing, missingPages, err := st.File(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Nil(t, missingPages)
}
