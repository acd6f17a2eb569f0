package store

import (
	"context"
	"database/sql"
	"fmt"

	"aegis/pkg/chat"
	"aegis/pkg/llm"
)

// Messages returns all messages of a session ordered by sequence.
func (s *Store) Messages(ctx context.Context, sessionID int64) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sequence, role, content, tool_call_id, tool_name, model_id, created_at
		FROM messages WHERE session_id = ? ORDER BY sequence`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sequence, &m.Role, &m.Content,
			&m.ToolCallID, &m.ToolName, &m.ModelID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendUser appends a user message holding the given content blocks.
func (s *Store) AppendUser(ctx context.Context, sessionID int64, blocks []llm.ContentBlock) (chat.Message, error) {
	content, err := chat.EncodeBlocks(blocks)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to encode user content: %w", err)
	}
	return s.appendOne(ctx, sessionID, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Content:   content,
	})
}

// AppendToolExchange appends the assistant tool-call message and its
// tool result message as one atomic pair at adjacent sequences.
func (s *Store) AppendToolExchange(ctx context.Context, sessionID int64, rec chat.ToolCallRecord) (chat.Message, chat.Message, error) {
	callPayload, err := json.Marshal(rec)
	if err != nil {
		return chat.Message{}, chat.Message{}, fmt.Errorf("failed to encode tool call record: %w", err)
	}
	resultPayload, err := json.Marshal(rec.Output)
	if err != nil {
		return chat.Message{}, chat.Message{}, fmt.Errorf("failed to encode tool output: %w", err)
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, chat.Message{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSequence(ctx, tx, sessionID)
	if err != nil {
		return chat.Message{}, chat.Message{}, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	assistant := chat.Message{
		SessionID:  sessionID,
		Sequence:   seq,
		Role:       chat.RoleAssistant,
		Content:    string(callPayload),
		ToolCallID: rec.ID,
		ToolName:   rec.Name,
	}
	toolMsg := chat.Message{
		SessionID:  sessionID,
		Sequence:   seq + 1,
		Role:       chat.RoleTool,
		Content:    string(resultPayload),
		ToolCallID: rec.ID,
		ToolName:   rec.Name,
	}

	if err := insertMessage(ctx, tx, &assistant); err != nil {
		return chat.Message{}, chat.Message{}, err
	}
	if err := insertMessage(ctx, tx, &toolMsg); err != nil {
		return chat.Message{}, chat.Message{}, err
	}
	if err := touchSession(ctx, tx, sessionID); err != nil {
		return chat.Message{}, chat.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, chat.Message{}, fmt.Errorf("failed to commit tool exchange: %w", err)
	}
	return assistant, toolMsg, nil
}

// AppendArtifact appends a hoisted file artifact as an assistant
// message linked to the tool call that produced it.
func (s *Store) AppendArtifact(ctx context.Context, sessionID int64, toolCallID string, blocks []llm.ContentBlock) (chat.Message, error) {
	content, err := chat.EncodeBlocks(blocks)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to encode artifact content: %w", err)
	}
	return s.appendOne(ctx, sessionID, chat.Message{
		SessionID:  sessionID,
		Role:       chat.RoleAssistant,
		Content:    content,
		ToolCallID: toolCallID,
		ToolName:   chat.ArtifactToolName,
	})
}

// AppendFinal appends the closing assistant message of a turn.
func (s *Store) AppendFinal(ctx context.Context, sessionID int64, modelID, final string, progress []string) (chat.Message, error) {
	payload, err := json.Marshal(chat.AssistantFinal{
		Type:     chat.AssistantFinalType,
		Final:    final,
		Progress: progress,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to encode final payload: %w", err)
	}
	return s.appendOne(ctx, sessionID, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   string(payload),
		ModelID:   modelID,
	})
}

func (s *Store) appendOne(ctx context.Context, sessionID int64, m chat.Message) (chat.Message, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSequence(ctx, tx, sessionID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	m.Sequence = seq

	if err := insertMessage(ctx, tx, &m); err != nil {
		return chat.Message{}, err
	}
	if err := touchSession(ctx, tx, sessionID); err != nil {
		return chat.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("failed to commit message: %w", err)
	}
	return m, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *chat.Message) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, sequence, role, content, tool_call_id, tool_name, model_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Sequence, m.Role, m.Content, m.ToolCallID, m.ToolName, m.ModelID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

func touchSession(ctx context.Context, tx *sql.Tx, sessionID int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, sessionID,
	); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}
