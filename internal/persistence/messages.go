package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is one row of conversation history. ToolCalls holds the serialized
// tool requests an assistant message issued; ToolCallID/ToolName identify the
// request a tool message answers.
type Message struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCalls  string    `json:"tool_calls,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func validRole(role string) bool {
	switch role {
	case "system", "user", "assistant", "tool":
		return true
	}
	return false
}

// AppendTurn commits a whole turn's messages in one transaction. Either every
// message of the turn becomes visible to the next load, or none does.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		if !validRole(strings.ToLower(m.Role)) {
			return fmt.Errorf("invalid role %q", m.Role)
		}
	}
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin turn tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, m := range msgs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id, tool_name, created_at)
				VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
			`, sessionID, strings.ToLower(m.Role), m.Content, m.ToolCalls, m.ToolCallID, m.ToolName); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
		return tx.Commit()
	})
	return err
}

// ListMessages returns the most recent limit messages for a session in
// chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls, tool_call_id, tool_name, created_at
		FROM (
			SELECT id, session_id, role, content, tool_calls, tool_call_id, tool_name, created_at
			FROM messages
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC;
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ToolCalls, &m.ToolCallID, &m.ToolName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message rows: %w", err)
	}
	return out, nil
}
