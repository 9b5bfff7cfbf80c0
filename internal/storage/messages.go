package storage

import (
	"context"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	"github.com/driftcloud/agentcore/internal/db/dialect"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// MessageRepository stores ingested conversation turns. Invariant: at
// most one row per agent has is_streaming = true.
type MessageRepository struct {
	pool   *db.Pool
	driver string
}

func scanMessage(row interface{ Scan(dest ...any) error }) (*v1.Message, error) {
	m := &v1.Message{}
	var isStreaming int
	err := row.Scan(&m.ID, &m.AgentID, &m.Role, &m.Content, &m.Model, &m.Timestamp,
		&m.TaskID, &m.ToolsJSON, &isStreaming, &m.SourceUUID)
	if err != nil {
		return nil, err
	}
	m.IsStreaming = isStreaming != 0
	return m, nil
}

const messageColumns = `id, agent_id, role, content, model, timestamp, task_id, tools, is_streaming, source_uuid`

// CountFinalized returns the number of non-streaming messages stored for
// an agent; this is the `lastCount`/`currentCount` the delta algorithm
// compares against.
func (r *MessageRepository) CountFinalized(ctx context.Context, agentID string) (int, error) {
	var count int
	err := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT COUNT(*) FROM agent_messages WHERE agent_id = ? AND is_streaming = 0`),
		agentID,
	).Scan(&count)
	return count, err
}

// ListFinalizedRange returns finalized messages ordered by timestamp,
// restricted to the half-open index range [start, end) — the delta
// window computed by the poller's message-ingestion algorithm.
func (r *MessageRepository) ListFinalizedRange(ctx context.Context, agentID string, start, end int) ([]*v1.Message, error) {
	if end <= start {
		return nil, nil
	}
	rows, err := r.pool.Reader().QueryxContext(ctx, r.pool.Reader().Rebind(`
		SELECT `+messageColumns+` FROM agent_messages
		WHERE agent_id = ? AND is_streaming = 0
		ORDER BY timestamp ASC, id ASC
		LIMIT ? OFFSET ?
	`), agentID, end-start, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*v1.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetStreaming returns the single mutable streaming row for an agent, or
// nil if there isn't one.
func (r *MessageRepository) GetStreaming(ctx context.Context, agentID string) (*v1.Message, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT `+messageColumns+` FROM agent_messages WHERE agent_id = ? AND is_streaming = 1 LIMIT 1`),
		agentID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetBySourceUUID looks up an already-finalized message by its worker-
// provided stable id.
func (r *MessageRepository) GetBySourceUUID(ctx context.Context, agentID, sourceUUID string) (*v1.Message, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT `+messageColumns+` FROM agent_messages WHERE agent_id = ? AND source_uuid = ? LIMIT 1`),
		agentID, sourceUUID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Insert adds a new message row (finalized or streaming).
func (r *MessageRepository) Insert(ctx context.Context, m *v1.Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO agent_messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), m.ID, m.AgentID, m.Role, m.Content, m.Model, m.Timestamp, m.TaskID,
		m.ToolsJSON, dialect.BoolToInt(m.IsStreaming), m.SourceUUID)
	return err
}

// UpdateStreamingContent overwrites the content of the unique streaming
// row for an agent.
func (r *MessageRepository) UpdateStreamingContent(ctx context.Context, id, content string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(
		`UPDATE agent_messages SET content = ? WHERE id = ?`), content, id)
	return err
}

// UpdateTools overwrites the tools JSON blob for a message; the caller is
// responsible for only calling this when the JSON representation differs
// from what is stored.
func (r *MessageRepository) UpdateTools(ctx context.Context, id, toolsJSON string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(
		`UPDATE agent_messages SET tools = ? WHERE id = ?`), toolsJSON, id)
	return err
}

// FinalizeStreaming clears the streaming flag on a row, stamping its
// final content and sourceUuid — the worker has confirmed this turn is
// done.
func (r *MessageRepository) FinalizeStreaming(ctx context.Context, id, content, sourceUUID string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE agent_messages SET is_streaming = 0, content = ?, source_uuid = ? WHERE id = ?
	`), content, sourceUUID, id)
	return err
}
