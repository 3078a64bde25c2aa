package pgmq

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Client wraps a Postgres DB for pgmq queue operations. The queue lives
// in the same database as the application state, which gives dispatch
// and state updates at-least-once semantics without a separate broker.
type Client struct {
	db *sql.DB
}

// New returns a pgmq client backed by the given DB connection.
func New(db *sql.DB) *Client {
	return &Client{db: db}
}

// Message is a single queued message.
type Message struct {
	ID   int64  // message identifier
	Data []byte // raw JSON payload
}

// Send pushes a JSON payload onto the given queue.
func (c *Client) Send(ctx context.Context, queue string, payload []byte) error {
	const q = "SELECT pgmq.send($1, $2::jsonb, 0)"
	if _, err := c.db.ExecContext(ctx, q, queue, string(payload)); err != nil {
		return fmt.Errorf("pgmq send failed: %w", err)
	}
	return nil
}

// SendWithDelay pushes a payload that becomes visible after delaySec
// seconds. Used to re-poll jobs that are still processing upstream.
func (c *Client) SendWithDelay(ctx context.Context, queue string, payload []byte, delaySec int) error {
	const q = "SELECT pgmq.send($1, $2::jsonb, $3)"
	if _, err := c.db.ExecContext(ctx, q, queue, string(payload), delaySec); err != nil {
		return fmt.Errorf("pgmq delayed send failed: %w", err)
	}
	return nil
}

// ReadWithPoll reads up to maxMessages from the queue, blocking up to
// timeoutSec seconds when the queue is empty.
func (c *Client) ReadWithPoll(ctx context.Context, queue string, timeoutSec, maxMessages int) ([]*Message, error) {
	const q = "SELECT msg_id, message FROM pgmq.read_with_poll($1, $2, $3)"
	rows, err := c.db.QueryContext(ctx, q, queue, timeoutSec, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("pgmq read_with_poll failed: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("pgmq read scan failed: %w", err)
		}
		msgs = append(msgs, &Message{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq read rows error: %w", err)
	}
	return msgs, nil
}

// Delete removes (acknowledges) messages by ID from the given queue.
func (c *Client) Delete(ctx context.Context, queue string, msgIDs []int64) error {
	const q = "SELECT pgmq.delete($1, $2::bigint[])"
	if _, err := c.db.ExecContext(ctx, q, queue, pq.Array(msgIDs)); err != nil {
		return fmt.Errorf("pgmq delete failed: %w", err)
	}
	return nil
}

// Exec runs an arbitrary statement on the shared connection. The worker
// uses this for job-row status updates alongside queue operations.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("pgmq exec failed: %w", err)
	}
	return nil
}
