package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/repository"
)

// NodeRepository implements thread.NodeRepository for SQLite
type NodeRepository struct {
	db *DB
}

// NewNodeRepository creates a new NodeRepository
func NewNodeRepository(db *DB) *NodeRepository {
	return &NodeRepository{db: db}
}

const nodeColumns = `
	id, thread_id, kind, title, summary, keywords, entities,
	subject, detail, event_time, created_at
`

// Create inserts a new node
func (r *NodeRepository) Create(ctx context.Context, n *thread.Node) error {
	keywords, err := json.Marshal(n.Keywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}
	entities, err := json.Marshal(n.Entities)
	if err != nil {
		return fmt.Errorf("failed to encode entities: %w", err)
	}

	query := `
		INSERT INTO nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		n.ID,
		nullString(n.ThreadID),
		string(n.Kind),
		n.Title,
		n.Summary,
		string(keywords),
		string(entities),
		n.Payload.Subject,
		n.Payload.Detail,
		n.EventTime,
		n.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("failed to create node: %w", err)
	}
	return nil
}

// Get retrieves a node by ID
func (r *NodeRepository) Get(ctx context.Context, id string) (*thread.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = ?`

	n, err := scanNode(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return n, nil
}

// ListRecentByThread returns up to limit nodes for a thread, newest first
func (r *NodeRepository) ListRecentByThread(ctx context.Context, threadID string, limit int) ([]*thread.Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE thread_id = ?
		ORDER BY event_time DESC
		LIMIT ?
	`
	return r.list(ctx, query, threadID, limit)
}

// ListByThreadChrono returns up to limit nodes for a thread in event order
func (r *NodeRepository) ListByThreadChrono(ctx context.Context, threadID string, limit int) ([]*thread.Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE thread_id = ?
		ORDER BY event_time ASC
		LIMIT ?
	`
	return r.list(ctx, query, threadID, limit)
}

// AssignThread updates a node's thread association
func (r *NodeRepository) AssignThread(ctx context.Context, nodeID, threadID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET thread_id = ? WHERE id = ?`, threadID, nodeID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("failed to assign node: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check assignment: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *NodeRepository) list(ctx context.Context, query, threadID string, limit int) ([]*thread.Node, error) {
	rows, err := r.db.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var out []*thread.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNode(row rowScanner) (*thread.Node, error) {
	var n thread.Node
	var threadID sql.NullString
	var kind string
	var keywords, entities sql.NullString
	var subject, detail sql.NullString
	err := row.Scan(
		&n.ID,
		&threadID,
		&kind,
		&n.Title,
		&n.Summary,
		&keywords,
		&entities,
		&subject,
		&detail,
		&n.EventTime,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.ThreadID = threadID.String
	n.Kind = thread.NodeKind(kind)
	n.Payload = thread.NodePayload{Subject: subject.String, Detail: detail.String}
	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &n.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords: %w", err)
		}
	}
	if entities.Valid && entities.String != "" {
		if err := json.Unmarshal([]byte(entities.String), &n.Entities); err != nil {
			return nil, fmt.Errorf("failed to decode entities: %w", err)
		}
	}
	return &n, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
