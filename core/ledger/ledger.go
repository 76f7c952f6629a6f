// Package ledger persists audit anchors in SQLite. The ledger is the queryable
// mirror of the per-chain anchor lists: anchors are appended once, never
// updated, and read back in insertion order per agent.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
)

// ErrNoAnchors reports an empty anchor history for an agent.
var ErrNoAnchors = errors.New("no anchors recorded")

type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path and ensures the schema.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	ledger, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

// New wraps an existing database handle and ensures the schema.
func New(db *sql.DB) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAnchorSchema(db); err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append stores one anchor. Anchor ids are unique; re-appending the same
// anchor is rejected by the primary key.
func (l *Ledger) Append(ctx context.Context, anchor trustschema.AuditAnchor) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_anchors (
			anchor_id, agent_id, action, actor_id, result, producer_version,
			chain_hash, parent_anchor_id, parent_anchor_hash, anchor_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		anchor.AnchorID,
		anchor.AgentID,
		anchor.Action,
		anchor.ActorID,
		anchor.Result,
		anchor.ProducerVersion,
		anchor.ChainHash,
		anchor.ParentAnchorID,
		anchor.ParentAnchorHash,
		anchor.AnchorHash,
		anchor.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append anchor %s: %w", anchor.AnchorID, err)
	}
	return nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	AgentID string
	Action  string
	Result  string
	Limit   int
}

// List returns anchors matching the filter in insertion order.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]trustschema.AuditAnchor, error) {
	query := `
		SELECT anchor_id, agent_id, action, actor_id, result, producer_version,
			chain_hash, parent_anchor_id, parent_anchor_hash, anchor_hash, created_at
		FROM audit_anchors
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.AgentID != "" {
		addFilter("agent_id = ?", filter.AgentID)
	}
	if filter.Action != "" {
		addFilter("action = ?", filter.Action)
	}
	if filter.Result != "" {
		addFilter("result = ?", filter.Result)
	}
	query += where + " ORDER BY rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list anchors: %w", err)
	}
	defer rows.Close()

	var anchors []trustschema.AuditAnchor
	for rows.Next() {
		var (
			anchor  trustschema.AuditAnchor
			created time.Time
		)
		if err := rows.Scan(
			&anchor.AnchorID,
			&anchor.AgentID,
			&anchor.Action,
			&anchor.ActorID,
			&anchor.Result,
			&anchor.ProducerVersion,
			&anchor.ChainHash,
			&anchor.ParentAnchorID,
			&anchor.ParentAnchorHash,
			&anchor.AnchorHash,
			&created,
		); err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		anchor.SchemaID = trustschema.AnchorSchemaID
		anchor.SchemaVersion = trustschema.SchemaV1
		anchor.CreatedAt = created.UTC()
		anchors = append(anchors, anchor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list anchors: %w", err)
	}
	return anchors, nil
}

// Head returns the most recently appended anchor for an agent, the parent for
// the next anchor minted on that agent's chain.
func (l *Ledger) Head(ctx context.Context, agentID string) (trustschema.AuditAnchor, error) {
	anchors, err := l.List(ctx, Filter{AgentID: agentID})
	if err != nil {
		return trustschema.AuditAnchor{}, err
	}
	if len(anchors) == 0 {
		return trustschema.AuditAnchor{}, fmt.Errorf("agent %s: %w", agentID, ErrNoAnchors)
	}
	return anchors[len(anchors)-1], nil
}

func ensureAnchorSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_anchors (
			anchor_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor_id TEXT,
			result TEXT NOT NULL,
			producer_version TEXT NOT NULL,
			chain_hash TEXT NOT NULL,
			parent_anchor_id TEXT,
			parent_anchor_hash TEXT,
			anchor_hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_anchors_agent ON audit_anchors(agent_id);
		CREATE INDEX IF NOT EXISTS idx_audit_anchors_action ON audit_anchors(action);
	`)
	return err
}
