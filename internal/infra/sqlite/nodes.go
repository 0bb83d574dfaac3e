package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

// UpsertNode inserts a new node or updates an existing one by id.
func (db *DB) UpsertNode(ctx context.Context, n *domain.Node) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO nodes (id, public_key, name, user_id, discord_id, total_cores, max_parallel, status, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, user_id = excluded.user_id, discord_id = excluded.discord_id,
			total_cores = excluded.total_cores, max_parallel = excluded.max_parallel,
			status = excluded.status, last_seen = excluded.last_seen`,
		n.ID, n.PublicKey, n.Name, n.UserID, n.DiscordID, n.TotalCores, n.MaxParallel,
		string(n.Status), n.LastSeen.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", n.ID, err)
	}
	return nil
}

func scanNode(row *sql.Row) (*domain.Node, error) {
	var n domain.Node
	var status, lastSeen string
	err := row.Scan(&n.ID, &n.PublicKey, &n.Name, &n.UserID, &n.DiscordID, &n.TotalCores,
		&n.MaxParallel, &status, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}
	n.Status = domain.NodeStatus(status)
	n.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
	return &n, nil
}

const selectNodeColumns = `id, public_key, name, user_id, discord_id, total_cores, max_parallel, status, last_seen`

// GetNodeByPublicKey looks up a node by its Ed25519 public key, the
// identity every signed request is keyed on.
func (db *DB) GetNodeByPublicKey(ctx context.Context, pubKey []byte) (*domain.Node, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+selectNodeColumns+` FROM nodes WHERE public_key = ?`, pubKey)
	n, err := scanNode(row)
	if err == domain.ErrNodeNotFound {
		return nil, nil
	}
	return n, err
}

// GetNode loads a node by id.
func (db *DB) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+selectNodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err == domain.ErrNodeNotFound {
		return nil, nil
	}
	return n, err
}

// SetOnline marks a node online and bumps its last-seen timestamp, called
// on every heartbeat.
func (db *DB) SetOnline(ctx context.Context, id string) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE nodes SET status = ?, last_seen = ? WHERE id = ?`,
		string(domain.NodeOnline), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set node %s online: %w", id, err)
	}
	return nil
}

// OnlineNodes returns every node currently marked online, the candidate
// pool for the assignment tick.
func (db *DB) OnlineNodes(ctx context.Context) ([]*domain.Node, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+selectNodeColumns+` FROM nodes WHERE status = ?`, string(domain.NodeOnline))
	if err != nil {
		return nil, fmt.Errorf("online nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*domain.Node
	for rows.Next() {
		var n domain.Node
		var status, lastSeen string
		if err := rows.Scan(&n.ID, &n.PublicKey, &n.Name, &n.UserID, &n.DiscordID, &n.TotalCores,
			&n.MaxParallel, &status, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		n.Status = domain.NodeStatus(status)
		n.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// Backlogs returns the count of ChunkRunning rows per node id, the
// assignment tick's starting backlog before any new chunks are handed out.
func (db *DB) Backlogs(ctx context.Context) (map[string]int, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT node_id, COUNT(*) FROM chunks WHERE status = ? AND node_id != '' GROUP BY node_id`,
		string(domain.ChunkRunning))
	if err != nil {
		return nil, fmt.Errorf("backlogs: %w", err)
	}
	defer rows.Close()

	backlogs := make(map[string]int)
	for rows.Next() {
		var nodeID string
		var count int
		if err := rows.Scan(&nodeID, &count); err != nil {
			return nil, fmt.Errorf("scan backlog row: %w", err)
		}
		backlogs[nodeID] = count
	}
	return backlogs, rows.Err()
}

// Permissions returns every NodePermission row for the given node ids, the
// explicit grants access_type "user" jobs are checked against.
func (db *DB) Permissions(ctx context.Context, nodeIDs []string) ([]domain.NodePermission, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]byte, 0, len(nodeIDs)*2)
	args := make([]any, len(nodeIDs))
	for i, id := range nodeIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT node_id, access_type, target_id FROM node_permissions WHERE node_id IN (%s)`, placeholders)
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("permissions: %w", err)
	}
	defer rows.Close()

	var perms []domain.NodePermission
	for rows.Next() {
		var p domain.NodePermission
		var accessType string
		if err := rows.Scan(&p.NodeID, &accessType, &p.TargetID); err != nil {
			return nil, fmt.Errorf("scan permission row: %w", err)
		}
		p.AccessType = domain.AccessType(accessType)
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
