package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tabstash/api/internal/tree"
	"tabstash/api/internal/util"
)

var (
	ErrNotFound = errors.New("node not found")
	ErrNotEmpty = errors.New("node is not an empty container")
)

// PostgresStore persists the stash tree. Every stash lives under a single
// root container identified by its title.
type PostgresStore struct {
	db        *sql.DB
	rootTitle string
	now       func() time.Time
}

func NewPostgresStore(db *sql.DB, rootTitle string) *PostgresStore {
	return &PostgresStore{db: db, rootTitle: rootTitle, now: time.Now}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureRoot returns the root container's ID, creating it if needed.
func (s *PostgresStore) EnsureRoot(ctx context.Context) (string, error) {
	id, err := s.rootID(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO stash_nodes (id, parent_id, kind, title)
		VALUES ($1, NULL, 'container', $2)
		ON CONFLICT DO NOTHING
	`, util.NewID("node"), s.rootTitle); err != nil {
		return "", fmt.Errorf("insert root: %w", err)
	}
	return s.rootID(ctx)
}

func (s *PostgresStore) rootID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM stash_nodes WHERE parent_id IS NULL AND title = $1`, s.rootTitle).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("root %q: %w", s.rootTitle, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup root: %w", err)
	}
	return id, nil
}

// GetTree returns a snapshot of the whole stash.
func (s *PostgresStore) GetTree(ctx context.Context) (tree.Snapshot, error) {
	rootID, err := s.rootID(ctx)
	if err != nil {
		return tree.Snapshot{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id, parent_id, kind, title, url, position, created_at
			FROM stash_nodes
			WHERE id = $1
			UNION ALL
			SELECT n.id, n.parent_id, n.kind, n.title, n.url, n.position, n.created_at
			FROM stash_nodes n
			JOIN subtree st ON n.parent_id = st.id
		)
		SELECT id, COALESCE(parent_id, ''), kind, title, COALESCE(url, ''), position
		FROM subtree
		ORDER BY position ASC, created_at ASC, id ASC
	`, rootID)
	if err != nil {
		return tree.Snapshot{}, fmt.Errorf("query tree: %w", err)
	}
	defer rows.Close()

	var items []nodeRow
	for rows.Next() {
		var row nodeRow
		if err := rows.Scan(&row.ID, &row.ParentID, &row.Kind, &row.Title, &row.URL, &row.Position); err != nil {
			return tree.Snapshot{}, fmt.Errorf("scan node: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return tree.Snapshot{}, fmt.Errorf("iterate tree: %w", err)
	}

	root, err := buildTree(items, rootID)
	if err != nil {
		return tree.Snapshot{}, err
	}
	return tree.Snapshot{Root: root, TakenAt: s.now()}, nil
}

// RemoveContainer deletes an empty, non-root container.
func (s *PostgresStore) RemoveContainer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM stash_nodes n
		WHERE n.id = $1
			AND n.kind = 'container'
			AND n.parent_id IS NOT NULL
			AND NOT EXISTS (SELECT 1 FROM stash_nodes c WHERE c.parent_id = n.id)
	`, id)
	if err != nil {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM stash_nodes WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check node %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("remove container %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("remove container %s: %w", id, ErrNotEmpty)
}

// CreateContainer appends a container to parentID. An empty parentID means
// the stash root.
func (s *PostgresStore) CreateContainer(ctx context.Context, parentID, title string) (tree.Node, error) {
	node := tree.Node{ID: util.NewID("node"), Kind: tree.KindContainer, Title: title, Children: []*tree.Node{}}
	if err := s.insert(ctx, parentID, &node); err != nil {
		return tree.Node{}, err
	}
	return node, nil
}

// CreateLeaf appends a leaf to parentID.
func (s *PostgresStore) CreateLeaf(ctx context.Context, parentID, title, url string) (tree.Node, error) {
	node := tree.Node{ID: util.NewID("node"), Kind: tree.KindLeaf, Title: title, URL: url}
	if err := s.insert(ctx, parentID, &node); err != nil {
		return tree.Node{}, err
	}
	return node, nil
}

func (s *PostgresStore) insert(ctx context.Context, parentID string, node *tree.Node) error {
	if parentID == "" {
		rootID, err := s.rootID(ctx)
		if err != nil {
			return err
		}
		parentID = rootID
	}
	node.ParentID = parentID

	var url any
	if node.Kind == tree.KindLeaf {
		url = node.URL
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stash_nodes (id, parent_id, kind, title, url, position)
		SELECT $1, p.id, $3, $4, $5, (SELECT COALESCE(MAX(position) + 1, 0) FROM stash_nodes WHERE parent_id = p.id)
		FROM stash_nodes p
		WHERE p.id = $2 AND p.kind = 'container'
	`, node.ID, parentID, string(node.Kind), node.Title, url)
	if err != nil {
		return fmt.Errorf("insert %s: %w", node.Kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s: %w", node.Kind, err)
	}
	if affected == 0 {
		return fmt.Errorf("parent container %s: %w", parentID, ErrNotFound)
	}
	return nil
}
