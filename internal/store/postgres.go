package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"projecttree/backend/internal/models"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// subtreeQuery walks parent_id edges downward from $1, including $1 itself.
const subtreeQuery = `
WITH RECURSIVE subtree AS (
    SELECT id FROM file_tree WHERE id = $1
    UNION ALL
    SELECT f.id FROM file_tree AS f JOIN subtree AS s ON f.parent_id = s.id
)
SELECT id FROM subtree`

var _ Store = (*Postgres)(nil)

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) CreateRoot(ctx context.Context, projectID uuid.UUID, name string) (*models.FileNode, error) {
	node := &models.FileNode{ID: uuid.New(), ProjectID: projectID, IsFolder: true, Name: name}
	query := `INSERT INTO file_tree (id, project_id, parent_id, name, is_folder) VALUES ($1, $2, NULL, $3, TRUE) RETURNING created_at`
	err := s.pool.QueryRow(ctx, query, node.ID, projectID, name).Scan(&node.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, ErrRootExists
		}
		return nil, storageErr("create root", err)
	}
	return node, nil
}

func (s *Postgres) CreateNode(ctx context.Context, projectID, parentID uuid.UUID, name string, isFolder bool, extension string) (*models.FileNode, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer tx.Rollback(ctx)

	// FOR SHARE holds off a concurrent delete of the parent until commit.
	var parentProject uuid.UUID
	var parentIsFolder bool
	err = tx.QueryRow(ctx, `SELECT project_id, is_folder FROM file_tree WHERE id = $1 FOR SHARE`, parentID).
		Scan(&parentProject, &parentIsFolder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidParent
		}
		return nil, storageErr("load parent", err)
	}
	if parentProject != projectID || !parentIsFolder {
		return nil, ErrInvalidParent
	}

	node := &models.FileNode{
		ID:        uuid.New(),
		ProjectID: projectID,
		ParentID:  &parentID,
		IsFolder:  isFolder,
		Name:      name,
	}
	query := `INSERT INTO file_tree (id, project_id, parent_id, name, is_folder) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	err = tx.QueryRow(ctx, query, node.ID, projectID, parentID, name, isFolder).Scan(&node.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return nil, ErrInvalidParent
		}
		return nil, storageErr("insert node", err)
	}

	if !isFolder {
		contentQuery := `INSERT INTO file_contents (node_id, extension, data) VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, contentQuery, node.ID, extension, models.ContentData{}); err != nil {
			return nil, storageErr("insert content", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit", err)
	}
	return node, nil
}

func (s *Postgres) DeleteNode(ctx context.Context, projectID, nodeID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer tx.Rollback(ctx)

	var nodeProject uuid.UUID
	var parentID *uuid.UUID
	err = tx.QueryRow(ctx, `SELECT project_id, parent_id FROM file_tree WHERE id = $1 FOR UPDATE`, nodeID).
		Scan(&nodeProject, &parentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []uuid.UUID{}, nil
		}
		return nil, storageErr("load node", err)
	}
	if nodeProject != projectID {
		return nil, ErrInvalidParent
	}
	if parentID == nil {
		return nil, ErrRootDelete
	}

	rows, err := tx.Query(ctx, subtreeQuery, nodeID)
	if err != nil {
		return nil, storageErr("resolve subtree", err)
	}
	removed, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, storageErr("resolve subtree", err)
	}

	// Dependents first, nodes last. All node rows go in one statement so the
	// self-referencing foreign key is checked once at statement end.
	steps := []struct {
		op    string
		query string
	}{
		{"delete expand state", `DELETE FROM file_tree_expand WHERE node_id = ANY($1)`},
		{"delete presence", `DELETE FROM presence WHERE file_id = ANY($1)`},
		{"delete contents", `DELETE FROM file_contents WHERE node_id = ANY($1)`},
		{"delete nodes", `DELETE FROM file_tree WHERE id = ANY($1)`},
	}
	for _, step := range steps {
		if _, err := tx.Exec(ctx, step.query, removed); err != nil {
			return nil, storageErr(step.op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit", err)
	}
	return removed, nil
}

func (s *Postgres) GetSubtree(ctx context.Context, projectID uuid.UUID) ([]models.FileNode, error) {
	query := `SELECT id, project_id, parent_id, is_folder, name, created_at FROM file_tree WHERE project_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, storageErr("get subtree", err)
	}
	defer rows.Close()

	nodes := make([]models.FileNode, 0)
	for rows.Next() {
		var n models.FileNode
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.ParentID, &n.IsFolder, &n.Name, &n.CreatedAt); err != nil {
			return nil, storageErr("scan node", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get subtree", err)
	}
	return nodes, nil
}

// GetSubtreeWithContents reads rows and contents inside one REPEATABLE READ
// transaction, so both come from the same snapshot.
func (s *Postgres) GetSubtreeWithContents(ctx context.Context, projectID uuid.UUID) ([]models.FileNode, map[uuid.UUID]models.FileContent, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, storageErr("begin", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT id, project_id, parent_id, is_folder, name, created_at FROM file_tree WHERE project_id = $1 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, nil, storageErr("get subtree", err)
	}
	nodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.FileNode, error) {
		var n models.FileNode
		err := row.Scan(&n.ID, &n.ProjectID, &n.ParentID, &n.IsFolder, &n.Name, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, nil, storageErr("get subtree", err)
	}

	query := `
		SELECT c.node_id, c.extension, c.data, c.updated_at
		FROM file_contents AS c
		JOIN file_tree AS f ON f.id = c.node_id
		WHERE f.project_id = $1`
	rows, err = tx.Query(ctx, query, projectID)
	if err != nil {
		return nil, nil, storageErr("get contents", err)
	}
	contents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.FileContent, error) {
		var c models.FileContent
		err := row.Scan(&c.NodeID, &c.Extension, &c.Data, &c.UpdatedAt)
		return c, err
	})
	if err != nil {
		return nil, nil, storageErr("get contents", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, storageErr("commit", err)
	}

	byNode := make(map[uuid.UUID]models.FileContent, len(contents))
	for _, c := range contents {
		byNode[c.NodeID] = c
	}
	return nodes, byNode, nil
}

func (s *Postgres) GetNode(ctx context.Context, nodeID uuid.UUID) (*models.FileNode, error) {
	var n models.FileNode
	query := `SELECT id, project_id, parent_id, is_folder, name, created_at FROM file_tree WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, nodeID).Scan(&n.ID, &n.ProjectID, &n.ParentID, &n.IsFolder, &n.Name, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get node", err)
	}
	return &n, nil
}

func (s *Postgres) GetContent(ctx context.Context, nodeID uuid.UUID) (*models.FileContent, error) {
	c := models.FileContent{NodeID: nodeID}
	query := `SELECT extension, data, updated_at FROM file_contents WHERE node_id = $1`
	err := s.pool.QueryRow(ctx, query, nodeID).Scan(&c.Extension, &c.Data, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get content", err)
	}
	return &c, nil
}

func (s *Postgres) SaveContent(ctx context.Context, nodeID uuid.UUID, content string) error {
	query := `UPDATE file_contents SET data = $2, updated_at = NOW() WHERE node_id = $1`
	tag, err := s.pool.Exec(ctx, query, nodeID, models.ContentData{Content: content})
	if err != nil {
		return storageErr("save content", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SetExpanded(ctx context.Context, userID, nodeID uuid.UUID) error {
	query := `INSERT INTO file_tree_expand (user_id, node_id) VALUES ($1, $2) ON CONFLICT (user_id, node_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, userID, nodeID); err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return ErrNotFound
		}
		return storageErr("set expanded", err)
	}
	return nil
}

func (s *Postgres) SetCollapsed(ctx context.Context, userID, nodeID uuid.UUID) error {
	query := `DELETE FROM file_tree_expand WHERE user_id = $1 AND node_id = $2`
	if _, err := s.pool.Exec(ctx, query, userID, nodeID); err != nil {
		return storageErr("set collapsed", err)
	}
	return nil
}

func (s *Postgres) GetExpandedSet(ctx context.Context, userID, projectID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	query := `
		SELECT e.node_id
		FROM file_tree_expand AS e
		JOIN file_tree AS f ON f.id = e.node_id
		WHERE e.user_id = $1 AND f.project_id = $2`
	rows, err := s.pool.Query(ctx, query, userID, projectID)
	if err != nil {
		return nil, storageErr("get expanded", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, storageErr("get expanded", err)
	}

	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

const presenceColumns = `file_id, project_id, username, is_live, is_active_in_tab, last_updated`

func scanPresence(row pgx.CollectableRow) (models.PresenceRecord, error) {
	var p models.PresenceRecord
	err := row.Scan(&p.FileID, &p.ProjectID, &p.Username, &p.IsLive, &p.IsActiveInTab, &p.LastUpdated)
	return p, err
}

func (s *Postgres) UpsertActiveTab(ctx context.Context, fileID uuid.UUID, username string, active bool) (*models.PresenceRecord, error) {
	query := `
		INSERT INTO presence (file_id, username, project_id, is_live, is_active_in_tab, last_updated)
		SELECT id, $2, project_id, TRUE, $3, NOW() FROM file_tree WHERE id = $1 AND NOT is_folder
		ON CONFLICT (file_id, username) DO UPDATE SET
			is_active_in_tab = EXCLUDED.is_active_in_tab,
			is_live = TRUE,
			last_updated = NOW()
		RETURNING ` + presenceColumns
	rows, err := s.pool.Query(ctx, query, fileID, username, active)
	if err != nil {
		return nil, storageErr("upsert presence", err)
	}
	p, err := pgx.CollectOneRow(rows, scanPresence)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if pgCode(err) == pgForeignKeyViolation {
			return nil, ErrNotFound
		}
		return nil, storageErr("upsert presence", err)
	}
	return &p, nil
}

func (s *Postgres) SetLiveForUser(ctx context.Context, username string, live bool) (int64, error) {
	query := `UPDATE presence SET is_live = $2, last_updated = NOW() WHERE username = $1`
	tag, err := s.pool.Exec(ctx, query, username, live)
	if err != nil {
		return 0, storageErr("set live for user", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) SetLiveForProject(ctx context.Context, username string, projectID uuid.UUID, live bool) (int64, error) {
	query := `UPDATE presence SET is_live = $3, last_updated = NOW() WHERE username = $1 AND project_id = $2`
	tag, err := s.pool.Exec(ctx, query, username, projectID, live)
	if err != nil {
		return 0, storageErr("set live for project", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) UsersForFile(ctx context.Context, fileID uuid.UUID) ([]models.UserPresence, error) {
	query := `
		SELECT p.username, p.is_live, p.is_active_in_tab, COALESCE(u.profile_image, ''), p.last_updated
		FROM presence AS p
		LEFT JOIN users AS u ON u.username = p.username
		WHERE p.file_id = $1
		ORDER BY p.username`
	rows, err := s.pool.Query(ctx, query, fileID)
	if err != nil {
		return nil, storageErr("users for file", err)
	}
	defer rows.Close()

	users := make([]models.UserPresence, 0)
	for rows.Next() {
		var u models.UserPresence
		if err := rows.Scan(&u.Username, &u.IsLive, &u.IsActiveInTab, &u.Image, &u.LastUpdated); err != nil {
			return nil, storageErr("scan presence", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("users for file", err)
	}
	return users, nil
}

func (s *Postgres) PresenceForUser(ctx context.Context, username string, projectID *uuid.UUID) ([]models.PresenceRecord, error) {
	query := `SELECT ` + presenceColumns + ` FROM presence WHERE username = $1 AND ($2::uuid IS NULL OR project_id = $2) ORDER BY last_updated DESC`
	rows, err := s.pool.Query(ctx, query, username, projectID)
	if err != nil {
		return nil, storageErr("presence for user", err)
	}
	records, err := pgx.CollectRows(rows, scanPresence)
	if err != nil {
		return nil, storageErr("presence for user", err)
	}
	return records, nil
}

func (s *Postgres) UsersForProject(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID][]models.UserPresence, error) {
	query := `
		SELECT p.file_id, p.username, p.is_live, p.is_active_in_tab, COALESCE(u.profile_image, ''), p.last_updated
		FROM presence AS p
		LEFT JOIN users AS u ON u.username = p.username
		WHERE p.project_id = $1
		ORDER BY p.file_id, p.username`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, storageErr("users for project", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]models.UserPresence)
	for rows.Next() {
		var fileID uuid.UUID
		var u models.UserPresence
		if err := rows.Scan(&fileID, &u.Username, &u.IsLive, &u.IsActiveInTab, &u.Image, &u.LastUpdated); err != nil {
			return nil, storageErr("scan presence", err)
		}
		out[fileID] = append(out[fileID], u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("users for project", err)
	}
	return out, nil
}

func (s *Postgres) Member(ctx context.Context, projectID, userID uuid.UUID) (*models.ProjectMember, error) {
	m := &models.ProjectMember{ProjectID: projectID, UserID: userID}
	query := `SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`
	err := s.pool.QueryRow(ctx, query, projectID, userID).Scan(&m.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotMember
		}
		return nil, storageErr("get member", err)
	}
	return m, nil
}
