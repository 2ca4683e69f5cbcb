package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/reserve/internal/config"
	"github.com/your-org/reserve/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates missing tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	u.ID = uuid.New()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, first_name, last_name, email, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		u.ID, u.Username, u.FirstName, u.LastName, u.Email, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create user: %w", ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const userColumns = `id, username, first_name, last_name, email, password_hash, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// --- Sightings ---

func (s *PostgresStore) CreateSighting(ctx context.Context, st *models.Sighting) error {
	st.ID = uuid.New()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sightings (id, species_name, description, image_filename, latitude, longitude, user_id, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		st.ID, st.SpeciesName, st.Description, st.ImageFilename,
		st.Latitude, st.Longitude, st.UserID, st.Confidence,
	).Scan(&st.CreatedAt)
	if err != nil {
		return fmt.Errorf("create sighting: %w", err)
	}
	return nil
}

const sightingColumns = `s.id, s.species_name, s.description, s.image_filename, s.latitude, s.longitude,
	s.user_id, s.confidence, s.archive_key, s.created_at`

func (s *PostgresStore) GetSighting(ctx context.Context, id uuid.UUID) (*models.Sighting, error) {
	st := &models.Sighting{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+sightingColumns+` FROM sightings s WHERE s.id = $1`, id,
	).Scan(&st.ID, &st.SpeciesName, &st.Description, &st.ImageFilename, &st.Latitude, &st.Longitude,
		&st.UserID, &st.Confidence, &st.ArchiveKey, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sighting: %w", err)
	}
	return st, nil
}

// ListGallery returns every sighting, newest first, with like counts and
// comments. viewerID decides UserHasLiked.
func (s *PostgresStore) ListGallery(ctx context.Context, viewerID uuid.UUID) ([]models.GalleryEntry, error) {
	return s.queryGallery(ctx, "", viewerID)
}

// SearchSightings matches query as a substring of the species name or the
// description, case-insensitively.
func (s *PostgresStore) SearchSightings(ctx context.Context, query string, viewerID uuid.UUID) ([]models.GalleryEntry, error) {
	pattern := "%" + escapeLike(query) + "%"
	return s.queryGallery(ctx, `WHERE s.species_name ILIKE $2 OR s.description ILIKE $2`, viewerID, pattern)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *PostgresStore) queryGallery(ctx context.Context, where string, viewerID uuid.UUID, extra ...interface{}) ([]models.GalleryEntry, error) {
	query := `
		SELECT ` + sightingColumns + `, u.username,
		       (SELECT COUNT(*) FROM likes l WHERE l.sighting_id = s.id) AS like_count,
		       EXISTS (SELECT 1 FROM likes l WHERE l.sighting_id = s.id AND l.user_id = $1) AS user_has_liked
		FROM sightings s
		JOIN users u ON u.id = s.user_id
		` + where + `
		ORDER BY s.created_at DESC`
	args := append([]interface{}{viewerID}, extra...)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gallery: %w", err)
	}
	defer rows.Close()

	var entries []models.GalleryEntry
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var e models.GalleryEntry
		if err := rows.Scan(&e.ID, &e.SpeciesName, &e.Description, &e.ImageFilename, &e.Latitude, &e.Longitude,
			&e.UserID, &e.Confidence, &e.ArchiveKey, &e.CreatedAt,
			&e.Username, &e.LikeCount, &e.UserHasLiked); err != nil {
			return nil, fmt.Errorf("scan gallery entry: %w", err)
		}
		e.Comments = []models.Comment{}
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query gallery: %w", err)
	}
	if len(entries) == 0 {
		return entries, nil
	}

	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	comments, err := s.listComments(ctx, `WHERE c.sighting_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range comments {
		if i, ok := index[c.SightingID]; ok {
			entries[i].Comments = append(entries[i].Comments, c)
		}
	}
	return entries, nil
}

// DeleteSighting removes a sighting owned by userID and returns the deleted
// row so the caller can clean up its image.
func (s *PostgresStore) DeleteSighting(ctx context.Context, id, userID uuid.UUID) (*models.Sighting, error) {
	st := &models.Sighting{}
	err := s.pool.QueryRow(ctx,
		`DELETE FROM sightings s WHERE s.id = $1 AND s.user_id = $2 RETURNING `+sightingColumns,
		id, userID,
	).Scan(&st.ID, &st.SpeciesName, &st.Description, &st.ImageFilename, &st.Latitude, &st.Longitude,
		&st.UserID, &st.Confidence, &st.ArchiveKey, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("delete sighting: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("delete sighting: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sightings SET archive_key = $1 WHERE id = $2`, key, id)
	if err != nil {
		return fmt.Errorf("set archive key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set archive key: %w", ErrNotFound)
	}
	return nil
}

// ArchiveKeyFor returns the archive key recorded for an image file, or "".
func (s *PostgresStore) ArchiveKeyFor(ctx context.Context, filename string) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx,
		`SELECT archive_key FROM sightings WHERE image_filename = $1 AND archive_key <> '' LIMIT 1`, filename,
	).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get archive key: %w", err)
	}
	return key, nil
}

// --- Comments ---

func (s *PostgresStore) AddComment(ctx context.Context, c *models.Comment) error {
	c.ID = uuid.New()
	err := s.pool.QueryRow(ctx,
		`WITH ins AS (
			INSERT INTO comments (id, sighting_id, user_id, text)
			SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM sightings WHERE id = $2)
			RETURNING created_at, user_id
		)
		SELECT ins.created_at, u.username FROM ins JOIN users u ON u.id = ins.user_id`,
		c.ID, c.SightingID, c.UserID, c.Text,
	).Scan(&c.CreatedAt, &c.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("add comment: %w", ErrNotFound)
		}
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, sightingID uuid.UUID) ([]models.Comment, error) {
	return s.listComments(ctx, `WHERE c.sighting_id = $1`, sightingID)
}

func (s *PostgresStore) listComments(ctx context.Context, where string, args ...interface{}) ([]models.Comment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.sighting_id, c.user_id, u.username, c.text, c.created_at
		 FROM comments c JOIN users u ON u.id = c.user_id
		 `+where+` ORDER BY c.created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.SightingID, &c.UserID, &c.Username, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// DeleteComment removes a comment written by userID.
func (s *PostgresStore) DeleteComment(ctx context.Context, sightingID, commentID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM comments WHERE id = $1 AND sighting_id = $2 AND user_id = $3`,
		commentID, sightingID, userID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete comment: %w", ErrNotFound)
	}
	return nil
}

// --- Likes ---

// Like is idempotent; liking twice refreshes liked_at.
func (s *PostgresStore) Like(ctx context.Context, sightingID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO likes (sighting_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (sighting_id, user_id) DO UPDATE SET liked_at = now()`,
		sightingID, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("like: %w", ErrNotFound)
		}
		return fmt.Errorf("like: %w", err)
	}
	return nil
}

func (s *PostgresStore) Unlike(ctx context.Context, sightingID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM likes WHERE sighting_id = $1 AND user_id = $2`, sightingID, userID)
	if err != nil {
		return fmt.Errorf("unlike: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountLikes(ctx context.Context, sightingID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM likes WHERE sighting_id = $1`, sightingID,
	).Scan(&count)
	return count, err
}

// --- Contacts ---

func (s *PostgresStore) CreateContact(ctx context.Context, m *models.ContactMessage) error {
	m.ID = uuid.New()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO contacts (id, name, email, message) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		m.ID, m.Name, m.Email, m.Message,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}
