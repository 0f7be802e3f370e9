package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"chat-server/internal/models"
	"chat-server/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string, maxConns int) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// Migrate creates any missing tables. It is safe to run on every start.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// User Repository Implementation
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, username, email, created_at`

	user := &models.User{PasswordHash: string(hash)}
	err = db.pool.QueryRow(ctx, query, uuid.New(), req.Username, req.Email, string(hash)).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT id, username, email, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return user, nil
}

// Group Repository Implementation

// CreateGroup stores the group and makes the owner its first member.
func (db *PostgresDB) CreateGroup(ctx context.Context, name string, ownerID uuid.UUID) (*models.Group, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	group := &models.Group{}
	err = tx.QueryRow(ctx, `
		INSERT INTO groups (id, name, created_by_user, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, name, created_by_user, created_at`,
		uuid.New(), name, ownerID,
	).Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO users_groups (id, group_id, user_id) VALUES ($1, $2, $3)`,
		uuid.New(), group.ID, ownerID,
	); err != nil {
		return nil, fmt.Errorf("failed to add owner membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return group, nil
}

func (db *PostgresDB) GetGroupByID(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	query := `SELECT id, name, created_by_user, created_at FROM groups WHERE id = $1`

	group := &models.Group{}
	var owner *uuid.UUID
	err := db.pool.QueryRow(ctx, query, id).Scan(&group.ID, &group.Name, &owner, &group.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if owner != nil {
		group.OwnerID = *owner
	}

	return group, nil
}

func (db *PostgresDB) ListUserGroups(ctx context.Context, userID uuid.UUID) ([]*models.Group, error) {
	query := `
		SELECT g.id, g.name, g.created_by_user, g.created_at
		FROM groups g
		JOIN users_groups ug ON g.id = ug.group_id
		WHERE ug.user_id = $1
		ORDER BY g.name`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		group := &models.Group{}
		var owner *uuid.UUID
		if err := rows.Scan(&group.ID, &group.Name, &owner, &group.CreatedAt); err != nil {
			return nil, err
		}
		if owner != nil {
			group.OwnerID = *owner
		}
		groups = append(groups, group)
	}

	return groups, rows.Err()
}

// Membership Repository Implementation
func (db *PostgresDB) GetGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, `SELECT group_id FROM users_groups WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (db *PostgresDB) AddMembership(ctx context.Context, userID, groupID uuid.UUID) error {
	query := `
		INSERT INTO users_groups (id, group_id, user_id) VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING`

	_, err := db.pool.Exec(ctx, query, uuid.New(), groupID, userID)
	return err
}

func (db *PostgresDB) IsMember(ctx context.Context, userID, groupID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users_groups WHERE user_id = $1 AND group_id = $2)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, userID, groupID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) GetGroupMembers(ctx context.Context, groupID uuid.UUID) ([]*models.Member, error) {
	query := `
		SELECT u.id, u.username, u.email
		FROM users_groups ug
		JOIN users u ON ug.user_id = u.id
		WHERE ug.group_id = $1
		ORDER BY u.username`

	rows, err := db.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member := &models.Member{}
		if err := rows.Scan(&member.ID, &member.Username, &member.Email); err != nil {
			return nil, err
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// Join Request Repository Implementation
func (db *PostgresDB) CreateJoinRequest(ctx context.Context, groupID, userID uuid.UUID) error {
	query := `
		INSERT INTO user_group_join_requests (group_id, user_id, approved, created_at)
		VALUES ($1, $2, 'unhandled', NOW())`

	if _, err := db.pool.Exec(ctx, query, groupID, userID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (db *PostgresDB) ResolveJoinRequest(ctx context.Context, groupID, userID uuid.UUID, approved bool) error {
	resolution := "unapproved"
	if approved {
		resolution = "approved"
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE user_group_join_requests SET approved = $1
		WHERE group_id = $2 AND user_id = $3 AND approved = 'unhandled'`,
		resolution, groupID, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if approved {
		if _, err := tx.Exec(ctx, `
			INSERT INTO users_groups (id, group_id, user_id) VALUES ($1, $2, $3)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			uuid.New(), groupID, userID,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (db *PostgresDB) ListPendingJoinRequests(ctx context.Context, ownerID uuid.UUID) ([]*models.JoinRequest, error) {
	query := `
		SELECT r.group_id, g.name, r.user_id, u.username, r.created_at
		FROM user_group_join_requests r
		JOIN groups g ON r.group_id = g.id
		JOIN users u ON r.user_id = u.id
		WHERE g.created_by_user = $1 AND r.approved = 'unhandled'
		ORDER BY r.created_at`

	rows, err := db.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*models.JoinRequest
	for rows.Next() {
		req := &models.JoinRequest{}
		if err := rows.Scan(&req.GroupID, &req.GroupName, &req.UserID, &req.Username, &req.CreatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

// Message Repository Implementation

// InsertDirectMessages writes all records in one batch. The batch runs as a
// single implicit transaction, so either every record is stored or none is.
// messages carries no foreign keys, so a receiver without an account does not
// fail the batch.
func (db *PostgresDB) InsertDirectMessages(ctx context.Context, msgs []models.DirectChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(`
			INSERT INTO messages (id, message, sender, receiver, read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.Message, m.SenderID, m.ReceiverID, m.Read, m.CreatedAt)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range msgs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert direct messages: %w", err)
		}
	}

	return nil
}

func (db *PostgresDB) LoadDirectMessages(ctx context.Context, userID, peerID uuid.UUID, limit int) ([]*models.DirectChatMessage, error) {
	query := `
		SELECT id, sender, receiver, message, read, created_at
		FROM messages
		WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := db.pool.Query(ctx, query, userID, peerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.DirectChatMessage
	for rows.Next() {
		msg := &models.DirectChatMessage{}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Message, &msg.Read, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
