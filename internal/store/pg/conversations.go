package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by Postgres.
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

const endUserSelectCols = `id, organization_id, phone_number, profile_name, opted_out, opted_out_at, created_at`
const threadSelectCols = `id, organization_id, end_user_id, topic, is_active, last_user_message_at, created_at, updated_at`
const messageSelectCols = `id, thread_id, end_user_id, direction, role, content, provider_sid, status, num_media, profile_name, created_at`

func (s *PGConversationStore) GetEndUser(ctx context.Context, orgID uuid.UUID, phone string) (*store.EndUser, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+endUserSelectCols+` FROM end_users
		 WHERE organization_id = $1 AND phone_number = $2`, orgID, phone)
	return scanEndUser(row)
}

// RecordInbound ingests one inbound message. Everything happens in a
// single transaction: user and thread find-or-create, the opt change,
// the message row and the window bump commit together or not at all.
func (s *PGConversationStore) RecordInbound(ctx context.Context, rec store.InboundRecord) (*store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	user, err := s.findOrCreateUser(ctx, tx, rec, now)
	if err != nil {
		return nil, err
	}

	if rec.Opt != nil {
		var optedOutAt *time.Time
		if rec.Opt.OptedOut {
			optedOutAt = &now
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE end_users SET opted_out = $1, opted_out_at = $2 WHERE id = $3`,
			rec.Opt.OptedOut, optedOutAt, user.ID); err != nil {
			return nil, fmt.Errorf("apply opt change: %w", err)
		}
		user.OptedOut = rec.Opt.OptedOut
		user.OptedOutAt = optedOutAt
	}

	thread, err := s.findOrCreateThread(ctx, tx, rec.OrganizationID, user.ID, now)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET last_user_message_at = $1, updated_at = $1 WHERE id = $2`,
		now, thread.ID); err != nil {
		return nil, fmt.Errorf("bump thread window: %w", err)
	}
	thread.LastUserMessageAt = &now
	thread.UpdatedAt = now

	msg := &store.Message{
		ID:          uuid.Must(uuid.NewV7()),
		ThreadID:    thread.ID,
		EndUserID:   user.ID,
		Direction:   store.DirectionInbound,
		Role:        store.RoleUser,
		Content:     rec.Body,
		ProviderSID: rec.ProviderSID,
		Status:      store.StatusReceived,
		NumMedia:    rec.NumMedia,
		ProfileName: rec.ProfileName,
		CreatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, end_user_id, direction, role, content, provider_sid, status, num_media, profile_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.ThreadID, msg.EndUserID, msg.Direction, msg.Role, msg.Content,
		msg.ProviderSID, msg.Status, msg.NumMedia, msg.ProfileName, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &store.Conversation{User: user, Thread: thread, Message: msg}, nil
}

func (s *PGConversationStore) findOrCreateUser(ctx context.Context, tx *sql.Tx, rec store.InboundRecord, now time.Time) (*store.EndUser, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+endUserSelectCols+` FROM end_users
		 WHERE organization_id = $1 AND phone_number = $2 FOR UPDATE`,
		rec.OrganizationID, rec.FromPhone)
	user, err := scanEndUser(row)
	if err == nil {
		// Keep the profile name fresh; WhatsApp users rename themselves.
		if rec.ProfileName != "" && rec.ProfileName != user.ProfileName {
			if _, err := tx.ExecContext(ctx,
				`UPDATE end_users SET profile_name = $1 WHERE id = $2`,
				rec.ProfileName, user.ID); err != nil {
				return nil, fmt.Errorf("update profile name: %w", err)
			}
			user.ProfileName = rec.ProfileName
		}
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load end user: %w", err)
	}

	user = &store.EndUser{
		ID:             uuid.Must(uuid.NewV7()),
		OrganizationID: rec.OrganizationID,
		PhoneNumber:    rec.FromPhone,
		ProfileName:    rec.ProfileName,
		CreatedAt:      now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO end_users (id, organization_id, phone_number, profile_name, opted_out, created_at)
		 VALUES ($1, $2, $3, $4, false, $5)`,
		user.ID, user.OrganizationID, user.PhoneNumber, user.ProfileName, user.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert end user: %w", err)
	}
	return user, nil
}

func (s *PGConversationStore) findOrCreateThread(ctx context.Context, tx *sql.Tx, orgID, endUserID uuid.UUID, now time.Time) (*store.Thread, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+threadSelectCols+` FROM threads
		 WHERE end_user_id = $1 AND is_active = true
		 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, endUserID)
	thread, err := scanThread(row)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load thread: %w", err)
	}

	thread = &store.Thread{
		ID:             uuid.Must(uuid.NewV7()),
		OrganizationID: orgID,
		EndUserID:      endUserID,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO threads (id, organization_id, end_user_id, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, true, $4, $4)`,
		thread.ID, thread.OrganizationID, thread.EndUserID, now); err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return thread, nil
}

func (s *PGConversationStore) RecordOutbound(ctx context.Context, threadID, endUserID uuid.UUID, content, providerSID, status string) (*store.Message, error) {
	msg := &store.Message{
		ID:          uuid.Must(uuid.NewV7()),
		ThreadID:    threadID,
		EndUserID:   endUserID,
		Direction:   store.DirectionOutbound,
		Role:        store.RoleAgent,
		Content:     content,
		ProviderSID: providerSID,
		Status:      status,
		CreatedAt:   time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, end_user_id, direction, role, content, provider_sid, status, num_media, profile_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, '', $9)`,
		msg.ID, msg.ThreadID, msg.EndUserID, msg.Direction, msg.Role, msg.Content,
		msg.ProviderSID, msg.Status, msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *PGConversationStore) RecentMessages(ctx context.Context, endUserID uuid.UUID, limit int) ([]store.Message, error) {
	// Newest first in SQL, then reversed: the caller wants the last
	// `limit` messages in chronological order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageSelectCols+` FROM messages
		 WHERE end_user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		endUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.EndUserID, &m.Direction, &m.Role,
			&m.Content, &m.ProviderSID, &m.Status, &m.NumMedia, &m.ProfileName, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PGConversationStore) UpdateMessageStatus(ctx context.Context, providerSID, status, errCode, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1, error_code = NULLIF($2, ''), error_message = NULLIF($3, '')
		 WHERE provider_sid = $4`,
		status, errCode, errMsg, providerSID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanEndUser(row *sql.Row) (*store.EndUser, error) {
	var u store.EndUser
	var profile sql.NullString
	err := row.Scan(&u.ID, &u.OrganizationID, &u.PhoneNumber, &profile,
		&u.OptedOut, &u.OptedOutAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.ProfileName = profile.String
	return &u, nil
}

func scanThread(row *sql.Row) (*store.Thread, error) {
	var t store.Thread
	var topic sql.NullString
	err := row.Scan(&t.ID, &t.OrganizationID, &t.EndUserID, &topic,
		&t.IsActive, &t.LastUserMessageAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Topic = topic.String
	return &t, nil
}
