package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/store"
)

// ConversationStore implements store.ConversationStore on SQLite.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

const endUserCols = `id, organization_id, phone_number, profile_name, opted_out, opted_out_at, created_at`
const threadCols = `id, organization_id, end_user_id, topic, is_active, last_user_message_at, created_at, updated_at`
const messageCols = `id, thread_id, end_user_id, direction, role, content, provider_sid, status, num_media, profile_name, created_at`

func (s *ConversationStore) GetEndUser(ctx context.Context, orgID uuid.UUID, phone string) (*store.EndUser, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+endUserCols+` FROM end_users WHERE organization_id = ? AND phone_number = ?`,
		orgID, phone)
	return scanEndUser(row)
}

func (s *ConversationStore) RecordInbound(ctx context.Context, rec store.InboundRecord) (*store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	user, err := findOrCreateUser(ctx, tx, rec, now)
	if err != nil {
		return nil, err
	}

	if rec.Opt != nil {
		var optedOutAt *time.Time
		if rec.Opt.OptedOut {
			optedOutAt = &now
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE end_users SET opted_out = ?, opted_out_at = ? WHERE id = ?`,
			rec.Opt.OptedOut, optedOutAt, user.ID); err != nil {
			return nil, fmt.Errorf("apply opt change: %w", err)
		}
		user.OptedOut = rec.Opt.OptedOut
		user.OptedOutAt = optedOutAt
	}

	thread, err := findOrCreateThread(ctx, tx, rec.OrganizationID, user.ID, now)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET last_user_message_at = ?, updated_at = ? WHERE id = ?`,
		now, now, thread.ID); err != nil {
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
		`INSERT INTO messages (`+messageCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.EndUserID, msg.Direction, msg.Role, msg.Content,
		msg.ProviderSID, msg.Status, msg.NumMedia, msg.ProfileName, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &store.Conversation{User: user, Thread: thread, Message: msg}, nil
}

func findOrCreateUser(ctx context.Context, tx *sql.Tx, rec store.InboundRecord, now time.Time) (*store.EndUser, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+endUserCols+` FROM end_users WHERE organization_id = ? AND phone_number = ?`,
		rec.OrganizationID, rec.FromPhone)
	user, err := scanEndUser(row)
	if err == nil {
		if rec.ProfileName != "" && rec.ProfileName != user.ProfileName {
			if _, err := tx.ExecContext(ctx,
				`UPDATE end_users SET profile_name = ? WHERE id = ?`,
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
		 VALUES (?, ?, ?, ?, 0, ?)`,
		user.ID, user.OrganizationID, user.PhoneNumber, user.ProfileName, user.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert end user: %w", err)
	}
	return user, nil
}

func findOrCreateThread(ctx context.Context, tx *sql.Tx, orgID, endUserID uuid.UUID, now time.Time) (*store.Thread, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+threadCols+` FROM threads
		 WHERE end_user_id = ? AND is_active = 1
		 ORDER BY created_at DESC LIMIT 1`, endUserID)
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
		 VALUES (?, ?, ?, 1, ?, ?)`,
		thread.ID, thread.OrganizationID, thread.EndUserID, now, now); err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return thread, nil
}

func (s *ConversationStore) RecordOutbound(ctx context.Context, threadID, endUserID uuid.UUID, content, providerSID, status string) (*store.Message, error) {
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
		`INSERT INTO messages (`+messageCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?)`,
		msg.ID, msg.ThreadID, msg.EndUserID, msg.Direction, msg.Role, msg.Content,
		msg.ProviderSID, msg.Status, msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ConversationStore) RecentMessages(ctx context.Context, endUserID uuid.UUID, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE end_user_id = ? ORDER BY created_at DESC LIMIT ?`,
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

func (s *ConversationStore) UpdateMessageStatus(ctx context.Context, providerSID, status, errCode, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, error_code = NULLIF(?, ''), error_message = NULLIF(?, '')
		 WHERE provider_sid = ?`,
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
	err := row.Scan(&u.ID, &u.OrganizationID, &u.PhoneNumber, &u.ProfileName,
		&u.OptedOut, &u.OptedOutAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanThread(row *sql.Row) (*store.Thread, error) {
	var t store.Thread
	err := row.Scan(&t.ID, &t.OrganizationID, &t.EndUserID, &t.Topic,
		&t.IsActive, &t.LastUserMessageAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
