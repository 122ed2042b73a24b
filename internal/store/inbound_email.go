package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relayhook/relayhook/internal/model"
)

const inboundEmailColumns = `id, from_address, to_address, subject, body_text, body_html,
	attachments, received_at, status, processed_at, error, raw_data, message_id, object_key,
	created_at, updated_at`

func attachmentsToJSON(atts []model.Attachment) model.JSONArray {
	arr := make(model.JSONArray, 0, len(atts))
	for _, a := range atts {
		arr = append(arr, map[string]interface{}{
			"filename":    a.Filename,
			"contentType": a.ContentType,
			"size":        a.Size,
			"content":     a.ContentBase64(),
			"rawBase64":   a.RawBase64,
		})
	}
	return arr
}

func attachmentsFromJSON(arr model.JSONArray) []model.Attachment {
	atts := make([]model.Attachment, 0, len(arr))
	for _, raw := range arr {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		a := model.Attachment{
			Filename:    stringField(m, "filename"),
			ContentType: stringField(m, "contentType"),
			RawBase64:   boolField(m, "rawBase64"),
		}
		content := stringField(m, "content")
		if a.RawBase64 {
			a.Content = []byte(content)
		} else if decoded, err := base64.StdEncoding.DecodeString(content); err == nil {
			a.Content = decoded
		}
		if size, ok := m["size"].(float64); ok {
			a.Size = int(size)
		}
		atts = append(atts, a)
	}
	return atts
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func scanInboundEmail(row pgx.Row) (*model.InboundEmail, error) {
	e := &model.InboundEmail{}
	var attachments model.JSONArray
	var rawData model.JSONMap
	err := row.Scan(
		&e.ID, &e.From, &e.To, &e.Subject, &e.BodyText, &e.BodyHTML,
		&attachments, &e.ReceivedAt, &e.Status, &e.ProcessedAt, &e.Error,
		&rawData, &e.MessageID, &e.ObjectKey, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Attachments = attachmentsFromJSON(attachments)
	e.RawData = rawData
	return e, nil
}

// InsertInboundEmail atomically inserts email, enforcing uniqueness over
// the normalized message-id. Returns ErrDuplicateMessageID if a row for
// this message-id already exists.
func (s *Store) InsertInboundEmail(ctx context.Context, email *model.InboundEmail) error {
	if email.ID == uuid.Nil {
		email.ID = uuid.New()
	}
	now := time.Now().UTC()
	email.CreatedAt, email.UpdatedAt = now, now
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = now
	}

	query := fmt.Sprintf(`
		INSERT INTO inbound_emails (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING %s`, inboundEmailColumns, inboundEmailColumns)

	row := s.pool.QueryRow(ctx, query,
		email.ID, email.From, email.To, email.Subject, email.BodyText, email.BodyHTML,
		attachmentsToJSON(email.Attachments), email.ReceivedAt, email.Status, email.ProcessedAt,
		email.Error, email.RawData, email.MessageID, email.ObjectKey, email.CreatedAt, email.UpdatedAt,
	)
	scanned, err := scanInboundEmail(row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMessageID
		}
		return fmt.Errorf("insert inbound email: %w", err)
	}
	*email = *scanned
	return nil
}

// FindInboundByMessageId looks up by normalized message-id. Returns
// (nil, nil) if not found.
func (s *Store) FindInboundByMessageId(ctx context.Context, messageID string) (*model.InboundEmail, error) {
	if messageID == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM inbound_emails WHERE message_id = $1`, inboundEmailColumns)
	email, err := scanInboundEmail(s.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find inbound by message id: %w", err)
	}
	return email, nil
}

// FindInboundByObjectKey looks up by object-store key. Returns (nil, nil)
// if not found.
func (s *Store) FindInboundByObjectKey(ctx context.Context, objectKey string) (*model.InboundEmail, error) {
	if objectKey == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM inbound_emails WHERE object_key = $1`, inboundEmailColumns)
	email, err := scanInboundEmail(s.pool.QueryRow(ctx, query, objectKey))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find inbound by object key: %w", err)
	}
	return email, nil
}

// GetInbound fetches one row by id.
func (s *Store) GetInbound(ctx context.Context, id uuid.UUID) (*model.InboundEmail, error) {
	query := fmt.Sprintf(`SELECT %s FROM inbound_emails WHERE id = $1`, inboundEmailColumns)
	email, err := scanInboundEmail(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("inbound email")
		}
		return nil, fmt.Errorf("get inbound email: %w", err)
	}
	return email, nil
}

// UpdateInboundBody persists a reparse/first-parse outcome: body, html,
// attachments, and raw_data (which may have gained or lost an embedded
// MIME blob since the row was first written).
func (s *Store) UpdateInboundBody(ctx context.Context, email *model.InboundEmail) error {
	email.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE inbound_emails
		SET body_text = $2, body_html = $3, attachments = $4, raw_data = $5, updated_at = $6
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query,
		email.ID, email.BodyText, email.BodyHTML, attachmentsToJSON(email.Attachments),
		email.RawData, email.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update inbound body: %w", err)
	}
	return nil
}

// UpdateInboundStatus transitions the inbound lifecycle state.
func (s *Store) UpdateInboundStatus(ctx context.Context, id uuid.UUID, status model.InboundStatus, processedAt *time.Time, errMsg string) error {
	query := `
		UPDATE inbound_emails
		SET status = $2, processed_at = $3, error = $4, updated_at = $5
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, status, processedAt, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update inbound status: %w", err)
	}
	return nil
}

// ListInboundOptions drives ListInbound, the backing query of the poll API.
type ListInboundOptions struct {
	ToFilter   string
	ExcludeTo  []string
	Status     model.InboundStatus
	Limit      int
	Offset     int
	ListOnly   bool // restricts selected columns to identity/subject/messageId
}

// ListInbound drives the poll API: GET /email/inbound.
func (s *Store) ListInbound(ctx context.Context, opts ListInboundOptions) ([]model.InboundEmail, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argN := 1

	if opts.ToFilter != "" {
		where += fmt.Sprintf(" AND to_address = $%d", argN)
		args = append(args, opts.ToFilter)
		argN++
	}
	if len(opts.ExcludeTo) > 0 {
		where += fmt.Sprintf(" AND NOT (to_address = ANY($%d))", argN)
		args = append(args, opts.ExcludeTo)
		argN++
	}
	if opts.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, opts.Status)
		argN++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM inbound_emails " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count inbound emails: %w", err)
	}

	limit, offset := opts.Limit, opts.Offset
	if limit <= 0 {
		limit = 50
	}

	// listOnly skips the body and attachment columns entirely, so polling a
	// large mailbox doesn't drag megabytes of MIME through every page.
	columns := inboundEmailColumns
	if opts.ListOnly {
		columns = `id, from_address, to_address, subject, '' AS body_text, '' AS body_html,
			'[]'::jsonb AS attachments, received_at, status, processed_at, error,
			'{}'::jsonb AS raw_data, message_id, object_key, created_at, updated_at`
	}

	query := fmt.Sprintf(`SELECT %s FROM inbound_emails %s ORDER BY received_at DESC LIMIT $%d OFFSET $%d`,
		columns, where, argN, argN+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list inbound emails: %w", err)
	}
	defer rows.Close()

	emails, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.InboundEmail, error) {
		e, err := scanInboundEmail(row)
		if err != nil {
			return model.InboundEmail{}, err
		}
		return *e, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("collect inbound emails: %w", err)
	}
	return emails, total, nil
}

// ProcessedObjectKeys returns the set of object-store keys already
// represented in inbound_emails, for the catch-up diff.
func (s *Store) ProcessedObjectKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT object_key FROM inbound_emails WHERE object_key != ''`)
	if err != nil {
		return nil, fmt.Errorf("list processed object keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan object key: %w", err)
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}
