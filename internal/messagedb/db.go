// Package messagedb provides read-only access to the macOS Messages
// database (chat.db): conversations, messages, participants,
// attachments, and reactions. It also implements the Source interface
// that the search indexes build from.
package messagedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sgildea/msgsearch/internal/contacts"
	"github.com/sgildea/msgsearch/internal/sqlitedb"
	"github.com/sgildea/msgsearch/pkg/types"
)

var (
	// ErrNotFound indicates the requested chat or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotDownloaded indicates an attachment's file is not present
	// locally, typically because it is still in iCloud.
	ErrNotDownloaded = errors.New("attachment not downloaded")
)

// DB is a read-only handle on a Messages database.
type DB struct {
	db       *sql.DB
	resolver contacts.Resolver
}

// DefaultPath returns the standard location of the Messages database
// for the current user.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Messages", "chat.db")
}

// Open opens the Messages database read-only. resolver maps handle
// identifiers to display names; pass contacts.None{} to skip
// resolution.
func Open(path string, resolver contacts.Resolver) (*DB, error) {
	if resolver == nil {
		resolver = contacts.None{}
	}
	db, err := sqlitedb.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}
	return &DB{db: db, resolver: resolver}, nil
}

// Close releases the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// indexableFilter restricts message rows to regular messages with text:
// tapback rows carry an associated_message_type in the 2000/3000 range
// and are not messages in their own right.
const indexableFilter = `(m.associated_message_type IS NULL OR m.associated_message_type = 0)
  AND COALESCE(m.date_retracted, 0) = 0
  AND (m.text IS NOT NULL AND m.text != '' OR m.attributedBody IS NOT NULL)`

// Chats lists conversations ordered by most recent activity. service
// restricts to one service ("iMessage", "SMS"), empty matches all.
func (d *DB) Chats(ctx context.Context, service string, limit int) ([]types.ChatSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT c.ROWID, COALESCE(c.chat_identifier, ''), COALESCE(c.display_name, ''),
		       COALESCE(c.service_name, ''), COUNT(m.ROWID), COALESCE(MAX(m.date), 0)
		FROM chat c
		LEFT JOIN chat_message_join cmj ON cmj.chat_id = c.ROWID
		LEFT JOIN message m ON m.ROWID = cmj.message_id`
	args := []any{}
	if service != "" {
		query += ` WHERE c.service_name = ?`
		args = append(args, service)
	}
	query += `
		GROUP BY c.ROWID
		ORDER BY MAX(m.date) DESC
		LIMIT ?`
	args = append(args, limit)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []types.ChatSummary
	for rows.Next() {
		var c types.ChatSummary
		var lastDate int64
		if err := rows.Scan(&c.ID, &c.Identifier, &c.DisplayName, &c.Service, &c.MessageCount, &lastDate); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		c.LastMessageDate = types.AppleTimeToTime(lastDate)
		if c.DisplayName == "" {
			if name, ok := d.resolver.ResolveName(c.Identifier); ok {
				c.DisplayName = name
			}
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// Chat fetches one conversation with its participants.
func (d *DB) Chat(ctx context.Context, chatID int64) (*types.Chat, error) {
	var c types.Chat
	err := d.db.QueryRowContext(ctx, `
		SELECT ROWID, COALESCE(chat_identifier, ''), COALESCE(display_name, ''), COALESCE(service_name, '')
		FROM chat WHERE ROWID = ?`, chatID).
		Scan(&c.ID, &c.Identifier, &c.DisplayName, &c.Service)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %d: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat %d: %w", chatID, err)
	}

	participants, err := d.participants(ctx, chatID)
	if err != nil {
		return nil, err
	}
	c.Participants = participants
	if c.DisplayName == "" {
		if name, ok := d.resolver.ResolveName(c.Identifier); ok {
			c.DisplayName = name
		}
	}
	return &c, nil
}

// ChatByIdentifier finds a conversation by its chat identifier (a phone
// number, email, or group chat id).
func (d *DB) ChatByIdentifier(ctx context.Context, identifier string) (*types.Chat, error) {
	var chatID int64
	err := d.db.QueryRowContext(ctx,
		`SELECT ROWID FROM chat WHERE chat_identifier = ? ORDER BY ROWID LIMIT 1`, identifier).
		Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %q: %w", identifier, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up chat %q: %w", identifier, err)
	}
	return d.Chat(ctx, chatID)
}

func (d *DB) participants(ctx context.Context, chatID int64) ([]types.Handle, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT h.ROWID, COALESCE(h.id, ''), COALESCE(h.service, '')
		FROM handle h
		JOIN chat_handle_join chj ON chj.handle_id = h.ROWID
		WHERE chj.chat_id = ?
		ORDER BY h.ROWID`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var handles []types.Handle
	for rows.Next() {
		var h types.Handle
		if err := rows.Scan(&h.ID, &h.Identifier, &h.Service); err != nil {
			return nil, fmt.Errorf("failed to scan handle row: %w", err)
		}
		if name, ok := d.resolver.ResolveName(h.Identifier); ok {
			h.DisplayName = name
		}
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

// MessageQuery filters a message listing. Date bounds are Apple epoch
// ns with strict inequalities; 0 means no bound.
type MessageQuery struct {
	ChatID int64
	Limit  int
	Offset int
	After  int64
	Before int64

	// Ascending lists oldest first instead of the default newest first.
	Ascending bool

	// IncludeUnsent keeps messages the sender retracted.
	IncludeUnsent bool
}

// Messages lists messages in a chat with reactions attached to their
// target messages.
func (d *DB) Messages(ctx context.Context, q MessageQuery) ([]types.Message, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := `
		SELECT m.ROWID, COALESCE(m.text, ''), m.attributedBody, COALESCE(m.date, 0),
		       m.is_from_me, m.handle_id, m.cache_has_attachments,
		       COALESCE(m.expressive_send_style_id, ''),
		       COALESCE(m.date_edited, 0), COALESCE(m.date_retracted, 0),
		       COALESCE(orig.ROWID, 0), COALESCE(m.guid, '')
		FROM message m
		JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		LEFT JOIN message orig ON orig.guid = m.thread_originator_guid
		WHERE cmj.chat_id = ?
		  AND (m.associated_message_type IS NULL OR m.associated_message_type = 0)`
	args := []any{q.ChatID}
	if !q.IncludeUnsent {
		query += ` AND COALESCE(m.date_retracted, 0) = 0`
	}
	if q.After > 0 {
		query += ` AND m.date > ?`
		args = append(args, q.After)
	}
	if q.Before > 0 {
		query += ` AND m.date < ?`
		args = append(args, q.Before)
	}
	if q.Ascending {
		query += ` ORDER BY m.date ASC`
	} else {
		query += ` ORDER BY m.date DESC`
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var (
		msgs      []types.Message
		senderIDs []int64
	)
	guids := make(map[string]int)
	for rows.Next() {
		m, guid, senderID, err := scanMessage(rows, q.ChatID)
		if err != nil {
			return nil, err
		}
		guids[guid] = len(msgs)
		msgs = append(msgs, m)
		senderIDs = append(senderIDs, senderID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The pool holds a single connection, so handle lookups must wait
	// until the row cursor above is fully drained.
	d.resolveSenders(ctx, msgs, senderIDs)

	if err := d.attachReactions(ctx, q.ChatID, guids, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// resolveSenders fills in Sender for incoming messages. A failed
// lookup leaves Sender nil rather than failing the listing.
func (d *DB) resolveSenders(ctx context.Context, msgs []types.Message, senderIDs []int64) {
	cache := make(map[int64]*types.Handle)
	for i, id := range senderIDs {
		if id <= 0 {
			continue
		}
		h, ok := cache[id]
		if !ok {
			var err error
			h, err = d.handle(ctx, id)
			if err != nil {
				continue
			}
			cache[id] = h
		}
		msgs[i].Sender = h
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage scans one message row. It performs no further queries;
// the returned senderID (0 for outgoing or unknown) is resolved by the
// caller once the cursor is closed.
func scanMessage(row rowScanner, chatID int64) (types.Message, string, int64, error) {
	var (
		m           types.Message
		text, guid  string
		body        []byte
		date        int64
		handleID    sql.NullInt64
		effectID    string
		dateEdited  int64
		dateRetract int64
	)
	err := row.Scan(&m.ID, &text, &body, &date, &m.IsFromMe, &handleID,
		&m.HasAttachments, &effectID, &dateEdited, &dateRetract, &m.ReplyToID, &guid)
	if err != nil {
		return m, "", 0, fmt.Errorf("failed to scan message row: %w", err)
	}

	m.ChatID = chatID
	m.Date = types.AppleTimeToTime(date)
	m.IsEdited = dateEdited > 0
	m.IsUnsent = dateRetract > 0
	if effectID != "" {
		m.Effect = types.EffectMap[effectID]
	}

	m.Text = text
	if m.Text == "" && len(body) > 0 {
		m.Text = ExtractAttributedBody(body)
	}

	var senderID int64
	if !m.IsFromMe && handleID.Valid {
		senderID = handleID.Int64
	}
	return m, guid, senderID, nil
}

func (d *DB) handle(ctx context.Context, handleID int64) (*types.Handle, error) {
	var h types.Handle
	err := d.db.QueryRowContext(ctx,
		`SELECT ROWID, COALESCE(id, ''), COALESCE(service, '') FROM handle WHERE ROWID = ?`, handleID).
		Scan(&h.ID, &h.Identifier, &h.Service)
	if err != nil {
		return nil, err
	}
	if name, ok := d.resolver.ResolveName(h.Identifier); ok {
		h.DisplayName = name
	}
	return &h, nil
}

// attachReactions loads tapbacks for the listed messages and attaches
// them to their targets. Remove-type tapbacks (3000 range) cancel the
// matching add.
func (d *DB) attachReactions(ctx context.Context, chatID int64, guids map[string]int, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT m.associated_message_type, COALESCE(m.associated_message_guid, ''),
		       COALESCE(m.date, 0), m.is_from_me, m.handle_id
		FROM message m
		JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		WHERE cmj.chat_id = ?
		  AND m.associated_message_type BETWEEN 2000 AND 3005
		ORDER BY m.date`, chatID)
	if err != nil {
		return fmt.Errorf("failed to list reactions: %w", err)
	}
	defer rows.Close()

	// Buffer the cursor before any handle lookups; the pool has one
	// connection and nested queries would block on it.
	type reactionRow struct {
		typeCode int64
		assocID  string
		date     int64
		isFromMe bool
		handleID int64
	}
	var pending []reactionRow
	for rows.Next() {
		var (
			rr       reactionRow
			handleID sql.NullInt64
		)
		if err := rows.Scan(&rr.typeCode, &rr.assocID, &rr.date, &rr.isFromMe, &handleID); err != nil {
			return fmt.Errorf("failed to scan reaction row: %w", err)
		}
		if handleID.Valid {
			rr.handleID = handleID.Int64
		}
		pending = append(pending, rr)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	handles := make(map[int64]*types.Handle)
	for _, rr := range pending {
		// associated_message_guid looks like "p:0/GUID" or "bp:GUID".
		guid := rr.assocID
		if i := strings.LastIndexByte(rr.assocID, '/'); i != -1 {
			guid = rr.assocID[i+1:]
		} else if i := strings.IndexByte(rr.assocID, ':'); i != -1 {
			guid = rr.assocID[i+1:]
		}
		idx, ok := guids[guid]
		if !ok {
			continue
		}

		kind, known := types.ReactionTypeMap[rr.typeCode]
		if !known {
			continue
		}

		var sender types.Handle
		if rr.isFromMe {
			sender = types.Handle{Identifier: "me", DisplayName: "Me"}
		} else if rr.handleID > 0 {
			h, ok := handles[rr.handleID]
			if !ok {
				if looked, err := d.handle(ctx, rr.handleID); err == nil {
					h = looked
					handles[rr.handleID] = h
				}
			}
			if h != nil {
				sender = *h
			}
		}

		if rr.typeCode >= 3000 {
			// Removal: drop the most recent matching add from the same sender.
			rs := msgs[idx].Reactions
			for i := len(rs) - 1; i >= 0; i-- {
				if rs[i].Type == kind && rs[i].Sender.Identifier == sender.Identifier {
					msgs[idx].Reactions = append(rs[:i], rs[i+1:]...)
					break
				}
			}
			continue
		}
		msgs[idx].Reactions = append(msgs[idx].Reactions, types.Reaction{
			Type:   kind,
			Sender: sender,
			Date:   types.AppleTimeToTime(rr.date),
		})
	}
	return nil
}

// Message fetches a single message by id.
func (d *DB) Message(ctx context.Context, messageID int64) (*types.Message, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT m.ROWID, COALESCE(m.text, ''), m.attributedBody, COALESCE(m.date, 0),
		       m.is_from_me, m.handle_id, m.cache_has_attachments,
		       COALESCE(m.expressive_send_style_id, ''),
		       COALESCE(m.date_edited, 0), COALESCE(m.date_retracted, 0),
		       COALESCE(orig.ROWID, 0), COALESCE(m.guid, ''), cmj.chat_id
		FROM message m
		JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		LEFT JOIN message orig ON orig.guid = m.thread_originator_guid
		WHERE m.ROWID = ?`, messageID)

	var (
		m           types.Message
		text, guid  string
		body        []byte
		date        int64
		handleID    sql.NullInt64
		effectID    string
		dateEdited  int64
		dateRetract int64
	)
	err := row.Scan(&m.ID, &text, &body, &date, &m.IsFromMe, &handleID,
		&m.HasAttachments, &effectID, &dateEdited, &dateRetract, &m.ReplyToID, &guid, &m.ChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", messageID, err)
	}

	m.Date = types.AppleTimeToTime(date)
	m.IsEdited = dateEdited > 0
	m.IsUnsent = dateRetract > 0
	if effectID != "" {
		m.Effect = types.EffectMap[effectID]
	}
	m.Text = text
	if m.Text == "" && len(body) > 0 {
		m.Text = ExtractAttributedBody(body)
	}
	if !m.IsFromMe && handleID.Valid && handleID.Int64 > 0 {
		if h, err := d.handle(ctx, handleID.Int64); err == nil {
			m.Sender = h
		}
	}
	return &m, nil
}

// Search runs a substring search directly against the source store.
// This is the fallback path when no search index has been built; the
// indexed paths live in the search packages.
func (d *DB) Search(ctx context.Context, term string, chatID int64, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT m.ROWID, COALESCE(m.text, ''), m.attributedBody, COALESCE(m.date, 0),
		       m.is_from_me, m.handle_id, m.cache_has_attachments,
		       COALESCE(m.expressive_send_style_id, ''),
		       COALESCE(m.date_edited, 0), COALESCE(m.date_retracted, 0),
		       COALESCE(orig.ROWID, 0), COALESCE(m.guid, ''), cmj.chat_id
		FROM message m
		JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		LEFT JOIN message orig ON orig.guid = m.thread_originator_guid
		WHERE m.text LIKE ? ESCAPE '\'
		  AND (m.associated_message_type IS NULL OR m.associated_message_type = 0)`
	pattern := "%" + escapeLike(term) + "%"
	args := []any{pattern}
	if chatID > 0 {
		query += ` AND cmj.chat_id = ?`
		args = append(args, chatID)
	}
	query += ` ORDER BY m.date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var (
			m           types.Message
			text, guid  string
			body        []byte
			date        int64
			handleID    sql.NullInt64
			effectID    string
			dateEdited  int64
			dateRetract int64
		)
		if err := rows.Scan(&m.ID, &text, &body, &date, &m.IsFromMe, &handleID,
			&m.HasAttachments, &effectID, &dateEdited, &dateRetract, &m.ReplyToID, &guid, &m.ChatID); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.Date = types.AppleTimeToTime(date)
		m.IsEdited = dateEdited > 0
		m.IsUnsent = dateRetract > 0
		if effectID != "" {
			m.Effect = types.EffectMap[effectID]
		}
		m.Text = text
		if m.Text == "" && len(body) > 0 {
			m.Text = ExtractAttributedBody(body)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// Attachments lists files attached to messages in a chat. mimeGlob
// filters by MIME type prefix match ("image/%"), empty matches all.
func (d *DB) Attachments(ctx context.Context, chatID int64, mimeGlob string, limit int) ([]types.Attachment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT a.ROWID, maj.message_id, COALESCE(a.transfer_name, ''),
		       COALESCE(a.mime_type, ''), COALESCE(a.filename, ''),
		       COALESCE(a.total_bytes, 0), COALESCE(a.is_sticker, 0)
		FROM attachment a
		JOIN message_attachment_join maj ON maj.attachment_id = a.ROWID
		JOIN chat_message_join cmj ON cmj.message_id = maj.message_id
		JOIN message m ON m.ROWID = maj.message_id
		WHERE cmj.chat_id = ?`
	args := []any{chatID}
	if mimeGlob != "" {
		query += ` AND a.mime_type LIKE ?`
		args = append(args, mimeGlob)
	}
	query += ` ORDER BY m.date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var atts []types.Attachment
	for rows.Next() {
		var a types.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.MIMEType, &a.Path, &a.Size, &a.IsSticker); err != nil {
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		a.Path = expandAttachmentPath(a.Path)
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// expandAttachmentPath resolves the ~/ prefix the store uses for
// attachment locations.
func expandAttachmentPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// DownloadAttachment verifies an attachment's file is present locally
// and returns its path. Fetching undownloaded attachments from iCloud
// is not supported.
func (d *DB) DownloadAttachment(ctx context.Context, attachmentID int64) (string, error) {
	var path string
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(filename, '') FROM attachment WHERE ROWID = ?`, attachmentID).
		Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("attachment %d: %w", attachmentID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch attachment %d: %w", attachmentID, err)
	}
	path = expandAttachmentPath(path)
	if path == "" {
		return "", ErrNotDownloaded
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s: %w", path, ErrNotDownloaded)
	}
	return path, nil
}

// IndexableCount implements Source.
func (d *DB) IndexableCount(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message m WHERE `+indexableFilter).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count indexable messages: %w", err)
	}
	return n, nil
}

// StreamIndexable implements Source: every regular message with
// resolvable text, ascending by date. Messages whose plain text column
// is empty fall back to the archived rich-text body.
func (d *DB) StreamIndexable(ctx context.Context, fn func(IndexableMessage) error) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT m.ROWID, COALESCE(cmj.chat_id, 0), COALESCE(m.date, 0), m.is_from_me,
		       COALESCE(m.text, ''), m.attributedBody
		FROM message m
		LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		WHERE `+indexableFilter+`
		ORDER BY m.date ASC`)
	if err != nil {
		return fmt.Errorf("failed to stream messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			im   IndexableMessage
			text string
			body []byte
		)
		if err := rows.Scan(&im.ID, &im.ChatID, &im.Date, &im.IsFromMe, &text, &body); err != nil {
			return fmt.Errorf("failed to scan message row: %w", err)
		}
		im.Text = text
		if im.Text == "" && len(body) > 0 {
			im.Text = ExtractAttributedBody(body)
		}
		if im.Text == "" {
			continue
		}
		if err := fn(im); err != nil {
			return err
		}
	}
	return rows.Err()
}
