package messagedb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgildea/msgsearch/internal/contacts"
	"github.com/sgildea/msgsearch/internal/sqlitedb"
	"github.com/sgildea/msgsearch/pkg/types"
)

const fixtureSchema = `
CREATE TABLE chat (
	ROWID INTEGER PRIMARY KEY,
	guid TEXT,
	chat_identifier TEXT,
	display_name TEXT,
	service_name TEXT
);
CREATE TABLE handle (
	ROWID INTEGER PRIMARY KEY,
	id TEXT,
	service TEXT
);
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY,
	guid TEXT,
	text TEXT,
	attributedBody BLOB,
	handle_id INTEGER,
	date INTEGER,
	is_from_me INTEGER DEFAULT 0,
	cache_has_attachments INTEGER DEFAULT 0,
	associated_message_type INTEGER DEFAULT 0,
	associated_message_guid TEXT,
	expressive_send_style_id TEXT,
	date_edited INTEGER DEFAULT 0,
	date_retracted INTEGER DEFAULT 0,
	thread_originator_guid TEXT
);
CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER);
CREATE TABLE chat_handle_join (chat_id INTEGER, handle_id INTEGER);
CREATE TABLE attachment (
	ROWID INTEGER PRIMARY KEY,
	filename TEXT,
	mime_type TEXT,
	total_bytes INTEGER DEFAULT 0,
	transfer_name TEXT,
	is_sticker INTEGER DEFAULT 0
);
CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER);
`

func appleNS(t time.Time) int64 { return types.TimeToAppleTime(t) }

// newFixture builds a small chat.db with two chats, a handle, regular
// messages, a tapback, and an attachment.
func newFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := sqlitedb.Open(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(fixtureSchema)
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	exec := func(q string, args ...any) {
		t.Helper()
		_, err := db.Exec(q, args...)
		require.NoError(t, err)
	}

	exec(`INSERT INTO chat VALUES (1, 'guid-1', '+15551234567', '', 'iMessage')`)
	exec(`INSERT INTO chat VALUES (3, 'guid-3', 'chat987', 'Family', 'iMessage')`)
	exec(`INSERT INTO chat VALUES (5, 'guid-5', '+15550000001', '', 'SMS')`)
	exec(`INSERT INTO handle VALUES (1, '+15551234567', 'iMessage')`)
	exec(`INSERT INTO chat_handle_join VALUES (1, 1)`)

	insertMsg := func(id int64, chatID int64, guid, text string, body []byte, handle any, date time.Time, fromMe, assoc int, assocGUID string) {
		exec(`INSERT INTO message (ROWID, guid, text, attributedBody, handle_id, date, is_from_me, associated_message_type, associated_message_guid)
		      VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, guid, text, body, handle, appleNS(date), fromMe, assoc, assocGUID)
		exec(`INSERT INTO chat_message_join VALUES (?, ?)`, chatID, id)
	}

	insertMsg(10, 1, "msg-10", "Hey, are you free for lunch?", nil, 1, base, 0, 0, "")
	insertMsg(11, 1, "msg-11", "Sure, noon works", nil, nil, base.Add(time.Minute), 1, 0, "")
	insertMsg(12, 3, "msg-12", "Family dinner this Sunday?", nil, 1, base.Add(2*time.Minute), 0, 0, "")
	// Rich text message with no plain text column.
	body := append([]byte("\x04\x0bstreamtyped\x84\x84\x84\x08NSString\x01\x94\x84\x01+\x14"), []byte("Running late see you")...)
	insertMsg(13, 1, "msg-13", "", body, 1, base.Add(3*time.Minute), 0, 0, "")
	// Tapback on message 10; must never appear as a message.
	insertMsg(20, 1, "msg-20", "", nil, 1, base.Add(4*time.Minute), 0, 2000, "p:0/msg-10")
	// Retracted message; hidden unless asked for, never indexed.
	insertMsg(14, 1, "msg-14", "Never mind", nil, 1, base.Add(5*time.Minute), 0, 0, "")
	exec(`UPDATE message SET date_retracted = 1 WHERE ROWID = 14`)

	exec(`INSERT INTO attachment VALUES (1, '~/Library/Messages/Attachments/a/pic.jpeg', 'image/jpeg', 2048, 'pic.jpeg', 0)`)
	exec(`INSERT INTO message_attachment_join VALUES (11, 1)`)
	exec(`UPDATE message SET cache_has_attachments = 1 WHERE ROWID = 11`)

	return path
}

func openFixture(t *testing.T) *DB {
	t.Helper()
	d, err := Open(newFixture(t), contacts.NewStatic(map[string]string{"+15551234567": "Alice"}))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestChats(t *testing.T) {
	d := openFixture(t)

	chats, err := d.Chats(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, chats, 3)

	// Most recent activity first.
	assert.Equal(t, int64(1), chats[0].ID)
	assert.Equal(t, "Alice", chats[0].DisplayName)
	assert.Equal(t, int64(3), chats[1].ID)
	assert.Equal(t, "Family", chats[1].DisplayName)
}

func TestChatsServiceFilter(t *testing.T) {
	d := openFixture(t)

	chats, err := d.Chats(context.Background(), "SMS", 10)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, int64(5), chats[0].ID)
}

func TestChatParticipants(t *testing.T) {
	d := openFixture(t)

	chat, err := d.Chat(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, chat.Participants, 1)
	assert.Equal(t, "+15551234567", chat.Participants[0].Identifier)
	assert.Equal(t, "Alice", chat.Participants[0].DisplayName)
}

func TestChatNotFound(t *testing.T) {
	d := openFixture(t)

	_, err := d.Chat(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChatByIdentifier(t *testing.T) {
	d := openFixture(t)

	chat, err := d.ChatByIdentifier(context.Background(), "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, int64(1), chat.ID)

	_, err = d.ChatByIdentifier(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessagesExcludesTapbacks(t *testing.T) {
	d := openFixture(t)

	msgs, err := d.Messages(context.Background(), MessageQuery{ChatID: 1, Limit: 50})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.NotEqual(t, int64(20), m.ID)
	}
	// Newest first.
	assert.Equal(t, int64(13), msgs[0].ID)
}

func TestMessagesResolvesSenders(t *testing.T) {
	d := openFixture(t)

	msgs, err := d.Messages(context.Background(), MessageQuery{ChatID: 1, Limit: 50})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		if m.IsFromMe {
			assert.Nil(t, m.Sender)
			continue
		}
		require.NotNil(t, m.Sender, "message %d", m.ID)
		assert.Equal(t, "Alice", m.Sender.DisplayName)
	}
}

func TestMessagesPagination(t *testing.T) {
	d := openFixture(t)
	ctx := context.Background()

	page, err := d.Messages(ctx, MessageQuery{ChatID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(13), page[0].ID)

	page, err = d.Messages(ctx, MessageQuery{ChatID: 1, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(10), page[0].ID)
}

func TestMessagesAscending(t *testing.T) {
	d := openFixture(t)

	msgs, err := d.Messages(context.Background(), MessageQuery{ChatID: 1, Limit: 50, Ascending: true})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(10), msgs[0].ID)
	assert.Equal(t, int64(13), msgs[2].ID)
}

func TestMessagesIncludeUnsent(t *testing.T) {
	d := openFixture(t)
	ctx := context.Background()

	msgs, err := d.Messages(ctx, MessageQuery{ChatID: 1, Limit: 50})
	require.NoError(t, err)
	for _, m := range msgs {
		assert.NotEqual(t, int64(14), m.ID)
	}

	msgs, err = d.Messages(ctx, MessageQuery{ChatID: 1, Limit: 50, IncludeUnsent: true})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, int64(14), msgs[0].ID)
	assert.True(t, msgs[0].IsUnsent)
}

func TestMessagesDateBounds(t *testing.T) {
	d := openFixture(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	msgs, err := d.Messages(context.Background(), MessageQuery{
		ChatID: 1, Limit: 50,
		After:  appleNS(base),
		Before: appleNS(base.Add(3 * time.Minute)),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(11), msgs[0].ID)
}

func TestMessagesAttachesReactions(t *testing.T) {
	d := openFixture(t)

	msgs, err := d.Messages(context.Background(), MessageQuery{ChatID: 1, Limit: 50})
	require.NoError(t, err)

	var target *types.Message
	for i := range msgs {
		if msgs[i].ID == 10 {
			target = &msgs[i]
		}
	}
	require.NotNil(t, target)
	require.Len(t, target.Reactions, 1)
	assert.Equal(t, types.ReactionLove, target.Reactions[0].Type)
	assert.Equal(t, "Alice", target.Reactions[0].Sender.DisplayName)
}

func TestMessagesRichTextFallback(t *testing.T) {
	d := openFixture(t)

	msgs, err := d.Messages(context.Background(), MessageQuery{ChatID: 1, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, "Running late see you", msgs[0].Text)
}

func TestMessageByID(t *testing.T) {
	d := openFixture(t)

	m, err := d.Message(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ChatID)
	assert.Contains(t, m.Text, "lunch")
	require.NotNil(t, m.Sender)
	assert.Equal(t, "Alice", m.Sender.DisplayName)

	_, err = d.Message(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchSubstring(t *testing.T) {
	d := openFixture(t)

	msgs, err := d.Search(context.Background(), "lunch", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(10), msgs[0].ID)

	msgs, err = d.Search(context.Background(), "dinner", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAttachments(t *testing.T) {
	d := openFixture(t)

	atts, err := d.Attachments(context.Background(), 1, "", 10)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "image/jpeg", atts[0].MIMEType)
	assert.Equal(t, int64(11), atts[0].MessageID)

	atts, err = d.Attachments(context.Background(), 1, "video/%", 10)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestDownloadAttachmentMissingFile(t *testing.T) {
	d := openFixture(t)

	_, err := d.DownloadAttachment(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotDownloaded)

	_, err = d.DownloadAttachment(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStreamIndexable(t *testing.T) {
	d := openFixture(t)

	total, err := d.IndexableCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	var got []IndexableMessage
	err = d.StreamIndexable(context.Background(), func(m IndexableMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	// Ascending by date, tapback excluded.
	var prev int64
	for _, m := range got {
		assert.NotEqual(t, int64(20), m.ID)
		assert.GreaterOrEqual(t, m.Date, prev)
		assert.NotEmpty(t, m.Text)
		prev = m.Date
	}
	assert.Equal(t, "Running late see you", got[3].Text)
}

func TestStreamIndexableStopsOnError(t *testing.T) {
	d := openFixture(t)

	calls := 0
	err := d.StreamIndexable(context.Background(), func(IndexableMessage) error {
		calls++
		return sql.ErrTxDone
	})
	assert.ErrorIs(t, err, sql.ErrTxDone)
	assert.Equal(t, 1, calls)
}
