package types

import "time"

// AppleEpoch is 2001-01-01 00:00:00 UTC, the zero point for timestamps
// stored in the Messages database (nanoseconds since this instant).
var AppleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// AppleTimeToTime converts nanoseconds since the Apple epoch to a time.Time.
// A zero input returns the zero time.
func AppleTimeToTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return AppleEpoch.Add(time.Duration(ns))
}

// TimeToAppleTime converts a time.Time to nanoseconds since the Apple epoch.
func TimeToAppleTime(t time.Time) int64 {
	return t.Sub(AppleEpoch).Nanoseconds()
}

// ReactionType is a tapback reaction kind.
type ReactionType string

const (
	ReactionLove     ReactionType = "love"
	ReactionLike     ReactionType = "like"
	ReactionDislike  ReactionType = "dislike"
	ReactionLaugh    ReactionType = "ha-ha"
	ReactionEmphasis ReactionType = "emphasis"
	ReactionQuestion ReactionType = "question"
)

// ReactionTypeMap maps associated_message_type codes to reaction kinds.
// 2000-2005 are "add" reactions, 3000-3005 are "remove" reactions.
var ReactionTypeMap = map[int64]ReactionType{
	2000: ReactionLove,
	2001: ReactionLike,
	2002: ReactionDislike,
	2003: ReactionLaugh,
	2004: ReactionEmphasis,
	2005: ReactionQuestion,
	3000: ReactionLove,
	3001: ReactionLike,
	3002: ReactionDislike,
	3003: ReactionLaugh,
	3004: ReactionEmphasis,
	3005: ReactionQuestion,
}

// MessageEffect is an iMessage bubble or screen effect.
type MessageEffect string

const (
	EffectSlam         MessageEffect = "slam"
	EffectLoud         MessageEffect = "loud"
	EffectGentle       MessageEffect = "gentle"
	EffectInvisibleInk MessageEffect = "invisible_ink"
	EffectEcho         MessageEffect = "echo"
	EffectSpotlight    MessageEffect = "spotlight"
	EffectBalloons     MessageEffect = "balloons"
	EffectConfetti     MessageEffect = "confetti"
	EffectLove         MessageEffect = "love_effect"
	EffectLasers       MessageEffect = "lasers"
	EffectFireworks    MessageEffect = "fireworks"
	EffectCelebration  MessageEffect = "celebration"
)

// EffectMap maps expressive_send_style_id values to effects.
var EffectMap = map[string]MessageEffect{
	"com.apple.MobileSMS.expressivesend.slam":         EffectSlam,
	"com.apple.MobileSMS.expressivesend.loud":         EffectLoud,
	"com.apple.MobileSMS.expressivesend.gentle":       EffectGentle,
	"com.apple.MobileSMS.expressivesend.invisibleink": EffectInvisibleInk,
	"com.apple.messages.effect.CKEchoEffect":          EffectEcho,
	"com.apple.messages.effect.CKSpotlightEffect":     EffectSpotlight,
	"com.apple.messages.effect.CKHappyBirthdayEffect": EffectBalloons,
	"com.apple.messages.effect.CKConfettiEffect":      EffectConfetti,
	"com.apple.messages.effect.CKHeartEffect":         EffectLove,
	"com.apple.messages.effect.CKLasersEffect":        EffectLasers,
	"com.apple.messages.effect.CKFireworksEffect":     EffectFireworks,
	"com.apple.messages.effect.CKSparklesEffect":      EffectCelebration,
}

// Handle is a contact identifier (phone number or email).
type Handle struct {
	ID          int64
	Identifier  string // phone number or email
	Service     string // "iMessage", "SMS", "RCS"
	DisplayName string // resolved contact name, empty if unresolved
}

// Chat is a conversation with full details.
type Chat struct {
	ID           int64
	Identifier   string
	DisplayName  string
	Service      string
	Participants []Handle
}

// ChatSummary is lightweight chat info for listing.
type ChatSummary struct {
	ID              int64
	Identifier      string
	DisplayName     string
	Service         string
	MessageCount    int
	LastMessageDate time.Time
}

// Reaction is a tapback attached to a message.
type Reaction struct {
	Type   ReactionType
	Sender Handle
	Date   time.Time
}

// Message is a single message from the source store.
type Message struct {
	ID             int64
	ChatID         int64
	Text           string
	Date           time.Time
	IsFromMe       bool
	Sender         *Handle // nil for outgoing messages
	HasAttachments bool
	Reactions      []Reaction
	Effect         MessageEffect
	IsEdited       bool
	IsUnsent       bool
	ReplyToID      int64 // 0 when not a threaded reply
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID        int64
	MessageID int64
	Filename  string
	MIMEType  string
	Path      string // local path; may not exist if still in iCloud
	Size      int64
	IsSticker bool
}
