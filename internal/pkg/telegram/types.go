package telegram

import (
	"strings"
	"time"
)

// Chat types reported by the Bot API.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

type Update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *Message `json:"message,omitempty"`
	ChannelPost *Message `json:"channel_post,omitempty"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	Date      int64    `json:"date"`
	Chat      *Chat    `json:"chat,omitempty"`
	From      *User    `json:"from,omitempty"`
	ReplyTo   *Message `json:"reply_to_message,omitempty"`
	Entities  []Entity `json:"entities,omitempty"`
	Text      string   `json:"text,omitempty"`
}

type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type,omitempty"` // private|group|supergroup|channel
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

type User struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	User   *User  `json:"user,omitempty"` // for text_mention
}

type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ReplyToMessageID      int64  `json:"reply_to_message_id,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type sendChatActionRequest struct {
	ChatID int64  `json:"chat_id"`
	Action string `json:"action"`
}

type getChatRequest struct {
	ChatID int64 `json:"chat_id"`
}

type setMyCommandsRequest struct {
	Commands []BotCommand `json:"commands"`
}

// Inbound is a text message received by a session.
type Inbound struct {
	UpdateID       int64
	MessageID      int64
	ChatID         int64
	ChatType       string
	SenderID       int64
	SenderName     string
	SenderUsername string
	SenderIsBot    bool
	Text           string
	Entities       []Entity
	ReceivedAt     time.Time
}

// IsPrivate reports whether the message came from a one-to-one chat.
func (in Inbound) IsPrivate() bool {
	return in.ChatType == ChatPrivate || in.ChatType == ""
}

// Outbound is a text message to send. A non-zero ReplyToMessageID threads it.
type Outbound struct {
	ChatID           int64
	Text             string
	ReplyToMessageID int64
}

func inboundFromUpdate(u Update) (Inbound, bool) {
	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return Inbound{}, false
	}

	in := Inbound{
		UpdateID:  u.UpdateID,
		MessageID: msg.MessageID,
		ChatID:    msg.Chat.ID,
		ChatType:  msg.Chat.Type,
		Text:      msg.Text,
		Entities:  msg.Entities,
	}
	if msg.Date > 0 {
		in.ReceivedAt = time.Unix(msg.Date, 0).UTC()
	} else {
		in.ReceivedAt = time.Now().UTC()
	}
	if msg.From != nil {
		in.SenderID = msg.From.ID
		in.SenderName = msg.From.FullName()
		in.SenderUsername = msg.From.Username
		in.SenderIsBot = msg.From.IsBot
	} else {
		// Channel posts carry no sender.
		in.SenderID = msg.Chat.ID
		in.SenderName = msg.Chat.Title
	}
	return in, true
}

// MentionsBot reports whether the message addresses the bot by @username or
// by a text mention of its user id.
func MentionsBot(in Inbound, self User) bool {
	if self.Username != "" && indexMention(in.Text, "@"+self.Username) >= 0 {
		return true
	}
	for _, e := range in.Entities {
		if e.Type == "text_mention" && e.User != nil && e.User.ID == self.ID {
			return true
		}
	}
	return false
}

// StripMention removes every @username mention of the bot, case-insensitively.
func StripMention(text, username string) string {
	text = strings.TrimSpace(text)
	if text == "" || username == "" {
		return text
	}
	mention := "@" + username
	for {
		idx := indexMention(text, mention)
		if idx < 0 {
			break
		}
		text = text[:idx] + text[idx+len(mention):]
	}
	return strings.Join(strings.Fields(text), " ")
}

// indexMention returns the offset of the first standalone occurrence of
// mention in text, ignoring ASCII case. "@ghost_bot" does not match inside
// "@ghost_bot_fan" or "me@ghost_bot".
func indexMention(text, mention string) int {
	for start := 0; start <= len(text); {
		idx := indexFoldASCII(text[start:], mention)
		if idx < 0 {
			return -1
		}
		i := start + idx
		end := i + len(mention)
		if (i == 0 || !isUsernameByte(text[i-1])) && (end == len(text) || !isUsernameByte(text[end])) {
			return i
		}
		start = i + 1
	}
	return -1
}

func isUsernameByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// indexFoldASCII is strings.Index with ASCII case folding. Usernames are
// ASCII, so byte offsets stay valid for the original text.
func indexFoldASCII(text, sub string) int {
	n := len(sub)
	if n == 0 {
		return 0
	}
	for i := 0; i+n <= len(text); i++ {
		match := true
		for j := 0; j < n; j++ {
			if lowerASCII(text[i+j]) != lowerASCII(sub[j]) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func lowerASCII(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
