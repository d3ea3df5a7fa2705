package contact

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/transport"
)

const (
	promptText = "**Would you like to contact the staff?**\n" +
		"Press " + confirmEmoji + " to start the chat. The button will expire after %s."
	sessionStartedText = "**Your chat session has begun. You can speak to the staff through this DM.**"
	sessionEndedText   = "**Your chat session with the staff has ended.**"
	startFailedText    = "**Sorry, the chat session could not be started. Please try again later.**"
	staffAlertText     = "@here **User %s would like to speak with the staff.**"
	channelLoggedText  = "**The chat session has been logged. This channel will be deleted in %s.**"
	transcriptCaption  = "**Log of chat with user `%s`**"

	logSeparator = "\n--------------------\n"
)

// FormatRelay renders one relayed message. The same text is sent and logged.
func FormatRelay(speaker transport.User, content string, attachments []transport.Attachment) string {
	var b strings.Builder
	b.WriteString(speaker.Distinct())
	b.WriteString(" — ")
	b.WriteString(content)
	for i, a := range attachments {
		fmt.Fprintf(&b, "\nAttachment %d: %s", i+1, a.URL)
	}
	return b.String()
}

// BuildTranscript renders a finished session's log, oldest entry first.
func BuildTranscript(user transport.User, startTime int64, entries []model.ChatLogEntry, endedBy transport.User) string {
	messages := make([]string, len(entries))
	for i, e := range entries {
		messages[i] = e.Message
	}
	started := time.Unix(startTime, 0).UTC().Format("2006-01-02 15:04:05 UTC")
	return fmt.Sprintf("Log of chat with user %s at %s\n\n%s\n\nChat ended by %s.",
		user.Distinct(), started, strings.Join(messages, logSeparator), endedBy.Distinct())
}

// ChannelName builds the staff channel name for a user: word characters of
// the username, spaces as underscores, plus the legacy discriminator.
func ChannelName(user transport.User) string {
	var b strings.Builder
	b.WriteString("chat-")
	for _, r := range user.Username {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune('_')
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		}
	}
	if user.Discriminator != "" && user.Discriminator != "0" {
		b.WriteString("-")
		b.WriteString(user.Discriminator)
	}
	return b.String()
}
