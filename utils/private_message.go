package utils

import (
	"context"
	"errors"
	"log"

	"github.com/memorial36b/aaravosbot/transport"
)

// SendPrivateMessage sends a direct message to a user and logs a failure
// instead of returning it. It reports whether the message was delivered.
func SendPrivateMessage(ctx context.Context, chat transport.Chat, userID, message string) bool {
	if _, err := chat.DM(ctx, userID, message); err != nil {
		if errors.Is(err, transport.ErrUnknownMember) {
			log.Printf("User %s is unreachable, skipping private message", userID)
		} else {
			log.Printf("Error sending private message to user %s: %v", userID, err)
		}
		return false
	}
	return true
}
