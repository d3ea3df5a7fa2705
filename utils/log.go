package utils

import (
	"context"
	"log"
	"time"

	"github.com/memorial36b/aaravosbot/transport"
)

type LogLevel string

const (
	Info  LogLevel = "INFO"
	Warn  LogLevel = "WARN"
	Error LogLevel = "ERROR"
)

func getColor(level LogLevel) int {
	switch level {
	case Info:
		return 3066993 // Green
	case Warn:
		return 15105570 // Orange
	case Error:
		return 15158332 // Red
	default:
		return 3447003 // Blue
	}
}

// sendLog posts a log embed to the staff log channel. Failures are only
// written to the process log.
func sendLog(chat transport.Chat, channelID string, level LogLevel, module, operation, extraInfo string) {
	log.Printf("[%s] %s %s: %s", module, level, operation, extraInfo)
	if chat == nil || channelID == "" {
		return
	}

	embed := &transport.Embed{
		Title: string(level) + " Log",
		Color: getColor(level),
		Fields: []transport.EmbedField{
			{Name: "Module", Value: module},
			{Name: "Operation", Value: operation},
			{Name: "Info", Value: extraInfo},
		},
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := chat.SendEmbed(ctx, channelID, embed); err != nil {
		log.Printf("[%s] Failed to post log embed to channel %s: %v", module, channelID, err)
	}
}

func LogInfo(chat transport.Chat, channelID, module, operation, extraInfo string) {
	sendLog(chat, channelID, Info, module, operation, extraInfo)
}

func LogWarn(chat transport.Chat, channelID, module, operation, extraInfo string) {
	sendLog(chat, channelID, Warn, module, operation, extraInfo)
}

func LogError(chat transport.Chat, channelID, module, operation, extraInfo string) {
	sendLog(chat, channelID, Error, module, operation, extraInfo)
}
