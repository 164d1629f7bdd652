package main

import (
	"fmt"
	"math"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tundrachat/tundra/pkg/chat"
	"github.com/tundrachat/tundra/pkg/engine"
)

var chatsCommand = &cli.Command{
	Name:    "chats",
	Aliases: []string{"ls"},
	Usage:   "List conversations, newest first",
	Before:  requiresAuth,
	Action:  cmdChats,
}

func cmdChats(ctx *cli.Context) error {
	sess, cleanup, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	convs, err := sess.SyncConversations(ctx.Context)
	if err != nil {
		cached, cacheErr := sess.CachedConversations(ctx.Context)
		if cacheErr != nil || len(cached) == 0 {
			return fmt.Errorf("failed to sync conversations: %w", err)
		}
		fmt.Println("(backends unreachable, showing cached conversations)")
		convs = cached
	}
	if len(convs) == 0 {
		fmt.Println("No conversations yet.")
		return nil
	}
	for _, conv := range convs {
		printConversationLine(ctx, sess, conv)
	}
	return nil
}

func printConversationLine(ctx *cli.Context, sess *engine.Session, conv *chat.Conversation) {
	label := displayName(ctx, sess, conv.Counterparty.OwnerPublicKey)
	if conv.ChatType == chat.ChatTypeGroup {
		label = fmt.Sprintf("%s/%s", label, conv.Counterparty.GroupKeyName)
	}
	latest := conv.Latest()
	fmt.Printf("%-12s %-28s %s  %s\n", conv.ChatType, label, formatTime(latest), renderBody(latest))
}

// displayName prefers the username, falling back to a shortened key.
func displayName(ctx *cli.Context, sess *engine.Session, publicKey string) string {
	if hint := sess.ProfileFor(ctx.Context, publicKey); hint.Username != "" {
		return "@" + hint.Username
	}
	return shortKey(publicKey)
}

func shortKey(publicKey string) string {
	if len(publicKey) > 12 {
		return publicKey[:12] + "..."
	}
	return publicKey
}

func renderBody(msg *chat.Message) string {
	if msg == nil {
		return ""
	}
	if msg.DecryptionError != "" {
		return "<" + msg.DecryptionError + ">"
	}
	return msg.Plaintext
}

func formatTime(msg *chat.Message) string {
	if msg == nil || msg.MessageInfo.TimestampNanos == 0 {
		return "                "
	}
	nanos := msg.MessageInfo.TimestampNanos
	if nanos > math.MaxInt64 {
		nanos = math.MaxInt64
	}
	return time.Unix(0, int64(nanos)).Local().Format("2006-01-02 15:04")
}
