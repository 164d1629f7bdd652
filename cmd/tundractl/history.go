package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tundrachat/tundra/pkg/chat"
	"github.com/tundrachat/tundra/pkg/engine"
)

var historyCommand = &cli.Command{
	Name:      "history",
	Aliases:   []string{"log"},
	Usage:     "Show the message history of one thread, oldest first",
	ArgsUsage: "COUNTERPARTY",
	Before:    requiresAuth,
	Action:    cmdHistory,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "group",
			Aliases: []string{"g"},
			Usage:   "Treat COUNTERPARTY as a group owner key instead of a DM partner",
		},
		&cli.StringFlag{
			Name:    "key-name",
			Aliases: []string{"k"},
			Usage:   "Access group key name of the thread",
		},
		&cli.IntFlag{
			Name:    "pages",
			Aliases: []string{"n"},
			Value:   1,
			Usage:   "Number of pages to fetch",
		},
		&cli.BoolFlag{
			Name:    "all",
			Aliases: []string{"a"},
			Usage:   "Keep paging until the thread is exhausted",
		},
		&cli.BoolFlag{
			Name:    "resume",
			Aliases: []string{"r"},
			Usage:   "Continue from the position persisted by the previous run instead of the newest page",
		},
	},
}

// threadSelectorFromArgs builds the selector shared by history and watch from
// the positional counterparty argument and the --group/--key-name flags.
func threadSelectorFromArgs(ctx *cli.Context, owner string) (chat.ThreadSelector, error) {
	if ctx.NArg() == 0 {
		return chat.ThreadSelector{}, fmt.Errorf("you must specify a counterparty public key")
	}
	counterparty := ctx.Args().Get(0)
	keyName := ctx.String("key-name")
	if ctx.Bool("group") {
		if keyName == "" {
			return chat.ThreadSelector{}, fmt.Errorf("group threads require --key-name")
		}
		return chat.ThreadSelector{
			ChatType: chat.ChatTypeGroup,
			User:     chat.PartyInfo{OwnerPublicKey: owner, GroupKeyName: chat.DefaultKeyName},
			Party:    chat.PartyInfo{OwnerPublicKey: counterparty, GroupKeyName: keyName},
		}, nil
	}
	if keyName == "" {
		keyName = chat.DefaultKeyName
	}
	return chat.ThreadSelector{
		ChatType: chat.ChatTypeDM,
		User:     chat.PartyInfo{OwnerPublicKey: owner, GroupKeyName: chat.DefaultKeyName},
		Party:    chat.PartyInfo{OwnerPublicKey: counterparty, GroupKeyName: keyName},
	}, nil
}

func cmdHistory(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	sel, err := threadSelectorFromArgs(ctx, cfg.OwnerPublicKey)
	if err != nil {
		return err
	}
	sess, cleanup, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	maxPages := ctx.Int("pages")
	if maxPages < 1 {
		maxPages = 1
	}
	fetchAll := ctx.Bool("all")

	req := chat.PageRequest{}
	if ctx.Bool("resume") {
		req = sess.ResumePosition(ctx.Context, sel)
	}

	var conv *chat.Conversation
	for fetched := 0; ; {
		var more bool
		conv, req, more, err = sess.LoadThread(ctx.Context, sel, req)
		if err != nil {
			// With nothing fetched yet the cache is a better answer than an
			// error. Mid-pagination failures keep the error so a partial
			// thread is never mistaken for the whole one.
			if fetched == 0 {
				if cached := cachedThread(ctx, sess, sel, maxPages, fetchAll); cached != nil {
					printThread(ctx, sess, cached)
					return nil
				}
			}
			return fmt.Errorf("failed to load thread: %w", err)
		}
		fetched++
		if !more || (!fetchAll && fetched >= maxPages) {
			break
		}
	}
	if len(conv.Messages) == 0 {
		fmt.Println("No messages in this thread.")
		return nil
	}
	printThread(ctx, sess, conv)
	return nil
}

// cachedThread serves history from the local cache when the live load fails
// outright. Returns nil when there is nothing cached to show.
func cachedThread(ctx *cli.Context, sess *engine.Session, sel chat.ThreadSelector, maxPages int, fetchAll bool) *chat.Conversation {
	limit := maxPages * getConfig(ctx).PageSize
	if fetchAll {
		limit = 0
	}
	conv, err := sess.CachedThread(ctx.Context, sel, limit)
	if err != nil || len(conv.Messages) == 0 {
		return nil
	}
	fmt.Println("(backends unreachable, showing cached history)")
	return conv
}

func printThread(ctx *cli.Context, sess *engine.Session, conv *chat.Conversation) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := &conv.Messages[i]
		fmt.Printf("[%s] %s: %s\n", formatTime(msg), senderLabel(ctx, sess, msg), renderBody(msg))
	}
}

func senderLabel(ctx *cli.Context, sess *engine.Session, msg *chat.Message) string {
	if msg.IsSender {
		return "me"
	}
	return displayName(ctx, sess, msg.SenderInfo.OwnerPublicKey)
}
