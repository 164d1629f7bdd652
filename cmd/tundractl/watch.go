package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tundrachat/tundra/pkg/chat"
)

var watchCommand = &cli.Command{
	Name:      "watch",
	Usage:     "Follow one thread and print new messages as they arrive",
	ArgsUsage: "COUNTERPARTY",
	Before:    requiresAuth,
	Action:    cmdWatch,
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
		&cli.DurationFlag{
			Name:    "interval",
			Aliases: []string{"i"},
			Value:   5 * time.Second,
			Usage:   "Poll interval",
		},
	},
}

func cmdWatch(ctx *cli.Context) error {
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

	watchCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Watching %s every %s, press Ctrl+C to stop\n", ctx.Args().Get(0), ctx.Duration("interval"))
	err = sess.WatchThread(watchCtx, sel, ctx.Duration("interval"), func(msg chat.Message) {
		fmt.Printf("[%s] %s: %s\n", formatTime(&msg), senderLabel(ctx, sess, &msg), renderBody(&msg))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
