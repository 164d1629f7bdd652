package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tundrachat/tundra/pkg/chat"
)

var groupsCommand = &cli.Command{
	Name:   "groups",
	Usage:  "List access groups the account owns or has joined",
	Before: requiresAuth,
	Action: cmdGroups,
}

var membersCommand = &cli.Command{
	Name:      "members",
	Usage:     "List group chat members (needs an indexer)",
	ArgsUsage: "[GROUP_OWNER KEY_NAME]",
	Before:    requiresAuth,
	Action:    cmdMembers,
}

func cmdGroups(ctx *cli.Context) error {
	sess, cleanup, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := sess.AccessGroups(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to fetch access groups: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No access groups.")
		return nil
	}

	for _, entry := range entries {
		role := "member"
		if entry.OwnerPublicKey == sess.Owner() {
			role = "owner"
		}
		keyStatus := "no member key"
		if entry.Member != nil && entry.Member.EncryptedKey != "" {
			keyStatus = "member key held"
		}
		fmt.Printf("%-8s %-24s %s (%s)\n", role, entry.KeyName, shortKey(entry.OwnerPublicKey), keyStatus)
	}
	return nil
}

// cmdMembers resolves member lists, for every known group by default or for
// the single group named by the positional arguments.
func cmdMembers(ctx *cli.Context) error {
	if ctx.NArg() == 1 {
		return fmt.Errorf("members takes either no arguments or GROUP_OWNER KEY_NAME")
	}
	sess, cleanup, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var refs []chat.PartyInfo
	if ctx.NArg() >= 2 {
		refs = append(refs, chat.PartyInfo{
			OwnerPublicKey: ctx.Args().Get(0),
			GroupKeyName:   ctx.Args().Get(1),
		})
	} else {
		entries, err := sess.AccessGroups(ctx.Context)
		if err != nil {
			return fmt.Errorf("failed to fetch access groups: %w", err)
		}
		for _, entry := range entries {
			refs = append(refs, chat.PartyInfo{OwnerPublicKey: entry.OwnerPublicKey, GroupKeyName: entry.KeyName})
		}
	}
	if len(refs) == 0 {
		fmt.Println("No access groups.")
		return nil
	}

	members, err := sess.GroupMembers(ctx.Context, refs)
	if err != nil {
		return fmt.Errorf("failed to resolve group members: %w", err)
	}
	for _, ref := range refs {
		fmt.Printf("%s/%s\n", shortKey(ref.OwnerPublicKey), ref.GroupKeyName)
		list := members[chat.ConversationKey(ref)]
		if len(list) == 0 {
			fmt.Println("         (no members resolved)")
			continue
		}
		for _, member := range list {
			fmt.Printf("         %s\n", displayName(ctx, sess, member))
		}
	}
	return nil
}
