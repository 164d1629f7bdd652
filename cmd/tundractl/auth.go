package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tundrachat/tundra/pkg/engine"
	"github.com/tundrachat/tundra/pkg/keys"
)

var loginCommand = &cli.Command{
	Name:   "login",
	Usage:  "Derive the account identity from a seed phrase and save it",
	Before: prepareApp,
	Action: cmdLogin,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "node",
			Usage: "Node REST API base URL",
		},
		&cli.StringFlag{
			Name:  "indexer",
			Usage: "GraphQL indexer endpoint (empty disables the indexer)",
		},
		&cli.StringFlag{
			Name:  "signer",
			Usage: "Remote signing service URL (empty decrypts locally)",
		},
	},
}

var logoutCommand = &cli.Command{
	Name:   "logout",
	Usage:  "Forget the account and wipe its local cache",
	Before: requiresAuth,
	Action: cmdLogout,
}

var whoamiCommand = &cli.Command{
	Name:    "whoami",
	Aliases: []string{"w"},
	Usage:   "Show the logged-in account",
	Before:  requiresAuth,
	Action:  cmdWhoami,
}

func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	return strings.TrimSpace(line), err
}

func saveCLIConfig(ctx *cli.Context, cfg *engine.Config) error {
	path := ctx.String("config")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := engine.SaveConfig(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func cmdLogin(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	if node := ctx.String("node"); node != "" {
		cfg.NodeURL = node
	}
	if ctx.IsSet("indexer") {
		cfg.IndexerURL = ctx.String("indexer")
	}
	if ctx.IsSet("signer") {
		cfg.SignerURL = ctx.String("signer")
	}

	// The phrase is only needed long enough to derive the public identity;
	// it is read from the environment or the terminal, never persisted.
	phrase := os.Getenv(cfg.SeedEnv)
	if phrase == "" {
		var err error
		phrase, err = readLine("Seed phrase: ")
		if err != nil {
			return err
		}
	}
	seed, err := keys.SeedFromMnemonic(phrase, "")
	if err != nil {
		return err
	}
	cfg.OwnerPublicKey = keys.EncodePublicKey(keys.OwnerKeyFromSeed(seed).PubKey())

	if err = saveCLIConfig(ctx, cfg); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", cfg.OwnerPublicKey)
	if cfg.SignerURL == "" {
		fmt.Printf("Messages will be decrypted locally; keep %s exported when running commands.\n", cfg.SeedEnv)
	}
	return nil
}

func cmdLogout(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	owner := cfg.OwnerPublicKey

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open cache for wipe: %v\n", err)
	} else if store != nil {
		if err = store.Wipe(ctx.Context); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to wipe cache: %v\n", err)
		}
		cleanup()
	}

	cfg.OwnerPublicKey = ""
	if err = saveCLIConfig(ctx, cfg); err != nil {
		return err
	}
	fmt.Printf("Logged out of %s\n", owner)
	return nil
}

func cmdWhoami(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	fmt.Println(cfg.OwnerPublicKey)

	// Show the cached display profile when one is known.
	store, cleanup, err := openStore(ctx, cfg)
	if err != nil || store == nil {
		return nil
	}
	defer cleanup()
	if hint, err := store.GetProfile(ctx.Context, cfg.OwnerPublicKey); err == nil && hint != nil && hint.Username != "" {
		fmt.Printf("  @%s\n", hint.Username)
	}
	return nil
}
