package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.mau.fi/util/dbutil"
	"gopkg.in/yaml.v3"

	"github.com/tundrachat/tundra/pkg/engine"
	"github.com/tundrachat/tundra/pkg/indexer"
	"github.com/tundrachat/tundra/pkg/keys"
	"github.com/tundrachat/tundra/pkg/nodeapi"
	"github.com/tundrachat/tundra/pkg/signer"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
)

func getConfig(ctx *cli.Context) *engine.Config {
	return ctx.Context.Value(contextKeyConfig).(*engine.Config)
}

func getConfigPath() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "tundractl", "config.yaml")
}

// loadCLIConfig reads the config file, falling back to the built-in example
// config when none exists yet so login works on a fresh machine.
func loadCLIConfig(path string) (*engine.Config, error) {
	cfg, err := engine.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = &engine.Config{}
		if err = yaml.Unmarshal([]byte(engine.ExampleConfig), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse built-in defaults: %w", err)
		}
		return cfg, nil
	}
	return cfg, err
}

func prepareApp(ctx *cli.Context) error {
	_ = godotenv.Load()
	cfg, err := loadCLIConfig(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyConfig, cfg)
	return nil
}

func requiresAuth(ctx *cli.Context) error {
	if err := prepareApp(ctx); err != nil {
		return err
	}
	if getConfig(ctx).OwnerPublicKey == "" {
		return fmt.Errorf("you are not logged in — run 'tundractl login' first")
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func buildDecryptor(cfg *engine.Config) (engine.Decryptor, error) {
	if cfg.SignerURL != "" {
		return signer.NewClient(cfg.SignerURL, cfg.OwnerPublicKey), nil
	}
	phrase := os.Getenv(cfg.SeedEnv)
	if phrase == "" {
		return nil, fmt.Errorf("no signer configured and %s is not set — export the seed phrase or set signer_url", cfg.SeedEnv)
	}
	seed, err := keys.SeedFromMnemonic(phrase, "")
	if err != nil {
		return nil, err
	}
	return engine.NewLocalDecryptor(cfg.OwnerPublicKey, seed), nil
}

func openStore(ctx *cli.Context, cfg *engine.Config) (*engine.Store, func(), error) {
	if cfg.DBPath == "" {
		return nil, func() {}, nil
	}
	db, err := dbutil.NewWithDialect(cfg.DBPath, "sqlite3")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	store := engine.NewStore(db, cfg.OwnerPublicKey)
	if err = store.EnsureSchema(ctx.Context); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to prepare cache database: %w", err)
	}
	return store, func() { _ = db.Close() }, nil
}

func openSession(ctx *cli.Context) (*engine.Session, func(), error) {
	cfg := getConfig(ctx)
	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	dec, err := buildDecryptor(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var ix *indexer.Client
	if cfg.IndexerURL != "" {
		ix = indexer.NewClient(cfg.IndexerURL)
	}

	sess, err := engine.NewSession(engine.SessionParams{
		OwnerPublicKey: cfg.OwnerPublicKey,
		Node:           nodeapi.NewClient(cfg.NodeURL),
		Indexer:        ix,
		Decryptor:      dec,
		Store:          store,
		Logger:         newLogger(cfg.LogLevel),
		PageSize:       cfg.PageSize,
		DecryptWorkers: cfg.DecryptWorkers,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return sess, cleanup, nil
}

func main() {
	app := &cli.App{
		Name:    "tundractl",
		Usage:   "Read encrypted chats from the command line",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file",
				Value: getConfigPath(),
			},
		},
		Commands: []*cli.Command{
			loginCommand,
			logoutCommand,
			whoamiCommand,
			chatsCommand,
			historyCommand,
			groupsCommand,
			membersCommand,
			watchCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
