package engine

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

type Config struct {
	// NodeURL is the base URL of the node REST API. Required.
	NodeURL string `yaml:"node_url"`

	// IndexerURL is the GraphQL indexer endpoint. When empty, every fetch
	// goes through the node.
	IndexerURL string `yaml:"indexer_url"`

	// SignerURL points at a remote signing service that decrypts on the
	// account's behalf. When empty, decryption happens locally using the
	// seed phrase from the SeedEnv environment variable.
	SignerURL string `yaml:"signer_url"`

	// OwnerPublicKey is the logged-in account. Filled in by login.
	OwnerPublicKey string `yaml:"owner_public_key"`

	// SeedEnv names the environment variable holding the seed phrase for
	// local decryption. The phrase itself never belongs in the config file.
	SeedEnv string `yaml:"seed_env"`

	PageSize       int    `yaml:"page_size"`
	DecryptWorkers int    `yaml:"decrypt_workers"`
	DBPath         string `yaml:"db_path"`
	LogLevel       string `yaml:"log_level"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	err := node.Decode((*umConfig)(c))
	if err != nil {
		return err
	}
	return c.PostProcess()
}

func (c *Config) PostProcess() error {
	if c.NodeURL == "" {
		return errors.New("node_url is required")
	}
	if c.SeedEnv == "" {
		c.SeedEnv = "TUNDRA_SEED"
	}
	if c.PageSize < 1 {
		c.PageSize = defaultPageSize
	} else if c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
	if c.DecryptWorkers < 1 {
		c.DecryptWorkers = defaultDecryptWorkers
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	// Empty documents never reach UnmarshalYAML.
	if err = cfg.PostProcess(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
