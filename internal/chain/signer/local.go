package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	EnvPrivateKey           = "LAZYTRADER_PRIVATE_KEY"
	EnvPrivateKeyFile       = "LAZYTRADER_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "LAZYTRADER_KEYSTORE_PATH"
	EnvKeystorePassword     = "LAZYTRADER_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "LAZYTRADER_KEYSTORE_PASSWORD_FILE"

	SourceAuto     = "auto"
	SourceEnv      = "env"
	SourceFile     = "file"
	SourceKeystore = "keystore"

	keyRelativePath = "lazytrader/key.hex"
	keyHintPath     = "~/.config/lazytrader/key.hex"
)

// ErrNoKey is returned when no key material is configured at all.
var ErrNoKey = errors.New("no signing key configured")

type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

type Config struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

// ConfigFromEnv reads key material locations from the environment and narrows
// them to the requested source. A non-empty override always wins.
func ConfigFromEnv(source, override string) (Config, error) {
	cfg := Config{
		PrivateKeyHex:        strings.TrimSpace(os.Getenv(EnvPrivateKey)),
		PrivateKeyFile:       strings.TrimSpace(os.Getenv(EnvPrivateKeyFile)),
		KeystorePath:         strings.TrimSpace(os.Getenv(EnvKeystorePath)),
		KeystorePassword:     strings.TrimSpace(os.Getenv(EnvKeystorePassword)),
		KeystorePasswordFile: strings.TrimSpace(os.Getenv(EnvKeystorePasswordFile)),
	}
	if cfg.PrivateKeyFile == "" {
		cfg.PrivateKeyFile = existingFile(defaultKeyPath())
	}

	if strings.TrimSpace(override) != "" {
		return Config{PrivateKeyHex: strings.TrimSpace(override)}, nil
	}

	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", SourceAuto:
	case SourceEnv:
		cfg = Config{PrivateKeyHex: cfg.PrivateKeyHex}
	case SourceFile:
		cfg = Config{PrivateKeyFile: cfg.PrivateKeyFile}
	case SourceKeystore:
		cfg.PrivateKeyHex = ""
		cfg.PrivateKeyFile = ""
	default:
		return Config{}, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", source, SourceAuto, SourceEnv, SourceFile, SourceKeystore)
	}
	return cfg, nil
}

// FromEnv builds a signer from ConfigFromEnv.
func FromEnv(source, override string) (*LocalSigner, error) {
	cfg, err := ConfigFromEnv(source, override)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

func New(cfg Config) (*LocalSigner, error) {
	pk, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func loadPrivateKey(cfg Config) (*ecdsa.PrivateKey, error) {
	switch {
	case strings.TrimSpace(cfg.PrivateKeyHex) != "":
		return parseHexKey(cfg.PrivateKeyHex)
	case strings.TrimSpace(cfg.PrivateKeyFile) != "":
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	case strings.TrimSpace(cfg.KeystorePath) != "":
		return loadKeystore(cfg)
	}
	return nil, fmt.Errorf("%w: set %s, save a key to %s, use %s, or pass --private-key", ErrNoKey, EnvPrivateKey, keyHintPath, EnvKeystorePath)
}

func loadKeystore(cfg Config) (*ecdsa.PrivateKey, error) {
	password := cfg.KeystorePassword
	if strings.TrimSpace(password) == "" && strings.TrimSpace(cfg.KeystorePasswordFile) != "" {
		buf, err := os.ReadFile(cfg.KeystorePasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read keystore password file: %w", err)
		}
		password = strings.TrimSpace(string(buf))
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("keystore password is required")
	}
	buf, err := os.ReadFile(cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

func defaultKeyPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, keyRelativePath)
}

func existingFile(path string) string {
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
