package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned by Load when nothing has been stored.
var ErrNoToken = errors.New("no stored token")

// Vault persists the session token between runs.
type Vault interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	Clear() error
}

type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// FileVault keeps the token in a single AES-256-GCM encrypted file.
type FileVault struct {
	mu   sync.Mutex
	path string
	aead cipher.AEAD
}

// NewFileVault derives the file key from secret with HKDF-SHA256.
func NewFileVault(path, secret string) (*FileVault, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("token file path is required")
	}
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	key, err := deriveKey([]byte(secret))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FileVault{path: path, aead: aead}, nil
}

func deriveKey(secret []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, nil, []byte("signalcraft-token-vault"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return key, nil
}

// Load decrypts the stored token.
func (v *FileVault) Load() (*oauth2.Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("token file too short")
	}
	plain, err := v.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt token file: %w", err)
	}
	var st storedToken
	if err := json.Unmarshal(plain, &st); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
		Expiry:       st.Expiry,
	}, nil
}

// Save encrypts tok and replaces the file atomically.
func (v *FileVault) Save(tok *oauth2.Token) error {
	if tok == nil {
		return v.Clear()
	}
	plain, err := json.Marshal(storedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		return err
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	sealed := v.aead.Seal(nonce, nonce, plain, nil)
	encoded := base64.StdEncoding.EncodeToString(sealed)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return os.Rename(tmp, v.path)
}

// Clear removes the stored token.
func (v *FileVault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := os.Remove(v.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryVault keeps the token in process memory.
type MemoryVault struct {
	mu  sync.Mutex
	tok *oauth2.Token
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{}
}

func (v *MemoryVault) Load() (*oauth2.Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.tok == nil {
		return nil, ErrNoToken
	}
	cp := *v.tok
	return &cp, nil
}

func (v *MemoryVault) Save(tok *oauth2.Token) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if tok == nil {
		v.tok = nil
		return nil
	}
	cp := *tok
	v.tok = &cp
	return nil
}

func (v *MemoryVault) Clear() error {
	return v.Save(nil)
}

var (
	_ Vault = (*FileVault)(nil)
	_ Vault = (*MemoryVault)(nil)
)
