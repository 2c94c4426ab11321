// Package chacha provides a length-preserving stream Cryptor for the packet
// engine. Each direction of a connection runs its own ChaCha20 keystream
// derived with HKDF-SHA256 from a shared secret and a per-connection salt.
// ClientHandshake and ServerHandshake exchange that salt in the clear before
// the first frame, so no two sessions under one secret share a keystream.
package chacha

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// Role selects which derived stream is used for which direction.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

var (
	labelClientToServer = []byte("gpnet c2s")
	labelServerToClient = []byte("gpnet s2c")
)

const (
	// MinSecretLen is the shortest accepted shared secret.
	MinSecretLen = 16

	// SaltLen is the size of the salt the client sends when connecting.
	SaltLen = 16
)

var errShortSecret = errors.New("chacha: shared secret too short")

// Cryptor encrypts outbound frames and decrypts the inbound stream. Encrypt
// must only be called from the write path and Decrypt from the read path,
// which is how the connection uses it.
type Cryptor struct {
	enc *chacha20.Cipher
	dec *chacha20.Cipher
}

// New derives both direction keystreams from secret and salt.
func New(secret, salt []byte, role Role) (*Cryptor, error) {
	if len(secret) < MinSecretLen {
		return nil, errShortSecret
	}

	c2s, err := newStream(secret, salt, labelClientToServer)
	if err != nil {
		return nil, err
	}
	s2c, err := newStream(secret, salt, labelServerToClient)
	if err != nil {
		return nil, err
	}

	if role == RoleServer {
		return &Cryptor{enc: s2c, dec: c2s}, nil
	}
	return &Cryptor{enc: c2s, dec: s2c}, nil
}

// ClientHandshake sends a fresh random salt on w and returns the client
// cryptor derived from it.
func ClientHandshake(w io.Writer, secret []byte) (*Cryptor, error) {
	if len(secret) < MinSecretLen {
		return nil, errShortSecret
	}
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("chacha: generate salt: %w", err)
	}
	if _, err := w.Write(salt); err != nil {
		return nil, fmt.Errorf("chacha: send salt: %w", err)
	}
	return New(secret, salt, RoleClient)
}

// ServerHandshake reads the client's salt from r and returns the server
// cryptor derived from it.
func ServerHandshake(r io.Reader, secret []byte) (*Cryptor, error) {
	if len(secret) < MinSecretLen {
		return nil, errShortSecret
	}
	salt := make([]byte, SaltLen)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("chacha: read salt: %w", err)
	}
	return New(secret, salt, RoleServer)
}

func newStream(secret, salt, info []byte) (*chacha20.Cipher, error) {
	material := make([]byte, chacha20.KeySize+chacha20.NonceSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), material); err != nil {
		return nil, fmt.Errorf("chacha: derive key: %w", err)
	}
	c, err := chacha20.NewUnauthenticatedCipher(material[:chacha20.KeySize], material[chacha20.KeySize:])
	if err != nil {
		return nil, fmt.Errorf("chacha: new cipher: %w", err)
	}
	return c, nil
}

// Encrypt XORs data with the outbound keystream into dst.
func (c *Cryptor) Encrypt(data, dst []byte) ([]byte, bool) {
	return xor(c.enc, data, dst), true
}

// Decrypt XORs data with the inbound keystream into dst.
func (c *Cryptor) Decrypt(data, dst []byte) ([]byte, bool) {
	return xor(c.dec, data, dst), true
}

func xor(s *chacha20.Cipher, data, dst []byte) []byte {
	if len(dst) < len(data) {
		dst = make([]byte, len(data))
	}
	dst = dst[:len(data)]
	s.XORKeyStream(dst, data)
	return dst
}
