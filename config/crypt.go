// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math"
	"regexp"
)

// decryptor wraps an RSA private key used to decrypt "ENC(...)" config
// fields, ported from pkg/serve/encrypt.go's Decryptor (the teacher's
// config.go referenced an undefined *Decrypter type — a dangling
// reference never wired to this, its own encryption code). Decrypter below
// defines that type: NewDecrypter builds it from the raw decrypted_key
// string, and Database.Decrypt / Bucket.Decrypt take the *Decrypter.
type decryptor struct {
	*rsa.PrivateKey
}

func parseRsaKey(key []byte) (any, error) {
	block, _ := pem.Decode(key)
	if block == nil {
		return nil, errors.New("config: malformed key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		return x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	return nil, fmt.Errorf("config: key type not supported: %s", block.Type)
}

func newDecryptor(decryptedKey string) (*decryptor, error) {
	rsaKey, err := parseRsaKey([]byte(decryptedKey))
	if err != nil {
		return nil, err
	}
	if k, ok := rsaKey.(*rsa.PrivateKey); ok {
		return &decryptor{PrivateKey: k}, nil
	}
	return nil, errors.New("config: not an rsa private key")
}

func (d *decryptor) decrypt(data []byte) ([]byte, error) {
	chunkLen := d.N.BitLen() / 8
	var b bytes.Buffer
	chunkNum := int(math.Ceil(float64(len(data)) / float64(chunkLen)))
	for i := 0; i < chunkNum; i++ {
		end := chunkLen * (i + 1)
		if i == chunkNum-1 {
			end = len(data)
		}
		part, err := rsa.DecryptPKCS1v15(rand.Reader, d.PrivateKey, data[chunkLen*i:end])
		if err != nil {
			return nil, err
		}
		b.Write(part)
	}
	return b.Bytes(), nil
}

func (d *decryptor) encrypt(data []byte) ([]byte, error) {
	chunkLen := d.N.BitLen()/8 - 11
	var b bytes.Buffer
	chunkNum := int(math.Ceil(float64(len(data)) / float64(chunkLen)))
	for i := 0; i < chunkNum; i++ {
		end := chunkLen * (i + 1)
		if i == chunkNum-1 {
			end = len(data)
		}
		part, err := rsa.EncryptPKCS1v15(rand.Reader, &d.PublicKey, data[chunkLen*i:end])
		if err != nil {
			return nil, err
		}
		b.Write(part)
	}
	return b.Bytes(), nil
}

var regEncryptBlock = regexp.MustCompile(`^ENC\((?:[A-Za-z0-9+\\/]{4})*(?:[A-Za-z0-9+\\/]{2}==|[A-Za-z0-9+\\/]{3}=|[A-Za-z0-9+\\/]{4})\)$`)

// Decrypter decrypts "ENC(...)"-wrapped config values given the server's
// decrypted_key. A nil Decrypter leaves fields untouched, matching
// plaintext-only deployments.
type Decrypter struct {
	key string
}

// NewDecrypter returns nil if key is empty, so every Decrypt call below
// becomes a no-op without a nil check at each use site.
func NewDecrypter(key string) *Decrypter {
	if key == "" {
		return nil
	}
	return &Decrypter{key: key}
}

// Decrypt returns content unchanged unless it is an "ENC(...)" block.
func (d *Decrypter) Decrypt(content string) (string, error) {
	if d == nil || !regEncryptBlock.MatchString(content) {
		return content, nil
	}
	raw, err := base64.StdEncoding.DecodeString(content[4 : len(content)-1])
	if err != nil {
		return "", err
	}
	dec, err := newDecryptor(d.key)
	if err != nil {
		return "", err
	}
	plain, err := dec.decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Encrypt wraps plaintext as an "ENC(...)" block decryptable by Decrypter
// given the matching decrypted_key, for operators preparing config files
// (the zeta-serve encrypt subcommand's sole use of this package).
func Encrypt(plaintext, decryptedKey string) (string, error) {
	dec, err := newDecryptor(decryptedKey)
	if err != nil {
		return "", err
	}
	cipher, err := dec.encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return "ENC(" + base64.StdEncoding.EncodeToString(cipher) + ")", nil
}
