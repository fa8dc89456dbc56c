// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func generateTestKeyPEM(t *testing.T) (privPEM string, pub *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block)), &key.PublicKey
}

func TestDecrypterRoundTrip(t *testing.T) {
	privPEM, pub := generateTestKeyPEM(t)

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte("s3cr3t-passwd"))
	require.NoError(t, err)

	wrapped := "ENC(" + base64.StdEncoding.EncodeToString(ciphertext) + ")"

	dec := NewDecrypter(privPEM)
	require.NotNil(t, dec)

	plain, err := dec.Decrypt(wrapped)
	require.NoError(t, err)
	require.Equal(t, "s3cr3t-passwd", plain)
}

func TestDecrypterLeavesPlaintextAlone(t *testing.T) {
	privPEM, _ := generateTestKeyPEM(t)
	dec := NewDecrypter(privPEM)
	out, err := dec.Decrypt("not-wrapped")
	require.NoError(t, err)
	require.Equal(t, "not-wrapped", out)
}

func TestParseRsaKeyRejectsGarbage(t *testing.T) {
	_, err := parseRsaKey([]byte("not a pem block"))
	require.Error(t, err)
}

func TestDatabaseDecryptRoundTrip(t *testing.T) {
	privPEM, pub := generateTestKeyPEM(t)
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte("mysql-pass"))
	require.NoError(t, err)
	wrapped := "ENC(" + base64.StdEncoding.EncodeToString(ciphertext) + ")"

	db := &Database{Passwd: wrapped}
	db.Decrypt(NewDecrypter(privPEM))
	require.Equal(t, "mysql-pass", db.Passwd)
}
