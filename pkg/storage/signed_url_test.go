package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("demande-1", "demandes/demande-1/devis.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	subject, key, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "demande-1", subject)
	require.Equal(t, "demandes/demande-1/devis.pdf", key)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("demande-1", "demandes/demande-1/devis.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, _, err = signer.Parse(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("demande-1", "demandes/demande-1/devis.pdf")
	require.NoError(t, err)

	tampered := strings.Replace(token, "demande-1", "demande-2", 1)
	_, _, _, err = signer.Parse(tampered)
	require.ErrorIs(t, err, ErrTokenSignature)

	other := NewSignedURLSigner("other", time.Hour)
	_, _, _, err = other.Parse(token)
	require.ErrorIs(t, err, ErrTokenSignature)

	_, _, _, err = signer.Parse("not-a-token")
	require.ErrorIs(t, err, ErrTokenMalformed)
}

func TestSignedURLSignerRequiresInputs(t *testing.T) {
	_, _, err := NewSignedURLSigner("secret", time.Hour).Generate("", "key")
	require.Error(t, err)
	_, _, err = NewSignedURLSigner("", time.Hour).Generate("demande-1", "key")
	require.Error(t, err)
}
