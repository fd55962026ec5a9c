package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/service/auth"
)

func Test_run(t *testing.T) {
	t.Run("secret", func(t *testing.T) {
		var out bytes.Buffer

		err := run(nil, &out)

		require.NoError(t, err)
		require.Len(t, strings.TrimSpace(out.String()), 2*SecretKeyBytesLen, "hex encoded key expected")
	})

	t.Run("token", func(t *testing.T) {
		var out bytes.Buffer

		err := run([]string{"--secret-key", "secret", "--uid", "u1", "--email", "u1@example.com"}, &out)
		require.NoError(t, err)

		tm, err := auth.New(auth.Config{SecretKey: "secret"})
		require.NoError(t, err)
		user, err := tm.ParseAccess(strings.TrimSpace(out.String()))
		require.NoError(t, err, "printed token must be accepted by the server")
		require.Equal(t, "u1", user.ID)
		require.Equal(t, "u1@example.com", user.Email)
	})

	t.Run("token without key", func(t *testing.T) {
		err := run([]string{"--uid", "u1"}, &bytes.Buffer{})

		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})
}
