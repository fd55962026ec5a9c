// Command gensecret prints a random secret key.
// With --uid it prints an access token signed by --secret-key instead, for local testing.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/service/auth"
)

const SecretKeyBytesLen = 32

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gensecret: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	secretKey := fs.StringP("secret-key", "s", "", "Key to sign the access token with")
	uid := fs.String("uid", "", "Issue access token for this user")
	email := fs.String("email", "", "User email claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "Access token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *uid == "" {
		b := make([]byte, SecretKeyBytesLen)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("error while generating secret key: %w", err)
		}
		_, err := fmt.Fprintln(out, hex.EncodeToString(b))
		return err
	}

	tm, err := auth.New(auth.Config{SecretKey: *secretKey, AccessTTL: *ttl})
	if err != nil {
		return err
	}
	token, err := tm.Issue(models.User{ID: *uid, Email: *email})
	if err != nil {
		return fmt.Errorf("error while issuing token: %w", err)
	}
	_, err = fmt.Fprintln(out, token.Value)
	return err
}
