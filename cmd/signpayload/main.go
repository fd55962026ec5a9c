// Command signpayload prints the webhook signature of a request body,
// so a webhook can be replayed against a local server by hand:
//
//	curl -H "X-Paystack-Signature: $(signpayload -s $SECRET body.json)" --data-binary @body.json ...
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/depositledger/internal/service/signature"
)

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "signpayload: %v\n", err)
		os.Exit(1)
	}
}

// Body is read from the file argument, or stdin if there is none
func run(args []string, getenv func(string) string, stdin io.Reader, out io.Writer) error {
	fs := pflag.NewFlagSet("signpayload", pflag.ContinueOnError)
	secret := fs.StringP("secret", "s", getenv("GATEWAY_SECRET"), "Gateway secret, GATEWAY_SECRET by default")
	if err := fs.Parse(args); err != nil {
		return err
	}

	verifier, err := signature.NewVerifier(*secret)
	if err != nil {
		return err
	}

	var body []byte
	switch fs.NArg() {
	case 0:
		body, err = io.ReadAll(stdin)
	case 1:
		body, err = os.ReadFile(fs.Arg(0))
	default:
		return errors.New("expected at most one body file")
	}
	if err != nil {
		return fmt.Errorf("error while reading body: %w", err)
	}

	_, err = fmt.Fprintln(out, verifier.Sign(body))
	return err
}
