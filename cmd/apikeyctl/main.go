// Package main is apikeyctl, which mints API keys and test tokens in the
// formats avauthn verifies.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
)

const usage = `usage: apikeyctl <command> [flags]

commands:
  issue   mint an API key and print its store record
  token   sign a JWT with a private key
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "apikeyctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("command is required")
	}
	switch args[0] {
	case "issue":
		return runIssue(args[1:], stdout, stderr)
	case "token":
		return runToken(ctx, args[1:], stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type issueOutput struct {
	APIKey string          `yaml:"apiKey" json:"apiKey"`
	Record *apikey.Record `yaml:"record" json:"record"`
}

func runIssue(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	owner := fs.String("owner", "", "Key owner (required)")
	name := fs.String("name", "", "Key display name")
	scopes := fs.String("scopes", "", "Comma separated scopes")
	ttl := fs.Duration("ttl", 0, "Key lifetime, 0 for no expiry")
	alg := fs.String("alg", string(apikey.HashArgon2id), "Hash algorithm (argon2id, scrypt)")
	output := fs.String("o", "yaml", "Output format (yaml, json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hasher, err := apikey.HashConfig{Algorithm: apikey.HashAlgorithm(*alg)}.IssueHasher()
	if err != nil {
		return err
	}

	req := apikey.IssueRequest{Owner: *owner, Name: *name, Scopes: splitList(*scopes)}
	if *ttl > 0 {
		exp := time.Now().Add(*ttl).UTC()
		req.ExpiresAt = &exp
	}

	raw, rec, err := apikey.Issue(hasher, req)
	if err != nil {
		return err
	}

	out := issueOutput{APIKey: raw, Record: rec}
	switch *output {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", *output)
	}
}

func runToken(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", "", "PEM or JWK private key file (required)")
	alg := fs.String("alg", jwt.AlgES256, "Signing algorithm")
	kid := fs.String("kid", "", "Key ID header")
	subject := fs.String("sub", "", "Subject claim")
	issuer := fs.String("iss", "", "Issuer claim")
	audience := fs.String("aud", "", "Comma separated audience")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyFile == "" {
		return errors.New("-key is required")
	}

	data, err := os.ReadFile(*keyFile)
	if err != nil {
		return err
	}
	key, err := jwt.ParsePrivateKey(data)
	if err != nil {
		return err
	}
	signer, err := jwt.NewSigner(key, *alg, *kid)
	if err != nil {
		return err
	}

	token, err := signer.SignWithOptions(ctx, &jwt.Claims{Subject: *subject}, jwt.SigningOptions{
		ExpiresIn:   *ttl,
		Issuer:      *issuer,
		Audience:    splitList(*audience),
		GenerateJTI: true,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
