package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	poolcfg "basketpool/config"
	"basketpool/crypto"
	"basketpool/integrations/audit"
	"basketpool/integrations/exports"
	"basketpool/services/poold/auth"
)

const (
	keygenCommand  = "keygen"
	tokenCommand   = "token"
	exportCommand  = "export"
	genesisCommand = "genesis"
	secretEnv      = "POOLD_JWT_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:])
	case tokenCommand:
		err = runToken(os.Args[2:])
	case exportCommand:
		err = runExport(os.Args[2:])
	case genesisCommand:
		err = runGenesis(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: poolctl <%s|%s|%s|%s> [flags]\n", keygenCommand, tokenCommand, exportCommand, genesisCommand)
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ExitOnError)
	fs.Parse(args)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	fmt.Printf("address: %s\n", key.PubKey().Address())
	fmt.Printf("private: %s\n", hex.EncodeToString(key.Bytes()))
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ExitOnError)
	caller := fs.String("caller", "", "Account address the token authenticates")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	issuer := fs.String("issuer", "", "Issuer claim, must match poold auth.issuer")
	audience := fs.String("audience", "", "Audience claim, must match poold auth.audience")
	fs.Parse(args)

	secret, err := signingSecret()
	if err != nil {
		return err
	}
	addr, err := poolcfg.ParseAddress(*caller)
	if err != nil {
		return fmt.Errorf("caller: %w", err)
	}
	raw, err := auth.Issue(auth.Options{Secret: []byte(secret), Issuer: *issuer, Audience: *audience}, addr, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(raw)
	return nil
}

// signingSecret reads the JWT secret from the environment, prompting on the
// terminal when it is unset.
func signingSecret() (string, error) {
	if value, ok := os.LookupEnv(secretEnv); ok {
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("%s is set but empty", secretEnv)
		}
		return value, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("signing secret required; set %s or run interactively", secretEnv)
	}
	fmt.Fprint(os.Stderr, "Enter token signing secret: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", errors.New("signing secret cannot be empty")
	}
	return string(raw), nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet(exportCommand, flag.ExitOnError)
	dsn := fs.String("dsn", os.Getenv("POOLD_AUDIT_DSN"), "Audit store DSN")
	format := fs.String("format", "jsonl", "Output format: jsonl, csv or parquet")
	eventType := fs.String("type", "", "Only export events of this type")
	from := fs.Uint64("from", 0, "First height to export")
	to := fs.Uint64("to", 0, "Last height to export (0 for no bound)")
	limit := fs.Int("limit", 10000, "Maximum records to export")
	out := fs.String("out", "", "Output file (stdout when empty)")
	fs.Parse(args)

	if strings.TrimSpace(*dsn) == "" {
		return fmt.Errorf("audit DSN required")
	}
	store, err := audit.Open(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(context.Background(), audit.Filter{
		Type:       *eventType,
		FromHeight: *from,
		ToHeight:   *to,
		Limit:      *limit,
	})
	if err != nil {
		return err
	}
	data, checksum, err := exports.Format(*format, records)
	if err != nil {
		return err
	}
	if *out == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
	} else if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d records, sha256 %s\n", len(records), checksum)
	return nil
}

func runGenesis(args []string) error {
	fs := flag.NewFlagSet(genesisCommand, flag.ExitOnError)
	path := fs.String("out", "./pool.toml", "Where to write the genesis file")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists", *path)
	}
	if err := poolcfg.Save(*path, poolcfg.Default()); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *path)
	return nil
}
