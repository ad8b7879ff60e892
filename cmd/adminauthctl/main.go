// Command adminauthctl prepares an adminauth deployment: it applies the
// credential schema and creates superadmin accounts.
//
//	adminauthctl migrate
//	adminauthctl create-superadmin -email root@example.com
//	adminauthctl gen-key
//	adminauthctl report
//
// Settings come from the same environment and .env file as adminauthd.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/credstore/memstore"
	"github.com/MrEthical07/adminauth/credstore/sqlstore"
	"github.com/MrEthical07/adminauth/internal/config"
	"github.com/MrEthical07/adminauth/mail"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

const usage = `usage: adminauthctl <command> [flags]

commands:
  migrate             apply pending credential store migrations
  create-superadmin   create a superadmin account (-email, password prompted)
  gen-key             print a random 32-byte hex key for CSRF_KEY or JWT_SECRET
  report              print the security posture of the current configuration
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "adminauthctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}

	switch args[0] {
	case "gen-key":
		return genKey(out)
	case "migrate":
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openSQL(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Fprintln(out, "migrations applied")
		return nil
	case "create-superadmin":
		return createSuperadmin(ctx, args[1:], out)
	case "report":
		return report(out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// report builds an engine against in-process Redis and memory storage,
// since only the configuration is inspected.
func report(out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}
	mr, err := miniredis.Run()
	if err != nil {
		return err
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	engine, err := adminauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(memstore.New()).
		WithMailer(mail.NewOutbox()).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(engine.SecurityReport())
}

func genKey(out io.Writer) error {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, hex.EncodeToString(key))
	return err
}

func openSQL(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	if cfg.DBDialect == "memory" {
		return nil, errors.New("DB_DIALECT=memory has no schema to manage")
	}
	return sqlstore.Open(ctx, sqlstore.Dialect(cfg.DBDialect), cfg.DBDSN)
}

func createSuperadmin(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-superadmin", flag.ContinueOnError)
	fs.SetOutput(out)
	email := fs.String("email", "", "account email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return errors.New("-email is required")
	}

	pass, err := promptPassword(out)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}
	store, err := openSQL(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Account creation never touches Redis state that must outlive this
	// process, so an in-process server is enough when none is configured.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	} else {
		mr, err := miniredis.Run()
		if err != nil {
			return err
		}
		defer mr.Close()
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}
	defer rdb.Close()

	engine, err := adminauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mail.NewOutbox()).
		WithLogger(cfg.Logger()).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	acct, err := engine.CreateSuperadmin(ctx, *email, pass)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created superadmin %s (%s)\n", acct.Email, acct.ID)
	return nil
}

func promptPassword(out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter password: ")
	first, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	fmt.Fprint(out, "Repeat password: ")
	second, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(first, second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
