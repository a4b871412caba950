// token-tool mints a fresh access token from a refresh secret, for operators
// running the exchange outside the bot process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"

	"github.com/voxkit/tts-bot/internal/config"
	"github.com/voxkit/tts-bot/internal/credential"
)

// Flag descriptions.
const (
	flagSecretDesc  = "Refresh secret to exchange (falls back to the configured one)"
	flagCheckDesc   = "JWT to validate locally instead of minting a new one"
	flagSaveDesc    = "File to write the minted token to"
	flagTimeoutDesc = "Exchange timeout"
)

// Flag names.
const (
	flagSecret  = "secret"
	flagCheck   = "check"
	flagSave    = "save"
	flagTimeout = "timeout"
)

const (
	savePermissions = 0o600

	defaultTimeout = 60 * time.Second
	logFileName    = "token-tool.log"
)

type appFlags struct {
	secret  string
	check   string
	save    string
	timeout time.Duration
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.secret, flagSecret, "", flagSecretDesc)
	flag.StringVar(&flags.check, flagCheck, "", flagCheckDesc)
	flag.StringVar(&flags.save, flagSave, "", flagSaveDesc)
	flag.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flag.Parse()

	return flags
}

func run() error {
	flags := parseFlags()

	if flags.check != "" {
		return checkToken(flags.check)
	}

	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	cfg, err := config.Load(log)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	secret := flags.secret
	if secret == "" {
		secret = cfg.Identity.RefreshSecret
	}

	manager := credential.NewManager(credential.Config{
		TokenEndpoint: cfg.Identity.TokenEndpoint,
		APIKey:        cfg.Identity.APIKey,
		PortalBaseURL: cfg.Inworld.PortalBaseURL,
		WorkspaceID:   cfg.Inworld.WorkspaceID,
	}, secret, "", log)

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	err = manager.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	cred := manager.Snapshot()

	fmt.Printf("Access token (expires %s):\n%s\n", cred.ExpiresAt, cred.AccessToken)

	if cred.RefreshSecret != secret {
		fmt.Println("\nThe refresh secret was rotated. Store the new one:")
		fmt.Println(cred.RefreshSecret)
	}

	if flags.save != "" {
		err = os.WriteFile(flags.save, []byte(cred.AccessToken), savePermissions)
		if err != nil {
			return fmt.Errorf("failed to save token to %s: %w", flags.save, err)
		}

		fmt.Printf("\nToken written to %s\n", flags.save)
	}

	return nil
}

// checkToken decodes the token locally and reports its validity. It never
// contacts the network.
func checkToken(token string) error {
	valid, reason := credential.Validate(token, time.Now())

	fmt.Printf("valid: %t (%s)\n", valid, reason)

	if !valid {
		return fmt.Errorf("token is not usable: %s", reason)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "token-tool: %v\n", err)
		os.Exit(1)
	}
}
