// Command nanit-agent is the thinnest possible driver of the client
// library: it logs in (or restores a persisted session), picks one baby's
// camera, streams its CameraEvents to stdout as JSON lines, and persists
// rotated tokens and the last-known LAN IP across restarts.
//
// It is a debugging and provisioning aid, not a replacement for a real
// consumer of the client library (a home-automation integration, an HTTP
// wrapper, or similar).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"nanit/client"
	"nanit/internal/camera"
	"nanit/internal/rest"
	"nanit/internal/store"
)

func main() {
	var (
		dbPathF      = flag.String("db", "nanit-agent.db", "path to the local SQLite state database")
		emailF       = flag.String("email", "", "Nanit account email (required; persisted sessions are stored per email)")
		babyF        = flag.String("baby", "", "baby UID to stream (defaults to the first baby on the account)")
		localIPF     = flag.String("local-ip", "", "known LAN IP of the camera; enables local promotion")
		preferLocalF = flag.Bool("prefer-local", false, "attempt a direct LAN connection before falling back to cloud")
		debugF       = flag.Bool("debug", false, "log verbose client activity to stderr")
	)
	flag.Parse()

	logOut := io.Writer(io.Discard)
	if *debugF {
		logOut = os.Stderr
	}
	logger := log.New(logOut, "[nanit-agent] ", log.Ltime)

	if err := run(*dbPathF, *emailF, *babyF, *localIPF, *preferLocalF, logger); err != nil {
		log.New(os.Stderr, "[nanit-agent] ", log.Ltime).Fatalf("%v", err)
	}
}

func run(dbPath, email, babyUID, localIP string, preferLocal bool, logger *log.Logger) error {
	passphrase := os.Getenv("NANIT_TOKEN_PASSPHRASE")
	if passphrase == "" {
		return errors.New("NANIT_TOKEN_PASSPHRASE must be set to encrypt the persisted refresh token")
	}

	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating state database: %w", err)
	}

	c, email, err := loginOrRestore(db, email, passphrase, logger)
	if err != nil {
		return err
	}

	c.TokenManager().OnTokensRefreshed(func(access, refresh string) {
		expiresAt := time.Now().Add(time.Hour)
		if err := db.SaveTokens(email, access, refresh, expiresAt, []byte(passphrase)); err != nil {
			logger.Printf("persisting refreshed tokens failed: %v", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	babies, err := c.GetBabies(ctx)
	if err != nil {
		return fmt.Errorf("listing babies: %w", err)
	}
	if len(babies) == 0 {
		return errors.New("account has no babies/cameras registered")
	}
	storeBabies := make([]store.Baby, 0, len(babies))
	for _, b := range babies {
		storeBabies = append(storeBabies, store.Baby{UID: b.UID, Name: b.Name, CameraUID: b.CameraUID})
	}
	if err := db.SaveBabies(storeBabies); err != nil {
		logger.Printf("caching baby roster failed: %v", err)
	}

	baby, err := pickBaby(babies, babyUID)
	if err != nil {
		return err
	}

	if localIP == "" {
		if cached, err := db.LastLocalIP(baby.UID); err == nil {
			localIP = cached
		}
	}

	ctrl, err := c.Camera(ctx, baby.CameraUID, baby.UID, client.CameraOptions{
		PreferLocal: preferLocal,
		LocalIP:     localIP,
	})
	if err != nil {
		return fmt.Errorf("starting camera %s: %w", baby.CameraUID, err)
	}

	stdout := bufio.NewWriter(os.Stdout)
	defer stdout.Flush()
	var stdoutMu sync.Mutex

	unsubscribe := ctrl.Subscribe(func(ev camera.CameraEvent) {
		stdoutMu.Lock()
		defer stdoutMu.Unlock()
		if err := json.NewEncoder(stdout).Encode(ev); err != nil {
			logger.Printf("encoding event failed: %v", err)
			return
		}
		stdout.Flush()
		if ev.State.Connection.Transport.String() == "local" && localIP != "" {
			if err := db.SaveLastLocalIP(baby.UID, localIP); err != nil {
				logger.Printf("caching local IP failed: %v", err)
			}
		}
	})
	defer unsubscribe()

	errc := make(chan error, 1)
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-sig)
	}()

	logger.Printf("streaming camera %s (baby %s)", baby.CameraUID, baby.UID)
	logger.Printf("exiting (%v)", <-errc)

	return c.Close()
}

func loginOrRestore(db *store.Store, email, passphrase string, logger *log.Logger) (*client.Client, string, error) {
	if email == "" {
		return nil, "", errors.New("-email is required (persisted sessions are looked up by email)")
	}

	if record, err := db.LoadTokens(email, []byte(passphrase)); err == nil && record != nil {
		logger.Printf("restoring persisted session for %s", email)
		return client.Restore(record.AccessToken, record.RefreshToken, record.ExpiresAt, client.Config{Logger: logger}), email, nil
	}

	password := os.Getenv("NANIT_PASSWORD")
	if password == "" {
		return nil, "", errors.New("NANIT_PASSWORD must be set to authenticate (no persisted session was found)")
	}

	c, err := client.Login(context.Background(), email, password, client.Config{Logger: logger})
	var mfaErr *rest.MfaRequiredError
	if errors.As(err, &mfaErr) {
		code := promptMfaCode()
		c, err = client.LoginMFA(context.Background(), email, password, mfaErr.MfaToken, code, client.Config{Logger: logger})
	}
	if err != nil {
		return nil, "", fmt.Errorf("login failed: %w", err)
	}

	expiresAt := time.Now().Add(time.Hour)
	if err := db.SaveTokens(email, c.TokenManager().AccessToken(), c.TokenManager().RefreshToken(), expiresAt, []byte(passphrase)); err != nil {
		logger.Printf("persisting tokens after login failed: %v", err)
	}
	return c, email, nil
}

func promptMfaCode() string {
	fmt.Fprint(os.Stderr, "MFA code: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func pickBaby(babies []rest.Baby, uid string) (rest.Baby, error) {
	if uid == "" {
		return babies[0], nil
	}
	for _, b := range babies {
		if b.UID == uid {
			return b, nil
		}
	}
	return rest.Baby{}, fmt.Errorf("baby %q not found on this account", uid)
}
