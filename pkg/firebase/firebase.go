package firebase

import (
	"context"
	"errors"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// ErrNotConfigured is returned when no credentials path is set. Firebase sign-in is optional.
var ErrNotConfigured = errors.New("firebase credentials path not provided")

type Options struct {
	CredentialsPath string
	// ProjectID overrides the project named in the credentials file
	ProjectID string
	// CheckRevoked makes every verification ask Firebase whether the session was revoked
	CheckRevoked bool
}

// App verifies Firebase ID tokens for studio staff
type App struct {
	app          *firebase.App
	auth         *auth.Client
	checkRevoked bool
}

// New initializes the Firebase application and authentication client
func New(ctx context.Context, opts Options, zl zerolog.Logger) (*App, error) {
	if opts.CredentialsPath == "" {
		return nil, ErrNotConfigured
	}
	if _, err := os.Stat(opts.CredentialsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("firebase credentials file not found at %s", opts.CredentialsPath)
	}

	var conf *firebase.Config
	if opts.ProjectID != "" {
		conf = &firebase.Config{ProjectID: opts.ProjectID}
	}
	firebaseApp, err := firebase.NewApp(ctx, conf, option.WithCredentialsFile(opts.CredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase auth client: %w", err)
	}

	zl.Info().Bool("check_revoked", opts.CheckRevoked).Msg("Firebase auth client initialized")
	return &App{app: firebaseApp, auth: authClient, checkRevoked: opts.CheckRevoked}, nil
}

// VerifyIDToken checks an ID token, and its revocation when configured
func (a *App) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if a.checkRevoked {
		return a.auth.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	}
	return a.auth.VerifyIDToken(ctx, idToken)
}

func (a *App) Auth() *auth.Client {
	return a.auth
}
