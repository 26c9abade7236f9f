package middleware

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"
	"github.com/anonto42/proofing/backend/internal/models"
)

// TokenVerifier verifies Firebase ID tokens. *auth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// firebaseActor turns a verified Firebase ID token into an admin actor.
// Only studio staff sign in with Firebase.
func firebaseActor(ctx context.Context, v TokenVerifier, idToken string) (models.Actor, error) {
	token, err := v.VerifyIDToken(ctx, idToken)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid or expired ID token: %w", err)
	}

	name, _ := token.Claims["name"].(string)
	if name == "" {
		name, _ = token.Claims["email"].(string)
	}
	return models.Actor{ID: token.UID, Name: name, Role: models.RoleAdmin}, nil
}
