package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anonto42/proofing/backend/internal/client/api"
	"github.com/anonto42/proofing/backend/internal/client/conn"
	"github.com/anonto42/proofing/backend/internal/client/view"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

var errNoIdentity = errors.New("either --token or --share-link is required")

// session is one connected actor with a loaded project view
type session struct {
	actor models.Actor
	rest  *api.Client
	bus   *conn.Manager
	view  *view.ProjectView
}

// identity works out who the server will see. Tokens are not verified here.
func identity() (models.Actor, error) {
	switch {
	case token != "":
		claims := &models.JwtCustomClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return models.Actor{}, fmt.Errorf("unreadable token: %w", err)
		}
		return models.Actor{ID: claims.UserID, Name: claims.Name, Role: claims.Role, ProjectID: claims.ProjectID}, nil
	case shareLink != "":
		id := shareLink
		if len(id) > 8 {
			id = id[:8]
		}
		return models.Actor{ID: "share-" + id, Name: name, Role: models.RoleClient}, nil
	}
	return models.Actor{}, errNoIdentity
}

// open connects to the project. A failed connection is reported and the
// session carries on over REST only.
func open(ctx context.Context, opts view.Options) (*session, error) {
	if projectID == "" {
		return nil, errors.New("--project is required")
	}
	actor, err := identity()
	if err != nil {
		return nil, err
	}

	var rest *api.Client
	if token != "" {
		rest = api.New(serverURL, api.WithToken(token))
	} else {
		rest = api.New(serverURL, api.WithShareLink(shareLink, name))
	}

	bus := conn.New(wsURL(serverURL), conn.Options{
		Token:     token,
		ShareLink: shareLink,
		Name:      name,
		Logger:    log,
	})
	if err := bus.Connect(ctx, projectID); err != nil {
		log.Warn().Err(err).Msg("live channel unavailable, changes will not be broadcast")
	}

	opts.Logger = log
	v, err := view.NewProjectView(projectID, actor, rest, bus, opts)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	if err := v.Load(ctx); err != nil {
		_ = v.Close()
		_ = bus.Close()
		return nil, err
	}
	return &session{actor: actor, rest: rest, bus: bus, view: v}, nil
}

func (s *session) close() {
	if err := s.view.Close(); err != nil {
		log.Debug().Err(err).Msg("view close")
	}
	// Emit writes synchronously, so the frames are out before the close frame
	if err := s.bus.Close(); err != nil {
		log.Debug().Err(err).Msg("channel close")
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
