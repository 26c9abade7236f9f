package main

import (
	"context"
	"testing"
	"time"

	"github.com/anonto42/proofing/backend/internal/client/conn"
	"github.com/anonto42/proofing/backend/internal/middleware"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/testenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", wsURL("http://localhost:8080"))
	assert.Equal(t, "wss://proof.example.com/ws", wsURL("https://proof.example.com/"))
	assert.Equal(t, "ws://already/ws", wsURL("ws://already"))
}

func TestIdentity(t *testing.T) {
	t.Cleanup(func() { token, shareLink, name = "", "", "Client" })

	token, shareLink = "", ""
	_, err := identity()
	assert.ErrorIs(t, err, errNoIdentity)

	shareLink, name = "0123456789abcdef", "Dana"
	actor, err := identity()
	require.NoError(t, err)
	assert.Equal(t, "share-01234567", actor.ID)
	assert.Equal(t, models.RoleClient, actor.Role)

	signed, err := middleware.SignToken("secret", models.Actor{ID: "admin-7", Name: "Designer", Role: models.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	token = signed
	actor, err = identity()
	require.NoError(t, err)
	assert.Equal(t, "admin-7", actor.ID)
	assert.True(t, actor.IsAdmin())

	token = "not-a-jwt"
	_, err = identity()
	assert.Error(t, err)
}

func TestAnnotate(t *testing.T) {
	srv := testenv.Start(t)
	ctx := context.Background()
	room := models.ProjectRoom(srv.Project.ID)

	log = zerolog.Nop()
	serverURL, token, shareLink, name = srv.URL, "", srv.Review.ShareLink, "Dana"
	projectID, annotateFile, annotateX, annotateY = srv.Project.ID, srv.Element.ID, 12.5, 40
	t.Cleanup(func() {
		serverURL, shareLink, name, projectID = "", "", "Client", ""
		annotateFile, annotateX, annotateY = "", -1, -1
	})

	// the designer watches the project while the client pins from the shell
	watcher := conn.New(srv.WSURL(), conn.Options{Token: srv.Token(t, testenv.Admin), Logger: zerolog.Nop()})
	added := make(chan realtime.Envelope, 1)
	watcher.Subscribe(models.EventAnnotationAdded, func(env realtime.Envelope) {
		select {
		case added <- env:
		default:
		}
	})
	require.NoError(t, watcher.Connect(ctx, srv.Project.ID))
	t.Cleanup(func() { _ = watcher.Close() })
	require.Eventually(t, func() bool { return srv.Members(room) == 1 }, 3*time.Second, 10*time.Millisecond)

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	require.NoError(t, runAnnotate(cmd, []string{"logo", "too", "small"}))

	list, err := srv.Store.Annotations().ListByProject(ctx, srv.Project.ID, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "logo too small", list[0].Content)
	assert.Equal(t, "Dana", list[0].AddedByName)
	require.NotNil(t, list[0].Coordinates)
	assert.Equal(t, 12.5, list[0].Coordinates.X)

	// the broadcast left before the command hung up
	select {
	case env := <-added:
		var msg models.AnnotationMessage
		require.NoError(t, env.Bind(&msg))
		assert.Equal(t, list[0].ID, msg.Annotation.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("annotation was not broadcast")
	}
	require.Eventually(t, func() bool { return srv.Members(room) == 1 }, 3*time.Second, 10*time.Millisecond)
}
