package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/anonto42/proofing/backend/internal/client/api"
	"github.com/anonto42/proofing/backend/internal/client/conn"
	"github.com/anonto42/proofing/backend/internal/client/view"
	"github.com/anonto42/proofing/backend/internal/middleware"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/spf13/cobra"
)

var watchedEvents = []string{
	conn.EventConnect,
	conn.EventDisconnect,
	conn.EventReconnect,
	conn.EventConnectError,
	conn.EventReconnectFailed,
	models.EventAnnotationAdded,
	models.EventAnnotationDeleted,
	models.EventAnnotationReplyAdded,
	models.EventAnnotationReplyUpdated,
	models.EventAnnotationStatusUpdated,
	models.EventStatusChanged,
	models.EventReviewStatusUpdated,
	models.EventTyping,
	models.EventNewComment,
	models.EventNewReply,
	models.EventCommentUpdated,
	models.EventCommentDeleted,
	models.EventError,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := open(ctx, view.Options{ResyncOnReconnect: true})
	if err != nil {
		return err
	}
	defer s.close()

	for _, event := range watchedEvents {
		s.bus.Subscribe(event, func(env realtime.Envelope) {
			fmt.Printf("%-24s %s\n", env.Event, env.Data)
		})
	}

	if watchElement != "" {
		ev, err := view.NewElementView(watchElement, s.actor, s.rest, s.bus, view.Options{Logger: log})
		if err != nil {
			return err
		}
		defer ev.Close()
		if err := ev.Load(ctx); err != nil {
			return err
		}
		fmt.Printf("element %s: %d comment threads\n", watchElement, len(ev.Comments()))
	}

	status, _ := s.view.ReviewStatus()
	fmt.Printf("project %s: %d annotations, review %s, live=%t\n",
		projectID, len(s.view.Annotations()), status, s.view.IsConnected())

	<-ctx.Done()
	return nil
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	s, err := open(cmd.Context(), view.Options{})
	if err != nil {
		return err
	}
	defer s.close()

	var coords *models.Coordinates
	if annotateX >= 0 && annotateY >= 0 {
		coords = &models.Coordinates{X: annotateX, Y: annotateY}
	}
	a, err := s.view.AddAnnotation(cmd.Context(), annotateFile, strings.Join(args, " "), coords)
	if err != nil {
		return err
	}
	return printJSON(a)
}

func runReply(cmd *cobra.Command, args []string) error {
	s, err := open(cmd.Context(), view.Options{})
	if err != nil {
		return err
	}
	defer s.close()

	r, err := s.view.AddReply(cmd.Context(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return printJSON(r)
}

func runResolve(cmd *cobra.Command, args []string) error {
	s, err := open(cmd.Context(), view.Options{})
	if err != nil {
		return err
	}
	defer s.close()

	var a *models.Annotation
	if rejectAnnotation {
		a, err = s.view.RejectAnnotation(cmd.Context(), args[0])
	} else {
		a, err = s.view.ResolveAnnotation(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}
	return printJSON(a)
}

func runElementStatus(cmd *cobra.Command, args []string) error {
	s, err := open(cmd.Context(), view.Options{})
	if err != nil {
		return err
	}
	defer s.close()

	status := models.ElementStatus(strings.ToUpper(args[1]))
	el, comment, err := s.view.UpdateElementStatus(cmd.Context(), args[0], status, statusComment)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"element": el, "comment": comment})
}

func runReviewStatus(cmd *cobra.Command, args []string) error {
	s, err := open(cmd.Context(), view.Options{})
	if err != nil {
		return err
	}
	defer s.close()

	review, err := s.view.UpdateReviewStatus(cmd.Context(), models.ReviewStatus(strings.ToUpper(args[0])), reviewMessage)
	if err != nil {
		return err
	}
	return printJSON(review)
}

func runToken(cmd *cobra.Command, args []string) error {
	actor := models.Actor{ID: tokenID, Name: name, Role: models.RoleAdmin}
	if !cmd.Flags().Changed("name") {
		actor.Name = "Admin"
	}
	signed, err := middleware.SignToken(tokenSecret, actor, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginPassword == "" {
		return errors.New("a password is required (--password or PROOFING_PASSWORD)")
	}
	client := api.New(serverURL)

	var (
		res *models.AuthResponse
		err error
	)
	if loginSignup {
		res, err = client.SignUp(cmd.Context(), name, args[0], loginPassword)
	} else {
		res, err = client.SignIn(cmd.Context(), args[0], loginPassword)
	}
	if err != nil {
		return err
	}
	log.Debug().Str("admin_id", res.Admin.ID).Msg("signed in")
	fmt.Println(res.Token)
	return nil
}
