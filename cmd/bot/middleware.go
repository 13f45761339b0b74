package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/mux"

	"github.com/Jacobbrewer1/sprout/cmd/bot/monitoring"
	"github.com/Jacobbrewer1/sprout/pkg/dispatch"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
	"github.com/Jacobbrewer1/sprout/pkg/messages"
	"github.com/Jacobbrewer1/sprout/pkg/request"
	"github.com/Jacobbrewer1/sprout/pkg/ticketing"
)

// interactionTimeout bounds the handling of a single interaction.
const interactionTimeout = 30 * time.Second

type Controller func(w http.ResponseWriter, r *http.Request)

func middlewareHttp(handler Controller, a IApp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		cw := request.NewClientWriter(w)

		// Recover from any panics that occur in the handler.
		defer func() {
			if rec := recover(); rec != nil {
				a.Log().Error("Panic in handler",
					slog.String(logging.KeyError, fmt.Sprintf("%v", rec)),
					slog.String("stack", string(debug.Stack())),
				)
				cw.WriteHeader(http.StatusInternalServerError)
				if err := json.NewEncoder(cw).Encode(request.NewMessage("%s", request.ErrInternalServer.Error())); err != nil {
					a.Log().Error("Error encoding response", slog.String(logging.KeyError, err.Error()))
				}
			}
		}()

		var path string
		route := mux.CurrentRoute(r)
		if route != nil { // The route may be nil if the request is not routed.
			var err error
			path, err = route.GetPathTemplate()
			if err != nil {
				// An error here is only returned if the route does not define a path.
				a.Log().Error("Error getting path template", slog.String(logging.KeyError, err.Error()))
				path = r.URL.Path // If the route does not define a path, use the URL path.
			}
		} else {
			path = r.URL.Path // If the route is nil, use the URL path.
		}

		defer func() {
			// Run the deferred function after the request has been handled, as the status code will not be available until then.
			monitoring.HttpTotalRequests.WithLabelValues(path, r.Method, fmt.Sprintf("%d", cw.StatusCode())).Inc()
			monitoring.HttpRequestDuration.WithLabelValues(path, r.Method, fmt.Sprintf("%d", cw.StatusCode())).Observe(time.Since(now).Seconds())
		}()

		handler(cw, r)
	}
}

// interactionHandler funnels every interaction through the dispatcher and
// translates rejection errors into user facing responses.
func interactionHandler(a IApp) func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		now := time.Now().UTC()

		ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
		defer cancel()

		err := a.Dispatcher().Dispatch(ctx, i)
		monitoring.InteractionDuration.WithLabelValues(actionName(i)).Observe(time.Since(now).Seconds())
		if err == nil {
			return
		}

		a.Log().Error("Error handling interaction",
			slog.String(logging.KeyInteraction, i.ID),
			slog.String(logging.KeyGuild, i.GuildID),
			slog.String(logging.KeyError, err.Error()),
		)

		if respondErr := respondEphemeral(a, i, userMessage(err)); respondErr != nil {
			a.Log().Error("Error responding to interaction", slog.String(logging.KeyError, respondErr.Error()))
		}
	}
}

// userMessage maps an error to the message shown to the interacting user.
// Every rejected transition gets a specific message rather than a generic
// failure.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ticketing.ErrNotConfigured):
		return messages.ErrNotConfigured
	case errors.Is(err, ticketing.ErrQuotaExceeded):
		return messages.ErrQuotaExceeded
	case errors.Is(err, ticketing.ErrUnauthorized):
		return messages.ErrNotStaff
	case errors.Is(err, ticketing.ErrAlreadyClaimed):
		return "This ticket is already claimed by another staff member."
	case errors.Is(err, ticketing.ErrUnknownPriority):
		return messages.ErrUnknownPriority
	case errors.Is(err, ticketing.ErrNotFound):
		return messages.ErrNoTicketHere
	case errors.Is(err, ticketing.ErrDegraded):
		return "Your ticket could not be fully created. Staff have been notified; please try again shortly."
	case errors.Is(err, ticketing.ErrInvalidTransition):
		return "That action is not available for this ticket any more."
	case errors.Is(err, ticketing.ErrTimeout):
		return "That took too long to process. Please try again."
	case errors.Is(err, dispatch.ErrRateLimited):
		return "You are doing that too fast. Please wait a moment and try again."
	default:
		return messages.ErrUserErrorProcessing
	}
}

func actionName(i *discordgo.InteractionCreate) string {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		return i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		return i.MessageComponentData().CustomID
	default:
		return fmt.Sprintf("type_%d", i.Type)
	}
}
