package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/Jacobbrewer1/sprout/cmd/bot/monitoring"
	"github.com/Jacobbrewer1/sprout/pkg/dispatch"
	"github.com/Jacobbrewer1/sprout/pkg/entities"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
	"github.com/Jacobbrewer1/sprout/pkg/platform"
)

const (
	// TicketCmdName is the command for controlling tickets.
	TicketCmdName = "ticket"

	// ClaimCmdName is the sub command for claiming a ticket.
	ClaimCmdName = "claim"

	// UnclaimCmdName is the sub command for releasing a claimed ticket.
	UnclaimCmdName = "unclaim"

	// CloseCmdName is the sub command for requesting a ticket closure.
	CloseCmdName = "close"

	// PriorityCmdName is the sub command for setting a tickets priority.
	PriorityCmdName = "priority"

	// ArchiveCmdName is the sub command for archiving a closed ticket.
	ArchiveCmdName = "archive"

	// labelOptName is the option carrying the priority label.
	labelOptName = "label"

	// idOptName is the option carrying a ticket ID.
	idOptName = "id"
)

// ticketCmd is the command for controlling tickets.
var ticketCmd = &discordgo.ApplicationCommand{
	Name:        TicketCmdName,
	Type:        discordgo.ChatApplicationCommand,
	Description: "This is the command for controlling tickets.",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Name:        ClaimCmdName,
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Description: "This claims the ticket for the channel that the command was executed in.",
		},
		{
			Name:        UnclaimCmdName,
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Description: "This releases the claim on the ticket for this channel.",
		},
		{
			Name:        CloseCmdName,
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Description: "This requests closure of the ticket for this channel.",
		},
		{
			Name:        PriorityCmdName,
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Description: "This sets the priority of the ticket for this channel.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        labelOptName,
					Type:        discordgo.ApplicationCommandOptionString,
					Description: "The priority label to assign.",
					Required:    true,
				},
			},
		},
		{
			Name:        ArchiveCmdName,
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Description: "This archives a closed ticket by its number.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        idOptName,
					Type:        discordgo.ApplicationCommandOptionInteger,
					Description: "The ticket number to archive.",
					Required:    true,
				},
			},
		},
	},
}

// routes is the static routing table for the dispatcher, resolved once at
// startup.
func routes(a IApp) dispatch.Routes {
	return dispatch.Routes{
		Commands: map[string]dispatch.Processor{
			setupCmdName:  setupCommand(a),
			TicketCmdName: ticketCommand(a),
		},
		Components: map[string]dispatch.Processor{
			platform.OpenTicketButtonID:   createTicket(a),
			platform.ClaimTicketButtonID:  claimTicket(a),
			platform.CloseTicketButtonID:  closeTicket(a),
			platform.ConfirmCloseButtonID: confirmClose(a),
			platform.CancelCloseButtonID:  cancelClose(a),
			platform.PrioritySelectID:     prioritySelect(a),
		},
	}
}

// ticketCommand resolves the /ticket sub command to its handler.
func ticketCommand(a IApp) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		sub := i.ApplicationCommandData().Options[0]

		switch sub.Name {
		case ClaimCmdName:
			return claimTicket(a)(ctx, i)
		case UnclaimCmdName:
			return unclaimTicket(a)(ctx, i)
		case CloseCmdName:
			return closeTicket(a)(ctx, i)
		case PriorityCmdName:
			return setPriority(a, sub.Options[0].StringValue())(ctx, i)
		case ArchiveCmdName:
			return archiveTicket(a, int(sub.Options[0].IntValue()))(ctx, i)
		default:
			return fmt.Errorf("unhandled sub command %s", sub.Name)
		}
	}
}

// createTicket handles the open ticket button on the panel.
func createTicket(a IApp) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		ticket, err := a.Machine().Create(ctx, i.GuildID, actorFrom(i))
		if err != nil {
			return err
		}

		monitoring.TicketsOpened.WithLabelValues(i.GuildID).Inc()
		a.Log().Info("Ticket created",
			slog.String(logging.KeyGuild, i.GuildID),
			slog.Int(logging.KeyTicket, ticket.ID),
			slog.String(logging.KeyUser, ticket.UserID),
		)

		// Respond with an embedded ephemeral message with all the information
		// about the ticket.
		return a.Session().InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags: discordgo.MessageFlagsEphemeral,
				Embeds: []*discordgo.MessageEmbed{
					{
						Title:       "Ticket Created",
						Description: fmt.Sprintf("<@%s>, your ticket has been created.", ticket.UserID),
						Color:       0x00ff00,
						Fields: []*discordgo.MessageEmbedField{
							{
								Name:   "Ticket Name",
								Value:  ticket.Name(),
								Inline: true,
							},
							{
								Name:   "Ticket Channel",
								Value:  fmt.Sprintf("<#%s>", ticket.ChannelID),
								Inline: true,
							},
						},
					},
				},
			},
		})
	}
}

// claimTicket handles the claim button and the /ticket claim command.
func claimTicket(a IApp) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		ticket, err := a.Registry().GetByChannel(ctx, i.GuildID, i.ChannelID)
		if err != nil {
			return err
		}

		if _, err := a.Machine().Claim(ctx, i.GuildID, ticket.ID, actorFrom(i)); err != nil {
			return err
		}
		return respond(a, i, fmt.Sprintf("<@%s>, you have claimed this ticket.", i.Member.User.ID))
	}
}

// unclaimTicket handles the /ticket unclaim command.
func unclaimTicket(a IApp) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		ticket, err := a.Registry().GetByChannel(ctx, i.GuildID, i.ChannelID)
		if err != nil {
			return err
		}

		if _, err := a.Machine().Unclaim(ctx, i.GuildID, ticket.ID, actorFrom(i)); err != nil {
			return err
		}
		return respond(a, i, "This ticket is no longer claimed and is back in the queue.")
	}
}

// closeTicket handles the close button and the /ticket close command. The
// actual closure happens when the confirmation button is pressed.
func closeTicket(a IApp) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		ticket, err := a.Registry().GetByChannel(ctx, i.GuildID, i.ChannelID)
		if err != nil {
			return err
		}

		if _, err := a.Machine().RequestClose(ctx, i.GuildID, ticket.ID, actorFrom(i)); err != nil {
			return err
		}
		return respondEphemeral(a, i, "Close requested. Please confirm below.")
	}
}

// confirmClose handles the confirm button on the close prompt. The
// interaction is acknowledged before the closure runs, as the ticket channel
// is torn down on success.
func confirmClose(a IApp) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		ticket, err := a.Registry().GetByChannel(ctx, i.GuildID, i.ChannelID)
		if err != nil {
			return err
		}

		if err := respond(a, i, "Closing this ticket and generating the transcript..."); err != nil {
			return fmt.Errorf("error responding to interaction: %w", err)
		}

		if _, err := a.Machine().ConfirmClose(ctx, i.GuildID, ticket.ID, actorFrom(i)); err != nil {
			// The interaction is already acknowledged; report via follow up.
			if _, fErr := a.Session().FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
				Content: userMessage(err),
				Flags:   discordgo.MessageFlagsEphemeral,
			}); fErr != nil {
				a.Log().Error("Error sending follow up", slog.String(logging.KeyError, fErr.Error()))
			}
			return err
		}

		monitoring.TicketsClosed.WithLabelValues(i.GuildID).Inc()
		return nil
	}
}

// cancelClose handles the cancel button on the close prompt.
func cancelClose(a IApp) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		ticket, err := a.Registry().GetByChannel(ctx, i.GuildID, i.ChannelID)
		if err != nil {
			return err
		}

		if _, err := a.Machine().CancelClose(ctx, i.GuildID, ticket.ID, actorFrom(i)); err != nil {
			return err
		}
		return respond(a, i, "Closure cancelled. This ticket remains open.")
	}
}

// prioritySelect handles the priority select menu on the control message.
func prioritySelect(a IApp) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		values := i.MessageComponentData().Values
		if len(values) == 0 {
			return fmt.Errorf("priority select without a value")
		}
		return setPriority(a, values[0])(ctx, i)
	}
}

// setPriority applies a priority label to the ticket in the channel.
func setPriority(a IApp, label string) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		ticket, err := a.Registry().GetByChannel(ctx, i.GuildID, i.ChannelID)
		if err != nil {
			return err
		}

		if _, err := a.Machine().SetPriority(ctx, i.GuildID, ticket.ID, label, actorFrom(i)); err != nil {
			return err
		}
		return respond(a, i, fmt.Sprintf("Priority set to **%s**.", label))
	}
}

// archiveTicket handles the /ticket archive command. Staff only; the ticket
// channel is gone by the time a ticket can be archived, so it is addressed
// by number.
func archiveTicket(a IApp, ticketID int) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		guild, err := a.GuildDal().GetGuildByID(ctx, i.GuildID)
		if err != nil {
			return err
		}
		if !guild.IsStaff(actorFrom(i).RoleIDs) {
			return respondEphemeral(a, i, "Only staff members can archive tickets.")
		}

		if err := a.Machine().Archive(ctx, i.GuildID, ticketID); err != nil {
			return err
		}

		monitoring.TicketsArchived.Inc()
		return respondEphemeral(a, i, fmt.Sprintf("Ticket %d has been archived.", ticketID))
	}
}

// sendOpenTicketPanel posts the panel message into the configured channel and
// records it on the guild configuration.
func sendOpenTicketPanel(ctx context.Context, a IApp, guild *entities.Guild) error {
	msgID, err := a.Platform().PostOpenTicketPanel(ctx, guild.Ticketing.PanelChannelID)
	if err != nil {
		return fmt.Errorf("error sending open ticket panel: %w", err)
	}

	guild.Ticketing.PanelMessageID = msgID
	return nil
}
