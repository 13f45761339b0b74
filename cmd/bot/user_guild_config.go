package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Jacobbrewer1/sprout/pkg/dispatch"
	"github.com/Jacobbrewer1/sprout/pkg/entities"
	"github.com/Jacobbrewer1/sprout/pkg/ticketing"
)

const (
	// setupCmdName is the command for all configuration commands.
	setupCmdName = "setup"

	// enableTicketingCmdName is the sub command that enables ticketing.
	enableTicketingCmdName = "ticketing_enable"

	// disableTicketingCmdName is the sub command that disables ticketing.
	disableTicketingCmdName = "ticketing_disable"

	// limitCmdName is the sub command that sets the per-user ticket limit.
	limitCmdName = "ticketing_limit"

	// prioritiesCmdName is the sub command that sets the priority labels.
	prioritiesCmdName = "ticketing_priorities"

	// channelOptName is the option for the panel channel.
	channelOptName = "channel"

	// roleOptName is the option for the staff role.
	roleOptName = "role"

	// categoryOptName is the option for the tickets category.
	categoryOptName = "category"

	// logChannelOptName is the option for the transcript log channel.
	logChannelOptName = "log_channel"

	// limitOptName is the option for the per-user ticket limit.
	limitOptName = "limit"

	// labelsOptName is the option for the comma separated priority labels.
	labelsOptName = "labels"
)

// setupCmd is the command for all configuration commands.
var setupCmd = &discordgo.ApplicationCommand{
	Name:        setupCmdName,
	Type:        discordgo.ChatApplicationCommand,
	Description: "This is the command for all configuration commands.",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Name:        enableTicketingCmdName,
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Description: "This enables ticketing in the channel you specify.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        channelOptName,
					Type:        discordgo.ApplicationCommandOptionChannel,
					Description: "This is the channel you want the open ticket panel in.",
					Required:    true,
				},
				{
					Name:        roleOptName,
					Type:        discordgo.ApplicationCommandOptionRole,
					Description: "This is the role you want to handle tickets.",
					Required:    true,
				},
				{
					Name:        categoryOptName,
					Type:        discordgo.ApplicationCommandOptionChannel,
					Description: "This is the category created tickets are put under.",
				},
				{
					Name:        logChannelOptName,
					Type:        discordgo.ApplicationCommandOptionChannel,
					Description: "This is the channel transcripts are reported to.",
				},
			},
		},
		{
			Name:        disableTicketingCmdName,
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Description: "This will disable ticketing for your server.",
		},
		{
			Name:        limitCmdName,
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Description: "This sets how many tickets a user can have open at once.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        limitOptName,
					Type:        discordgo.ApplicationCommandOptionInteger,
					Description: "The maximum number of open tickets per user (1-10).",
					Required:    true,
				},
			},
		},
		{
			Name:        prioritiesCmdName,
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Description: "This sets the priority labels staff can assign to tickets.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        labelsOptName,
					Type:        discordgo.ApplicationCommandOptionString,
					Description: "Comma separated priority labels, e.g. low,medium,high.",
					Required:    true,
				},
			},
		},
	},
}

// setupCommand resolves the /setup sub command to its handler. All setup
// commands require the administrator permission.
func setupCommand(a IApp) dispatch.Processor {
	return func(ctx context.Context, i *discordgo.InteractionCreate) error {
		// Ensure the user is an administrator.
		if i.Member.Permissions&discordgo.PermissionAdministrator != discordgo.PermissionAdministrator {
			return respondEphemeral(a, i, "You must be an administrator to use this command")
		}

		sub := i.ApplicationCommandData().Options[0]

		switch sub.Name {
		case enableTicketingCmdName:
			return enableTicketing(ctx, a, i)
		case disableTicketingCmdName:
			return disableTicketing(ctx, a, i)
		case limitCmdName:
			return setTicketLimit(ctx, a, i, int(sub.Options[0].IntValue()))
		case prioritiesCmdName:
			return setPriorityLabels(ctx, a, i, sub.Options[0].StringValue())
		default:
			return fmt.Errorf("unhandled sub command %s", sub.Name)
		}
	}
}

// getOrNewGuild loads the guild configuration, creating a fresh one on first
// setup.
func getOrNewGuild(ctx context.Context, a IApp, guildID string) (*entities.Guild, error) {
	guild, err := a.GuildDal().GetGuildByID(ctx, guildID)
	if err != nil && !errors.Is(err, ticketing.ErrNotFound) {
		return nil, fmt.Errorf("error getting guild: %w", err)
	}

	if guild == nil {
		guild = &entities.Guild{
			ID: guildID,
		}
	}
	return guild, nil
}

// enableTicketing is the controller for the enable ticketing command.
func enableTicketing(ctx context.Context, a IApp, i *discordgo.InteractionCreate) error {
	opts := i.ApplicationCommandData().Options[0].Options

	// Extract the channel provided.
	channel := opts[0].ChannelValue(a.Session())

	// Extract the role provided.
	role := opts[1].RoleValue(a.Session(), i.GuildID)

	// Ensure the channel is a text channel.
	if channel.Type != discordgo.ChannelTypeGuildText {
		return respondEphemeral(a, i, "You must provide a text channel for ticketing.")
	}

	guild, err := getOrNewGuild(ctx, a, i.GuildID)
	if err != nil {
		return err
	}

	// Enable ticketing for the guild.
	guild.Ticketing.Enabled = true
	guild.Ticketing.PanelChannelID = channel.ID

	// The staff roles are an ordered set; re-adding an existing role keeps
	// its position.
	if !guild.IsStaff([]string{role.ID}) {
		guild.Ticketing.StaffRoleIDs = append(guild.Ticketing.StaffRoleIDs, role.ID)
	}

	// Optional category and log channel.
	for _, opt := range opts[2:] {
		switch opt.Name {
		case categoryOptName:
			c := opt.ChannelValue(a.Session())
			if c.Type != discordgo.ChannelTypeGuildCategory {
				return respondEphemeral(a, i, "You must provide a category channel for created tickets.")
			}
			guild.Ticketing.TicketsCategoryID = c.ID
		case logChannelOptName:
			c := opt.ChannelValue(a.Session())
			if c.Type != discordgo.ChannelTypeGuildText {
				return respondEphemeral(a, i, "You must provide a text channel for the transcript log.")
			}
			guild.Ticketing.LogChannelID = c.ID
		}
	}

	// Check to see if the panel message still exists; repost it when it is
	// missing or was deleted.
	if guild.Ticketing.PanelMessageID != "" {
		msg, err := a.Session().ChannelMessage(channel.ID, guild.Ticketing.PanelMessageID)
		if err != nil {
			restErr := new(discordgo.RESTError)
			if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
				guild.Ticketing.PanelMessageID = ""
			} else {
				return fmt.Errorf("error getting panel message: %w", err)
			}
		}
		if msg == nil {
			guild.Ticketing.PanelMessageID = ""
		}
	}

	if guild.Ticketing.PanelMessageID == "" {
		if err := sendOpenTicketPanel(ctx, a, guild); err != nil {
			return err
		}
	}

	// Save the guild.
	if err := a.GuildDal().SaveGuild(ctx, guild); err != nil {
		return fmt.Errorf("error saving guild: %w", err)
	}

	return respondEphemeral(a, i, fmt.Sprintf("Ticketing has been enabled in channel <#%s>", channel.ID))
}

// disableTicketing is the controller for the disable ticketing command.
func disableTicketing(ctx context.Context, a IApp, i *discordgo.InteractionCreate) error {
	guild, err := getOrNewGuild(ctx, a, i.GuildID)
	if err != nil {
		return err
	}

	// Disable ticketing for the guild. The configuration is kept so a
	// re-enable restores the previous settings.
	guild.Ticketing.Enabled = false

	if err := a.GuildDal().SaveGuild(ctx, guild); err != nil {
		return fmt.Errorf("error saving guild: %w", err)
	}

	return respondEphemeral(a, i, "Ticketing has been disabled")
}

// setTicketLimit is the controller for the ticket limit command.
func setTicketLimit(ctx context.Context, a IApp, i *discordgo.InteractionCreate, limit int) error {
	if limit < 1 || limit > entities.MaxConfigurableOpenTickets {
		return respondEphemeral(a, i, fmt.Sprintf("The ticket limit must be between 1 and %d.", entities.MaxConfigurableOpenTickets))
	}

	guild, err := getOrNewGuild(ctx, a, i.GuildID)
	if err != nil {
		return err
	}

	guild.Ticketing.MaxOpenTickets = limit

	if err := a.GuildDal().SaveGuild(ctx, guild); err != nil {
		return fmt.Errorf("error saving guild: %w", err)
	}

	return respondEphemeral(a, i, fmt.Sprintf("Users can now have a maximum of %d open ticket(s) at once.", limit))
}

// setPriorityLabels is the controller for the priority labels command.
func setPriorityLabels(ctx context.Context, a IApp, i *discordgo.InteractionCreate, raw string) error {
	var labels []string
	for _, l := range strings.Split(raw, ",") {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		return respondEphemeral(a, i, "You must provide at least one priority label.")
	}

	guild, err := getOrNewGuild(ctx, a, i.GuildID)
	if err != nil {
		return err
	}

	guild.Ticketing.PriorityLabelSet = labels

	if err := a.GuildDal().SaveGuild(ctx, guild); err != nil {
		return fmt.Errorf("error saving guild: %w", err)
	}

	return respondEphemeral(a, i, fmt.Sprintf("Ticket priorities set to: %s", strings.Join(labels, ", ")))
}
