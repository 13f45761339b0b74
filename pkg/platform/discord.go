// Package platform implements the ticket subsystems collaborator contracts
// on top of the Discord API: channel provisioning, notifications and history
// fetching.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"

	"github.com/Jacobbrewer1/sprout/pkg/entities"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
	"github.com/Jacobbrewer1/sprout/pkg/transcript"
)

const (
	// OpenTicketButtonID is the ID for the open ticket button on the panel.
	OpenTicketButtonID = "open_ticket_button"

	// ClaimTicketButtonID is the ID for the claim button on the control message.
	ClaimTicketButtonID = "claim_ticket_button"

	// CloseTicketButtonID is the ID for the close button on the control message.
	CloseTicketButtonID = "close_ticket_button"

	// ConfirmCloseButtonID is the ID for the confirm button on the close prompt.
	ConfirmCloseButtonID = "confirm_close_button"

	// CancelCloseButtonID is the ID for the cancel button on the close prompt.
	CancelCloseButtonID = "cancel_close_button"

	// PrioritySelectID is the ID for the priority select menu.
	PrioritySelectID = "ticket_priority_select"
)

const (
	// OpenEmoji is the emoji on the open ticket button. (Envelope with arrow)
	OpenEmoji = "\U0001F4E9"

	// ClaimEmoji is the emoji on the claim button. (Ticket)
	ClaimEmoji = "\U0001F3AB"

	// CloseEmoji is the emoji on the close button. (Padlock)
	CloseEmoji = "\U0001F510"

	// ConfirmEmoji is the emoji on the confirm close button. (Check mark)
	ConfirmEmoji = "✅"

	// CancelEmoji is the emoji on the cancel close button. (Cross)
	CancelEmoji = "❌"
)

// Discord adapts a discordgo session to the collaborator contracts consumed
// by the ticketing core. Every call is retried with backoff on transient
// failure and honours its context deadline.
type Discord struct {
	// l is the logger.
	l *slog.Logger

	// s is the discord session.
	s *discordgo.Session
}

// NewDiscord creates a new Discord platform adapter.
func NewDiscord(l *slog.Logger, s *discordgo.Session) *Discord {
	return &Discord{
		l: l.With(slog.String("component", "platform")),
		s: s,
	}
}

// retryableCtx wraps a function with the standard retry configuration.
func retryableCtx(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
}

// CreateTicketChannel creates a private text channel for a ticket. Only the
// owner, the staff roles and the bot can see it.
func (d *Discord) CreateTicketChannel(ctx context.Context, guildID, categoryID, name, topic, ownerID string, staffRoleIDs []string) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		// Deny @everyone from seeing the ticket.
		{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionAll,
		},
		// The owner of the ticket can see the ticket.
		{
			ID:    ownerID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionAllText,
			Deny:  discordgo.PermissionMentionEveryone,
		},
	}
	for _, roleID := range staffRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    roleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: discordgo.PermissionAllText,
			Deny:  discordgo.PermissionMentionEveryone,
		})
	}

	var channel *discordgo.Channel
	err := retryableCtx(ctx, func() error {
		var err error
		channel, err = d.s.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
			Name:                 name,
			Type:                 discordgo.ChannelTypeGuildText,
			Topic:                topic,
			ParentID:             categoryID,
			PermissionOverwrites: overwrites,
		}, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("error creating ticket channel: %w", err)
	}
	return channel.ID, nil
}

// DeleteChannel deletes a channel. An already deleted channel is treated as
// success.
func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	err := retryableCtx(ctx, func() error {
		_, err := d.s.ChannelDelete(channelID, discordgo.WithContext(ctx))
		if isUnknownChannel(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("error deleting channel: %w", err)
	}
	return nil
}

// SetChannelTopic updates a channels topic.
func (d *Discord) SetChannelTopic(ctx context.Context, channelID, topic string) error {
	err := retryableCtx(ctx, func() error {
		_, err := d.s.ChannelEditComplex(channelID, &discordgo.ChannelEdit{
			Topic: topic,
		}, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("error editing channel topic: %w", err)
	}
	return nil
}

// Post posts a plain message to a channel.
func (d *Discord) Post(ctx context.Context, channelID, content string) (string, error) {
	var msg *discordgo.Message
	err := retryableCtx(ctx, func() error {
		var err error
		msg, err = d.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("error sending message: %w", err)
	}
	return msg.ID, nil
}

// PostDM sends a direct message to a user. Fails when the user has DMs from
// server members disabled.
func (d *Discord) PostDM(ctx context.Context, userID, content string) (string, error) {
	var channel *discordgo.Channel
	err := retryableCtx(ctx, func() error {
		var err error
		channel, err = d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("error opening dm channel: %w", err)
	}
	return d.Post(ctx, channel.ID, content)
}

// PostTicketControls posts and pins the control message into a fresh ticket
// channel.
func (d *Discord) PostTicketControls(ctx context.Context, channelID string, ticket *entities.Ticket, priorities []string) (string, error) {
	options := make([]discordgo.SelectMenuOption, 0, len(priorities))
	for _, p := range priorities {
		options = append(options, discordgo.SelectMenuOption{
			Label: p,
			Value: p,
		})
	}

	send := &discordgo.MessageSend{
		Content: `Your ticket has been created.
Please provide any additional info you deem relevant to help us answer faster.`,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    fmt.Sprintf("%s Claim", ClaimEmoji),
						Style:    discordgo.PrimaryButton,
						CustomID: ClaimTicketButtonID,
					},
					discordgo.Button{
						Label:    fmt.Sprintf("%s Close", CloseEmoji),
						Style:    discordgo.SecondaryButton,
						CustomID: CloseTicketButtonID,
					},
				},
			},
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						CustomID:    PrioritySelectID,
						Placeholder: "Set a priority (staff only)",
						Options:     options,
					},
				},
			},
		},
	}

	var msg *discordgo.Message
	err := retryableCtx(ctx, func() error {
		var err error
		msg, err = d.s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("error sending control message: %w", err)
	}

	if err := d.s.ChannelMessagePin(channelID, msg.ID, discordgo.WithContext(ctx)); err != nil {
		// The buttons still work unpinned.
		d.l.Warn("Error pinning control message",
			slog.String(logging.KeyChannel, channelID),
			slog.String(logging.KeyError, err.Error()),
		)
	}
	return msg.ID, nil
}

// PostCloseConfirm posts the close confirmation prompt into the ticket
// channel.
func (d *Discord) PostCloseConfirm(ctx context.Context, channelID string, ticket *entities.Ticket) (string, error) {
	send := &discordgo.MessageSend{
		Content: fmt.Sprintf("Are you sure you want to close ticket **%s**? A transcript will be generated and the channel removed.", ticket.Name()),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    fmt.Sprintf("%s Close Ticket", ConfirmEmoji),
						Style:    discordgo.DangerButton,
						CustomID: ConfirmCloseButtonID,
					},
					discordgo.Button{
						Label:    fmt.Sprintf("%s Cancel", CancelEmoji),
						Style:    discordgo.SecondaryButton,
						CustomID: CancelCloseButtonID,
					},
				},
			},
		},
	}

	var msg *discordgo.Message
	err := retryableCtx(ctx, func() error {
		var err error
		msg, err = d.s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("error sending close confirmation: %w", err)
	}
	return msg.ID, nil
}

// PostOpenTicketPanel posts the persistent panel message with the open
// ticket button into the configured panel channel.
func (d *Discord) PostOpenTicketPanel(ctx context.Context, channelID string) (string, error) {
	const panelText = `How can we help?
Welcome to our tickets channel. If you have any questions or inquiries, please click on the button below to contact the staff by opening a ticket!`

	send := &discordgo.MessageSend{
		Content: panelText,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    fmt.Sprintf("%s Open Ticket", OpenEmoji),
						Style:    discordgo.PrimaryButton,
						CustomID: OpenTicketButtonID,
					},
				},
			},
		},
	}

	var msg *discordgo.Message
	err := retryableCtx(ctx, func() error {
		var err error
		msg, err = d.s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("error sending panel message: %w", err)
	}
	return msg.ID, nil
}

// FetchHistory fetches one page of a channels message history, newest first.
func (d *Discord) FetchHistory(ctx context.Context, channelID, beforeID string, limit int) ([]transcript.Message, error) {
	var msgs []*discordgo.Message
	err := retryableCtx(ctx, func() error {
		var err error
		msgs, err = d.s.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching channel messages: %w", err)
	}

	out := make([]transcript.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := transcript.Message{
			ID:        m.ID,
			Timestamp: m.Timestamp,
			Content:   m.Content,
		}
		if m.Author != nil {
			msg.AuthorID = m.Author.ID
			msg.Author = m.Author.Username
		}
		out = append(out, msg)
	}
	return out, nil
}

// isUnknownChannel reports whether the error is the Discord API telling us
// the channel no longer exists.
func isUnknownChannel(err error) bool {
	if err == nil {
		return false
	}
	restErr := new(discordgo.RESTError)
	return errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownChannel
}
