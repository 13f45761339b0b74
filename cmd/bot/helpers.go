package main

import (
	"github.com/bwmarrin/discordgo"

	"github.com/Jacobbrewer1/sprout/pkg/ticketing"
)

// respondEphemeral responds to an interaction with a message only the
// interacting user can see.
func respondEphemeral(a IApp, i *discordgo.InteractionCreate, content string) error {
	return a.Session().InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// respond responds to an interaction with a message visible to the channel.
func respond(a IApp, i *discordgo.InteractionCreate, content string) error {
	return a.Session().InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
}

// actorFrom builds the state machine actor for the interacting member.
func actorFrom(i *discordgo.InteractionCreate) ticketing.Actor {
	actor := ticketing.Actor{}
	if i.Member != nil && i.Member.User != nil {
		actor.UserID = i.Member.User.ID
		actor.Username = i.Member.User.Username
		actor.RoleIDs = i.Member.Roles
	}
	return actor
}
