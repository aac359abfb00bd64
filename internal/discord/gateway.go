// Package discord delivers rendered reminders through a discordgo session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// ErrUnresolved wraps failures caused by a channel or user that does not
// exist or cannot be reached. Retrying them is pointless.
var ErrUnresolved = errors.New("destination not found")

// Session is the part of *discordgo.Session the gateway uses.
type Session interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Gateway struct {
	session Session
}

func NewGateway(s Session) *Gateway {
	return &Gateway{session: s}
}

// SendToChannel posts msg to channelID.
func (g *Gateway) SendToChannel(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	if channelID == "" {
		return fmt.Errorf("%w: empty channel id", ErrUnresolved)
	}
	if _, err := g.session.Channel(channelID, discordgo.WithContext(ctx)); err != nil {
		return classify(err, "channel "+channelID)
	}
	if _, err := g.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return classify(err, "send to channel "+channelID)
	}
	return nil
}

// SendToUser opens (or reuses) the DM channel with userID and posts msg.
func (g *Gateway) SendToUser(ctx context.Context, userID string, msg *discordgo.MessageSend) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrUnresolved)
	}
	if _, err := g.session.User(userID, discordgo.WithContext(ctx)); err != nil {
		return classify(err, "user "+userID)
	}
	dm, err := g.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return classify(err, "open DM with "+userID)
	}
	if _, err := g.session.ChannelMessageSendComplex(dm.ID, msg, discordgo.WithContext(ctx)); err != nil {
		return classify(err, "send DM to "+userID)
	}
	return nil
}

// classify marks 404s and "cannot send to this user" as unresolved.
func classify(err error, what string) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s: %v", ErrUnresolved, what, err)
		}
		if restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownUser, discordgo.ErrCodeCannotSendMessagesToThisUser:
				return fmt.Errorf("%w: %s: %v", ErrUnresolved, what, err)
			}
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
