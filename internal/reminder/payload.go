package reminder

import (
	"errors"
	"fmt"
)

// PayloadKind discriminates the two delivery targets a reminder can have.
type PayloadKind string

const (
	// PayloadChannel posts the reminder to a guild channel, mentioning the author.
	PayloadChannel PayloadKind = "channel"
	// PayloadDM sends the reminder as a direct message to a guild member.
	PayloadDM PayloadKind = "dm"
)

var ErrInvalidPayload = errors.New("reminder: invalid payload")

// Payload is the reminder content plus its delivery target.
//
// Exactly one target shape is populated, selected by Kind. Use the
// constructors; a zero Payload fails Validate.
type Payload struct {
	Kind    PayloadKind `json:"kind"`
	Message string      `json:"message"`

	// Kind == PayloadChannel
	ChannelID string `json:"channel_id,omitempty"`
	AuthorID  string `json:"author_id,omitempty"`

	// Kind == PayloadDM
	UserID  string `json:"user_id,omitempty"`
	GuildID string `json:"guild_id,omitempty"`
}

// NewChannelPayload builds a channel-scoped reminder payload.
func NewChannelPayload(channelID, message, authorID string) Payload {
	return Payload{
		Kind:      PayloadChannel,
		Message:   message,
		ChannelID: channelID,
		AuthorID:  authorID,
	}
}

// NewDMPayload builds a direct-message reminder payload.
func NewDMPayload(userID, guildID, message string) Payload {
	return Payload{
		Kind:    PayloadDM,
		Message: message,
		UserID:  userID,
		GuildID: guildID,
	}
}

func (p Payload) Validate() error {
	if p.Message == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidPayload)
	}
	switch p.Kind {
	case PayloadChannel:
		if p.ChannelID == "" || p.AuthorID == "" {
			return fmt.Errorf("%w: channel payload needs channel_id and author_id", ErrInvalidPayload)
		}
		if p.UserID != "" || p.GuildID != "" {
			return fmt.Errorf("%w: channel payload must not carry dm fields", ErrInvalidPayload)
		}
	case PayloadDM:
		if p.UserID == "" || p.GuildID == "" {
			return fmt.Errorf("%w: dm payload needs user_id and guild_id", ErrInvalidPayload)
		}
		if p.ChannelID != "" || p.AuthorID != "" {
			return fmt.Errorf("%w: dm payload must not carry channel fields", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, p.Kind)
	}
	return nil
}

// Target describes where the payload goes, for logs and alerts.
func (p Payload) Target() string {
	switch p.Kind {
	case PayloadChannel:
		return "channel:" + p.ChannelID
	case PayloadDM:
		return "user:" + p.UserID
	default:
		return "unknown"
	}
}
