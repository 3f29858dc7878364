// Package discord is the chat-platform boundary: outbound reminder
// delivery plus the slash-command surface. The scheduling core never
// imports the platform SDK; it sees this package only through the
// engine.Dispatcher contract.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Dispatcher delivers reminder payloads through the Discord REST API.
// A small limiter keeps burst fires under Discord's per-route limits.
type Dispatcher struct {
	session *discordgo.Session
	log     logx.Logger
	limiter *rate.Limiter
}

func NewDispatcher(session *discordgo.Session, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		session: session,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

// Deliver sends one reminder. Bounded by ctx; errors go back to the
// engine for logging and alerting, never retried here.
func (d *Dispatcher) Deliver(ctx context.Context, p reminder.Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	switch p.Kind {
	case reminder.PayloadChannel:
		return d.deliverChannel(ctx, p)
	case reminder.PayloadDM:
		return d.deliverDM(ctx, p)
	default:
		return fmt.Errorf("discord: unknown payload kind %q", p.Kind)
	}
}

func (d *Dispatcher) deliverChannel(ctx context.Context, p reminder.Payload) error {
	msg := &discordgo.MessageSend{
		Content: fmt.Sprintf("<@%s>", p.AuthorID),
		Embeds: []*discordgo.MessageEmbed{{
			Description: p.Message,
			Color:       0x5865F2,
		}},
	}
	_, err := d.session.ChannelMessageSendComplex(p.ChannelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send to channel %s: %w", p.ChannelID, err)
	}
	return nil
}

func (d *Dispatcher) deliverDM(ctx context.Context, p reminder.Payload) error {
	ch, err := d.session.UserChannelCreate(p.UserID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: open dm with %s: %w", p.UserID, err)
	}
	_, err = d.session.ChannelMessageSend(ch.ID, p.Message, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: dm %s: %w", p.UserID, err)
	}
	return nil
}
