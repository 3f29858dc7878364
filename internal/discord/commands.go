package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"remindbot/internal/engine"
	"remindbot/internal/reminder"
	"remindbot/internal/store"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

const handlerTimeout = 10 * time.Second

// Commands maps the /remind slash-command surface onto the scheduling
// core. All argument validation beyond Discord's own option types happens
// in the resolver and the store; this layer only translates.
type Commands struct {
	session  *discordgo.Session
	store    store.Store
	engine   *engine.Service
	resolver *timeparse.Resolver
	log      logx.Logger

	// guildID scopes registration during development; empty means global.
	guildID    string
	registered []*discordgo.ApplicationCommand
}

func NewCommands(session *discordgo.Session, st store.Store, eng *engine.Service, res *timeparse.Resolver, guildID string, log logx.Logger) *Commands {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Commands{
		session:  session,
		store:    st,
		engine:   eng,
		resolver: res,
		guildID:  guildID,
		log:      log,
	}
}

// Register installs the /remind command tree. Call after the gateway
// session is open (the application id comes from the ready state).
func (c *Commands) Register() error {
	appID := c.session.State.User.ID
	cmd, err := c.session.ApplicationCommandCreate(appID, c.guildID, remindCommand())
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	c.registered = append(c.registered, cmd)
	c.session.AddHandler(c.handleInteraction)
	c.log.Info("slash commands registered", logx.String("scope", scopeName(c.guildID)))
	return nil
}

func scopeName(guildID string) string {
	if guildID == "" {
		return "global"
	}
	return "guild " + guildID
}

func remindCommand() *discordgo.ApplicationCommand {
	channelOpt := &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionChannel, Name: "channel",
		Description: "Channel to post in (defaults to the current channel)",
	}
	userOpt := &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionUser, Name: "user",
		Description: "Send the reminder as a DM to this user instead",
	}
	bothOpt := &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionBoolean, Name: "dm_and_current_channel",
		Description: "With user set, also post in the channel",
	}
	msgOpt := func(req bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionString, Name: "message",
			Description: "The reminder text", Required: req,
		}
	}
	strOpt := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionString, Name: name, Description: desc,
		}
	}
	intOpt := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionInteger, Name: name, Description: desc,
		}
	}

	return &discordgo.ApplicationCommand{
		Name:        "remind",
		Description: "Schedule reminders",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "add",
				Description: "Add a one-shot reminder",
				Options: []*discordgo.ApplicationCommandOption{
					msgOpt(true),
					{
						Type: discordgo.ApplicationCommandOptionString, Name: "time",
						Description: "When to fire, e.g. \"in 2 hours\" or \"Friday at 15:00\"", Required: true,
					},
					channelOpt, userOpt, bothOpt,
				},
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "cron",
				Description: "Add a reminder on a calendar schedule",
				Options: []*discordgo.ApplicationCommandOption{
					msgOpt(true),
					strOpt("year", "4-digit year, list or range"),
					strOpt("month", "Month (1-12)"),
					strOpt("day", "Day of month (1-31)"),
					strOpt("week", "ISO week (1-53)"),
					strOpt("day_of_week", "Weekday (0-6 or mon..sun)"),
					strOpt("hour", "Hour (0-23)"),
					strOpt("minute", "Minute (0-59)"),
					strOpt("second", "Second (0-59)"),
					strOpt("start", "Earliest fire time (parsed)"),
					strOpt("end", "Latest fire time (parsed)"),
					strOpt("timezone", "IANA zone, e.g. Europe/Stockholm"),
					intOpt("jitter", "Random delay, seconds"),
					channelOpt, userOpt, bothOpt,
				},
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "interval",
				Description: "Add a reminder on a fixed period",
				Options: []*discordgo.ApplicationCommandOption{
					msgOpt(true),
					intOpt("weeks", "Weeks between runs"),
					intOpt("days", "Days between runs"),
					intOpt("hours", "Hours between runs"),
					intOpt("minutes", "Minutes between runs"),
					intOpt("seconds", "Seconds between runs"),
					strOpt("start", "First possible fire time (parsed)"),
					strOpt("end", "Last possible fire time (parsed)"),
					strOpt("timezone", "IANA zone"),
					intOpt("jitter", "Random delay, seconds"),
					channelOpt, userOpt, bothOpt,
				},
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list",
				Description: "List this guild's reminders",
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "edit",
				Description: "Change a reminder's message or time",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type: discordgo.ApplicationCommandOptionString, Name: "id",
						Description: "Reminder id (prefix is enough)", Required: true,
					},
					msgOpt(false),
					strOpt("time", "New fire time (one-shot reminders)"),
				},
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "remove",
				Description: "Delete a reminder",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type: discordgo.ApplicationCommandOptionString, Name: "id",
						Description: "Reminder id (prefix is enough)", Required: true,
					},
				},
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "pause_unpause",
				Description: "Pause or resume a reminder",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type: discordgo.ApplicationCommandOptionString, Name: "id",
						Description: "Reminder id (prefix is enough)", Required: true,
					},
				},
			},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "backup",
				Description: "Export this guild's reminders as JSON",
			},
		},
	}
}

func (c *Commands) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "remind" || len(data.Options) == 0 {
		return
	}
	if i.GuildID == "" {
		c.respond(i, "Reminders can only be managed from inside a guild.", true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	sub := data.Options[0]
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "add":
		c.handleAdd(ctx, i, opts)
	case "cron":
		c.handleCron(ctx, i, opts)
	case "interval":
		c.handleInterval(ctx, i, opts)
	case "list":
		c.handleList(ctx, i)
	case "edit":
		c.handleEdit(ctx, i, opts)
	case "remove":
		c.handleRemove(ctx, i, opts)
	case "pause_unpause":
		c.handlePause(ctx, i, opts)
	case "backup":
		c.handleBackup(ctx, i)
	}
}

// ---- subcommand handlers ----

func (c *Commands) handleAdd(ctx context.Context, i *discordgo.InteractionCreate, opts optMap) {
	message := opts.str("message")
	timeText := opts.str("time")

	now := time.Now()
	tr, err := c.resolver.ResolveDate(timeText, "", now)
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}

	c.createTargets(ctx, i, opts, tr, message, func() string {
		return fmt.Sprintf("I parsed `%s` as `%s`.", timeText, tr.FireAt.Format("2006-01-02 15:04 MST"))
	})
}

func (c *Commands) handleCron(ctx context.Context, i *discordgo.InteractionCreate, opts optMap) {
	f := timeparse.CronFields{
		Year:      opts.str("year"),
		Month:     opts.str("month"),
		Day:       opts.str("day"),
		Week:      opts.str("week"),
		DayOfWeek: opts.str("day_of_week"),
		Hour:      opts.str("hour"),
		Minute:    opts.str("minute"),
		Second:    opts.str("second"),
		StartText: opts.str("start"),
		EndText:   opts.str("end"),
		Timezone:  opts.str("timezone"),
		Jitter:    opts.integer("jitter"),
	}
	tr, err := c.resolver.ResolveCron(f, time.Now())
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}

	c.createTargets(ctx, i, opts, tr, opts.str("message"), func() string {
		return fmt.Sprintf("Cron schedule `%s` in `%s`.", tr.Spec(), tr.Timezone)
	})
}

func (c *Commands) handleInterval(ctx context.Context, i *discordgo.InteractionCreate, opts optMap) {
	f := timeparse.IntervalFields{
		Weeks:     opts.integer("weeks"),
		Days:      opts.integer("days"),
		Hours:     opts.integer("hours"),
		Minutes:   opts.integer("minutes"),
		Seconds:   opts.integer("seconds"),
		StartText: opts.str("start"),
		EndText:   opts.str("end"),
		Timezone:  opts.str("timezone"),
		Jitter:    opts.integer("jitter"),
	}
	tr, err := c.resolver.ResolveInterval(f, time.Now())
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}

	c.createTargets(ctx, i, opts, tr, opts.str("message"), func() string {
		return fmt.Sprintf("Fires every `%s`.", tr.Period())
	})
}

// createTargets builds the DM and/or channel jobs a create subcommand asks
// for, mirroring the target rules of the add/cron/interval commands.
func (c *Commands) createTargets(ctx context.Context, i *discordgo.InteractionCreate, opts optMap, tr reminder.Trigger, message string, parsed func() string) {
	invoker := interactionUser(i)
	var lines []string

	if userID := opts.user(); userID != "" {
		job := &reminder.Job{
			Trigger: tr,
			Payload: reminder.NewDMPayload(userID, i.GuildID, message),
			GuildID: i.GuildID,
		}
		id, err := c.store.Create(ctx, job)
		if err != nil {
			c.respond(i, userError(err), true)
			return
		}
		lines = append(lines, fmt.Sprintf("DM reminder `%s` for <@%s>, first run %s.",
			shortID(id), userID, describeFirstRun(job)))

		if !opts.boolean("dm_and_current_channel") {
			c.engine.Notify()
			c.respond(i, parsed()+"\n"+strings.Join(lines, "\n"), false)
			return
		}
	}

	channelID := opts.channel()
	if channelID == "" {
		channelID = i.ChannelID
	}
	job := &reminder.Job{
		Trigger: tr,
		Payload: reminder.NewChannelPayload(channelID, message, invoker),
		GuildID: i.GuildID,
	}
	id, err := c.store.Create(ctx, job)
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}
	lines = append(lines, fmt.Sprintf("Reminder `%s` in <#%s>, first run %s.",
		shortID(id), channelID, describeFirstRun(job)))

	c.engine.Notify()
	c.respond(i, parsed()+"\n"+strings.Join(lines, "\n"), false)
}

func describeFirstRun(j *reminder.Job) string {
	if j.NextFire == nil {
		return "never"
	}
	return reminder.DiscordRelative(*j.NextFire)
}

func (c *Commands) handleList(ctx context.Context, i *discordgo.InteractionCreate) {
	jobs, err := c.store.List(ctx, store.Filter{GuildID: i.GuildID, Order: store.OrderNextFire})
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}
	if len(jobs) == 0 {
		c.respond(i, "No reminders in this guild.", true)
		return
	}

	now := time.Now()
	var b strings.Builder
	for _, j := range jobs {
		line := fmt.Sprintf("`%s` [%s] %s — %s\n",
			shortID(j.ID), j.Trigger.Kind(), truncateMessage(j.Payload.Message, 60), j.Describe(now))
		if b.Len()+len(line) > 1800 {
			b.WriteString(fmt.Sprintf("… and %d more\n", len(jobs)))
			break
		}
		b.WriteString(line)
	}
	c.respond(i, b.String(), true)
}

func (c *Commands) handleEdit(ctx context.Context, i *discordgo.InteractionCreate, opts optMap) {
	job, err := c.findJob(ctx, i.GuildID, opts.str("id"))
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}

	newMessage := opts.str("message")
	timeText := opts.str("time")
	if newMessage == "" && timeText == "" {
		c.respond(i, "Nothing to change: give a new message and/or time.", true)
		return
	}

	var newTrigger reminder.Trigger
	if timeText != "" {
		tr, err := c.resolver.ResolveDate(timeText, "", time.Now())
		if err != nil {
			c.respond(i, userError(err), true)
			return
		}
		newTrigger = tr
	}

	upd, err := c.store.Update(ctx, job.ID, func(j *reminder.Job) error {
		if newMessage != "" {
			j.Payload.Message = newMessage
		}
		if newTrigger != nil {
			j.Trigger = newTrigger
		}
		return nil
	})
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}
	c.engine.Notify()
	c.respond(i, fmt.Sprintf("Updated `%s`, next run %s.", shortID(upd.ID), describeFirstRun(upd)), false)
}

func (c *Commands) handleRemove(ctx context.Context, i *discordgo.InteractionCreate, opts optMap) {
	job, err := c.findJob(ctx, i.GuildID, opts.str("id"))
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}
	if err := c.store.Delete(ctx, job.ID); err != nil {
		c.respond(i, userError(err), true)
		return
	}
	c.engine.Notify()
	c.respond(i, fmt.Sprintf("Removed `%s` (%s).", shortID(job.ID), truncateMessage(job.Payload.Message, 40)), false)
}

func (c *Commands) handlePause(ctx context.Context, i *discordgo.InteractionCreate, opts optMap) {
	job, err := c.findJob(ctx, i.GuildID, opts.str("id"))
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}
	upd, err := c.store.Update(ctx, job.ID, func(j *reminder.Job) error {
		j.Paused = !j.Paused
		return nil
	})
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}
	c.engine.Notify()
	c.log.Info("pause toggled", logx.String("job", upd.ID), logx.Bool("paused", upd.Paused))
	if upd.Paused {
		c.respond(i, fmt.Sprintf("Paused `%s`.", shortID(upd.ID)), false)
		return
	}
	c.respond(i, fmt.Sprintf("Resumed `%s`, next run %s.", shortID(upd.ID), describeFirstRun(upd)), false)
}

func (c *Commands) handleBackup(ctx context.Context, i *discordgo.InteractionCreate) {
	jobs, err := c.store.List(ctx, store.Filter{GuildID: i.GuildID, Order: store.OrderID})
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}
	data, err := reminder.Export(jobs)
	if err != nil {
		c.respond(i, userError(err), true)
		return
	}

	err = c.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fmt.Sprintf("%d reminder(s).", len(jobs)),
			Files: []*discordgo.File{{
				Name:        "reminders.json",
				ContentType: "application/json",
				Reader:      strings.NewReader(string(data)),
			}},
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		c.log.Warn("backup response failed", logx.Err(err))
	}
}

// findJob resolves an id prefix within a guild. Requiring the guild to
// match keeps users from poking at other guilds' reminders.
func (c *Commands) findJob(ctx context.Context, guildID, idOrPrefix string) (*reminder.Job, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, store.ErrNotFound
	}
	jobs, err := c.store.List(ctx, store.Filter{GuildID: guildID, Order: store.OrderID})
	if err != nil {
		return nil, err
	}
	var found *reminder.Job
	for _, j := range jobs {
		if strings.HasPrefix(j.ID, idOrPrefix) {
			if found != nil {
				return nil, fmt.Errorf("id prefix %q is ambiguous", idOrPrefix)
			}
			found = j
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

// ---- plumbing ----

type optMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) optMap {
	m := make(optMap, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (m optMap) str(name string) string {
	if o, ok := m[name]; ok {
		return o.StringValue()
	}
	return ""
}

func (m optMap) integer(name string) int {
	if o, ok := m[name]; ok {
		return int(o.IntValue())
	}
	return 0
}

func (m optMap) boolean(name string) bool {
	if o, ok := m[name]; ok {
		return o.BoolValue()
	}
	return false
}

func (m optMap) channel() string {
	if o, ok := m["channel"]; ok {
		if s, ok := o.Value.(string); ok {
			return s
		}
	}
	return ""
}

func (m optMap) user() string {
	if o, ok := m["user"]; ok {
		if s, ok := o.Value.(string); ok {
			return s
		}
	}
	return ""
}

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func (c *Commands) respond(i *discordgo.InteractionCreate, content string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := c.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: flags},
	})
	if err != nil {
		c.log.Warn("interaction response failed", logx.Err(err))
	}
}

func truncateMessage(s string, maxN int) string {
	r := []rune(s)
	if len(r) <= maxN {
		return s
	}
	return string(r[:maxN-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// userError turns core errors into a user-facing sentence. Unknown errors
// get a generic line; details stay in the log.
func userError(err error) string {
	switch {
	case errors.Is(err, timeparse.ErrUnparseableTime):
		return "I could not parse that time. Try something like `in 2 hours` or `2026-09-14 15:00`."
	case errors.Is(err, timeparse.ErrPastTime):
		return "That time is in the past. Reminders must fire in the future."
	case errors.Is(err, timeparse.ErrEmptyRecurrence):
		return "Set at least one recurrence field."
	case errors.Is(err, timeparse.ErrInvalidRange):
		return fmt.Sprintf("Invalid schedule: %v", err)
	case errors.Is(err, timeparse.ErrUnknownTimezone):
		return "Unknown timezone. Use an IANA name like `Europe/Stockholm`."
	case errors.Is(err, store.ErrNotFound):
		return "No reminder with that id."
	case errors.Is(err, store.ErrWrite):
		return "Saving the reminder failed. Please try again."
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}
