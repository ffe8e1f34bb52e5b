// Package discord provides the Discord gateway layer for bellhop. It owns
// the discordgo.Session lifecycle, converts raw VoiceStateUpdate events into
// presence events with precomputed participant flags, and builds occupancy
// snapshots from the session's state cache.
package discord

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/bellhop-bot/bellhop/internal/presence"
	"github.com/bellhop-bot/bellhop/pkg/voice"
)

// eventBuffer bounds the presence event queue between the gateway handler
// and the application loop.
const eventBuffer = 256

// Config holds Discord gateway configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string

	// GuildIDs restricts processing to the listed guilds. Empty means every
	// guild the bot account is a member of.
	GuildIDs []string
}

// Bot owns the Discord gateway connection. Voice state changes stream out of
// [Bot.Events]; snapshots are computed on demand from the state cache.
type Bot struct {
	session *discordgo.Session
	log     *slog.Logger

	// guilds is the allow-list; empty means all guilds.
	guilds map[string]bool

	events chan presence.Event

	mu     sync.RWMutex
	selfID string

	done      chan struct{}
	closeOnce sync.Once

	removeHandlers []func()
}

// Option configures a [Bot].
type Option func(*Bot)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(b *Bot) {
		if log != nil {
			b.log = log
		}
	}
}

// New creates a Bot with the voice-state intents configured. The gateway
// connection is not opened until [Bot.Open].
func New(cfg Config, opts ...Option) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers
	session.StateEnabled = true

	b := &Bot{
		session: session,
		log:     slog.Default(),
		guilds:  make(map[string]bool, len(cfg.GuildIDs)),
		events:  make(chan presence.Event, eventBuffer),
		done:    make(chan struct{}),
	}
	for _, id := range cfg.GuildIDs {
		b.guilds[id] = true
	}
	for _, opt := range opts {
		opt(b)
	}

	b.removeHandlers = append(b.removeHandlers,
		session.AddHandler(b.handleReady),
		session.AddHandler(b.handleVoiceState),
	)

	return b, nil
}

// Open connects to the gateway and blocks until the initial handshake
// completes.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	return nil
}

// Close disconnects from the gateway and stops event delivery. Safe to call
// more than once.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		close(b.done)
		for _, remove := range b.removeHandlers {
			remove()
		}
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		b.log.Info("gateway closed")
	})
	return closeErr
}

// Session returns the underlying discordgo session. The voice transport and
// player are constructed on top of it.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Events returns the stream of presence changes. The channel is never closed;
// consumers stop via their own context.
func (b *Bot) Events() <-chan presence.Event {
	return b.events
}

// Connected reports whether the gateway websocket is open and ready.
func (b *Bot) Connected() bool {
	return b.session.DataReady
}

// Guilds returns the IDs of all tracked guilds currently in the state cache,
// sorted for deterministic iteration.
func (b *Bot) Guilds() []string {
	var ids []string
	for _, g := range b.session.State.Guilds {
		if b.tracks(g.ID) {
			ids = append(ids, g.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot builds the current occupancy picture for one guild from the state
// cache.
func (b *Bot) Snapshot(guildID string) (presence.Snapshot, error) {
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return presence.Snapshot{}, fmt.Errorf("discord: guild %s not in state: %w", guildID, err)
	}

	snap := presence.Snapshot{TenantID: guildID}

	occupants := make(map[string][]voice.Participant)
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == "" {
			continue
		}
		occupants[vs.ChannelID] = append(occupants[vs.ChannelID], b.stateParticipant(guildID, vs.UserID))
	}

	for _, ch := range guild.Channels {
		if ch.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}
		snap.Rooms = append(snap.Rooms, presence.RoomOccupancy{
			Room:      voice.Room{ID: ch.ID, Name: ch.Name},
			Occupants: occupants[ch.ID],
		})
	}
	return snap, nil
}

// tracks reports whether events for the guild should be processed.
func (b *Bot) tracks(guildID string) bool {
	return len(b.guilds) == 0 || b.guilds[guildID]
}

// handleReady records the bot's own user ID for self-detection.
func (b *Bot) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	b.selfID = r.User.ID
	b.mu.Unlock()
	b.log.Info("gateway ready", "user_id", r.User.ID, "guilds", len(r.Guilds))
}

// handleVoiceState converts a VoiceStateUpdate into a presence event. Updates
// that do not change the channel (mute, deafen, stream toggles) are dropped
// here so the decision layer only sees real transitions.
func (b *Bot) handleVoiceState(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || !b.tracks(vsu.GuildID) {
		return
	}

	from := ""
	if vsu.BeforeUpdate != nil {
		from = vsu.BeforeUpdate.ChannelID
	}
	to := vsu.ChannelID
	if from == to {
		return
	}

	ev := presence.Event{
		TenantID:    vsu.GuildID,
		Participant: b.participant(vsu.UserID, vsu.Member),
		FromRoomID:  from,
		ToRoomID:    to,
	}

	select {
	case b.events <- ev:
	case <-b.done:
	default:
		// Queue full. Dropping is safe: the next decision runs against a
		// fresh snapshot, so a lost event cannot strand the bot.
		b.log.Warn("presence event queue full, dropping event",
			"guild_id", vsu.GuildID, "user_id", vsu.UserID)
	}
}

// participant builds a flagged participant from a gateway member payload.
func (b *Bot) participant(userID string, member *discordgo.Member) voice.Participant {
	p := voice.Participant{ID: userID, DisplayName: userID, Self: b.isSelf(userID)}
	if member == nil || member.User == nil {
		return p
	}
	p.DisplayName = displayName(member)
	p.Automated = member.User.Bot
	p.System = member.User.System
	return p
}

// stateParticipant builds a flagged participant from the state cache, falling
// back to the bare user ID when the member is not cached.
func (b *Bot) stateParticipant(guildID, userID string) voice.Participant {
	member, err := b.session.State.Member(guildID, userID)
	if err != nil {
		return voice.Participant{ID: userID, DisplayName: userID, Self: b.isSelf(userID)}
	}
	return b.participant(userID, member)
}

// isSelf reports whether userID is the bot's own account.
func (b *Bot) isSelf(userID string) bool {
	b.mu.RLock()
	self := b.selfID
	b.mu.RUnlock()
	if self == "" && b.session.State != nil && b.session.State.User != nil {
		self = b.session.State.User.ID
	}
	return self != "" && userID == self
}

// displayName picks the name used in announcements: server nickname first,
// then global display name, then username.
func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
