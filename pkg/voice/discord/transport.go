// Package discord implements the [voice.Transport] and [voice.Player]
// interfaces on top of Discord voice channels via the bwmarrin/discordgo
// library. It requires an active *discordgo.Session owned by the bot layer.
//
// Connection operations are executed through the session's voice state
// machinery; announcement playback encodes WAV artifacts to 48 kHz stereo
// Opus and streams them over the guild's live voice connection.
package discord

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/bellhop-bot/bellhop/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Transport = (*Transport)(nil)

// Transport executes voice channel joins, moves and disconnects for guilds.
// It is safe for concurrent use; callers serialise operations per guild.
type Transport struct {
	session *discordgo.Session
	log     *slog.Logger

	// join performs the actual voice state change. Defaults to the session's
	// ChannelVoiceJoin; overridden in tests.
	join func(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// Option configures a [Transport].
type Option func(*Transport)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) {
		if log != nil {
			t.log = log
		}
	}
}

// New creates a Transport backed by the given session.
func New(session *discordgo.Session, opts ...Option) *Transport {
	t := &Transport{
		session: session,
		log:     slog.Default(),
		join:    session.ChannelVoiceJoin,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect joins the voice channel on behalf of the guild. The bot joins
// unmuted and deafened: it sends announcements but never consumes incoming
// audio.
func (t *Transport) Connect(ctx context.Context, tenantID, roomID string) error {
	return t.joinChannel(ctx, "connect", tenantID, roomID)
}

// MoveTo switches the guild's existing voice connection to another channel.
// The session reuses the live connection when one exists, so the operation is
// a single voice state update rather than a teardown and rejoin.
func (t *Transport) MoveTo(ctx context.Context, tenantID, roomID string) error {
	return t.joinChannel(ctx, "move", tenantID, roomID)
}

// joinChannel runs the blocking voice join in a goroutine so the context
// deadline is honoured. When the deadline fires first, the join keeps running
// in the background; the post-connect verification and the periodic sweep
// reconcile whatever state it leaves behind.
func (t *Transport) joinChannel(ctx context.Context, op, tenantID, roomID string) error {
	errc := make(chan error, 1)
	go func() {
		_, err := t.join(tenantID, roomID, false, true)
		errc <- err
	}()

	select {
	case <-ctx.Done():
		return &voice.Error{Kind: voice.ErrKindTimeout, Op: op, TenantID: tenantID, Err: ctx.Err()}
	case err := <-errc:
		if err != nil {
			return &voice.Error{Kind: classify(err), Op: op, TenantID: tenantID, Err: err}
		}
		return nil
	}
}

// Disconnect leaves the guild's current voice channel. Disconnecting while
// not connected is a no-op.
func (t *Transport) Disconnect(_ context.Context, tenantID string) error {
	vc := t.connection(tenantID)
	if vc == nil {
		return nil
	}
	if err := vc.Disconnect(); err != nil {
		return &voice.Error{Kind: classify(err), Op: "disconnect", TenantID: tenantID, Err: err}
	}
	return nil
}

// ConnectedRoom reports the channel the bot currently occupies in the guild,
// or "" when not connected.
func (t *Transport) ConnectedRoom(_ context.Context, tenantID string) (string, error) {
	vc := t.connection(tenantID)
	if vc == nil {
		return "", nil
	}
	vc.RLock()
	defer vc.RUnlock()
	if !vc.Ready {
		return "", nil
	}
	return vc.ChannelID, nil
}

// connection returns the guild's live voice connection, or nil.
func (t *Transport) connection(tenantID string) *discordgo.VoiceConnection {
	t.session.RLock()
	defer t.session.RUnlock()
	return t.session.VoiceConnections[tenantID]
}

// classify maps a discordgo error to a [voice.ErrorKind]. A join that timed
// out waiting for the voice server handshake indicates the gateway session
// went stale, which resolves itself on a fresh attempt.
func classify(err error) voice.ErrorKind {
	if err == nil {
		return voice.ErrKindOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return voice.ErrKindTimeout
	}
	msg := err.Error()
	if strings.Contains(msg, "timeout waiting for voice") || strings.Contains(msg, "already have a voice connection") {
		return voice.ErrKindSessionInvalid
	}
	return voice.ErrKindOther
}
