package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/bellhop-bot/bellhop/pkg/audio"
	"github.com/bellhop-bot/bellhop/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Player = (*Player)(nil)

// Player streams announcement WAV artifacts into a guild's live voice
// connection. Artifacts are read from disk, converted to Discord's 48 kHz
// stereo format and sent as paced 20 ms Opus frames.
//
// Player is safe for concurrent use, but only one playback per guild should
// run at a time; the caller sequences announcements per guild.
type Player struct {
	session *discordgo.Session
	log     *slog.Logger

	// lookup resolves a guild's live voice connection. Overridden in tests.
	lookup func(tenantID string) *discordgo.VoiceConnection

	// speak toggles the speaking indicator. Overridden in tests because the
	// real call requires a live voice websocket.
	speak func(vc *discordgo.VoiceConnection, b bool) error
}

// PlayerOption configures a [Player].
type PlayerOption func(*Player)

// WithPlayerLogger sets the structured logger. Defaults to [slog.Default].
func WithPlayerLogger(log *slog.Logger) PlayerOption {
	return func(p *Player) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPlayer creates a Player backed by the given session.
func NewPlayer(session *discordgo.Session, opts ...PlayerOption) *Player {
	p := &Player{
		session: session,
		log:     slog.Default(),
		speak: func(vc *discordgo.VoiceConnection, b bool) error {
			return vc.Speaking(b)
		},
	}
	p.lookup = func(tenantID string) *discordgo.VoiceConnection {
		session.RLock()
		defer session.RUnlock()
		return session.VoiceConnections[tenantID]
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play reads the WAV artifact at artifactPath and streams it into the
// guild's current voice connection. It returns once the last frame has been
// sent or the context is cancelled. Playback failures are reported as errors;
// the caller treats them as a skipped announcement.
func (p *Player) Play(ctx context.Context, tenantID, artifactPath string) error {
	vc := p.lookup(tenantID)
	if vc == nil {
		return &voice.Error{Kind: voice.ErrKindOther, Op: "play", TenantID: tenantID,
			Err: fmt.Errorf("no voice connection")}
	}

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("discord: read artifact: %w", err)
	}
	pcm, err := decodeArtifact(data)
	if err != nil {
		return fmt.Errorf("discord: decode artifact %s: %w", artifactPath, err)
	}

	frames, err := encodeFrames(pcm)
	if err != nil {
		return err
	}

	if err := p.speak(vc, true); err != nil {
		p.log.Warn("speaking notification failed", "guild_id", tenantID, "err", err)
	}
	defer func() {
		if err := p.speak(vc, false); err != nil {
			p.log.Warn("speaking notification failed", "guild_id", tenantID, "err", err)
		}
	}()

	// Pace frames at the Opus frame interval so the gateway buffer is never
	// flooded.
	ticker := time.NewTicker(opusFrameSizeMs * time.Millisecond)
	defer ticker.Stop()

	for _, frame := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case vc.OpusSend <- frame:
		}
	}
	return nil
}

// decodeArtifact parses a WAV artifact and returns its PCM converted to
// Discord's 48 kHz stereo format.
func decodeArtifact(wav []byte) ([]byte, error) {
	info, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.DataOffset : info.DataOffset+info.DataLen]

	switch info.Channels {
	case 1:
		pcm = audio.ResampleMono16(pcm, info.SampleRate, opusSampleRate)
		pcm = audio.MonoToStereo(pcm)
	case 2:
		pcm = audio.ResampleStereo16(pcm, info.SampleRate, opusSampleRate)
	default:
		return nil, fmt.Errorf("unsupported channel count %d", info.Channels)
	}
	return pcm, nil
}

// encodeFrames splits 48 kHz stereo PCM into 20 ms chunks and encodes each to
// an Opus packet. The final partial chunk is padded with silence.
func encodeFrames(pcm []byte) ([][]byte, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}

	var frames [][]byte
	for off := 0; off < len(pcm); off += opusFrameBytes {
		end := off + opusFrameBytes
		chunk := make([]byte, opusFrameBytes)
		if end > len(pcm) {
			copy(chunk, pcm[off:])
		} else {
			copy(chunk, pcm[off:end])
		}
		opus, err := enc.encode(chunk)
		if err != nil {
			return nil, err
		}
		frames = append(frames, opus)
	}
	return frames, nil
}
