package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/bellhop-bot/bellhop/internal/presence"
)

// newTestBot creates a Bot without opening a gateway connection.
func newTestBot(t *testing.T, guildIDs ...string) *Bot {
	t.Helper()
	b, err := New(Config{Token: "test-token", GuildIDs: guildIDs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.selfID = "bot-1"
	t.Cleanup(func() { close(b.done) })
	return b
}

func member(id, username, nick string, bot bool) *discordgo.Member {
	return &discordgo.Member{
		User: &discordgo.User{ID: id, Username: username, Bot: bot},
		Nick: nick,
	}
}

func voiceUpdate(guildID, userID, from, to string, m *discordgo.Member) *discordgo.VoiceStateUpdate {
	vsu := &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{
			GuildID:   guildID,
			UserID:    userID,
			ChannelID: to,
		},
	}
	vsu.Member = m
	if from != "" {
		vsu.BeforeUpdate = &discordgo.VoiceState{
			GuildID:   guildID,
			UserID:    userID,
			ChannelID: from,
		}
	}
	return vsu
}

func recvEvent(t *testing.T, b *Bot) presence.Event {
	t.Helper()
	select {
	case ev := <-b.Events():
		return ev
	default:
		t.Fatal("no event queued")
		return presence.Event{}
	}
}

func TestHandleVoiceState_Join(t *testing.T) {
	b := newTestBot(t)

	b.handleVoiceState(nil, voiceUpdate("guild-1", "user-1", "", "room-1", member("user-1", "ada", "", false)))

	ev := recvEvent(t, b)
	if ev.TenantID != "guild-1" {
		t.Errorf("tenant = %q, want guild-1", ev.TenantID)
	}
	if ev.Kind() != presence.EventJoin {
		t.Errorf("kind = %v, want join", ev.Kind())
	}
	if ev.ToRoomID != "room-1" || ev.FromRoomID != "" {
		t.Errorf("rooms = (%q -> %q), want (\"\" -> room-1)", ev.FromRoomID, ev.ToRoomID)
	}
	if ev.Participant.DisplayName != "ada" {
		t.Errorf("display name = %q, want ada", ev.Participant.DisplayName)
	}
	if !ev.Participant.Human() {
		t.Error("participant should count as human")
	}
}

func TestHandleVoiceState_Leave(t *testing.T) {
	b := newTestBot(t)

	b.handleVoiceState(nil, voiceUpdate("guild-1", "user-1", "room-1", "", member("user-1", "ada", "", false)))

	ev := recvEvent(t, b)
	if ev.Kind() != presence.EventLeave {
		t.Errorf("kind = %v, want leave", ev.Kind())
	}
}

func TestHandleVoiceState_Move(t *testing.T) {
	b := newTestBot(t)

	b.handleVoiceState(nil, voiceUpdate("guild-1", "user-1", "room-1", "room-2", member("user-1", "ada", "", false)))

	ev := recvEvent(t, b)
	if ev.Kind() != presence.EventMove {
		t.Errorf("kind = %v, want move", ev.Kind())
	}
	if ev.FromRoomID != "room-1" || ev.ToRoomID != "room-2" {
		t.Errorf("rooms = (%q -> %q), want (room-1 -> room-2)", ev.FromRoomID, ev.ToRoomID)
	}
}

func TestHandleVoiceState_MuteToggleIgnored(t *testing.T) {
	b := newTestBot(t)

	// Same channel before and after means a mute or deafen toggle.
	b.handleVoiceState(nil, voiceUpdate("guild-1", "user-1", "room-1", "room-1", member("user-1", "ada", "", false)))

	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestHandleVoiceState_GuildFilter(t *testing.T) {
	b := newTestBot(t, "guild-1")

	b.handleVoiceState(nil, voiceUpdate("guild-2", "user-1", "", "room-1", member("user-1", "ada", "", false)))

	select {
	case ev := <-b.Events():
		t.Fatalf("event for untracked guild: %+v", ev)
	default:
	}

	b.handleVoiceState(nil, voiceUpdate("guild-1", "user-1", "", "room-1", member("user-1", "ada", "", false)))
	recvEvent(t, b)
}

func TestHandleVoiceState_FlagsBotAccounts(t *testing.T) {
	b := newTestBot(t)

	b.handleVoiceState(nil, voiceUpdate("guild-1", "other-bot", "", "room-1", member("other-bot", "musicbot", "", true)))

	ev := recvEvent(t, b)
	if !ev.Participant.Automated {
		t.Error("bot account should be flagged automated")
	}
	if ev.Participant.Human() {
		t.Error("bot account should not count as human")
	}
}

func TestHandleVoiceState_FlagsSelf(t *testing.T) {
	b := newTestBot(t)

	b.handleVoiceState(nil, voiceUpdate("guild-1", "bot-1", "", "room-1", member("bot-1", "bellhop", "", true)))

	ev := recvEvent(t, b)
	if !ev.Participant.Self {
		t.Error("own account should be flagged self")
	}
}

func TestHandleVoiceState_NicknamePreferred(t *testing.T) {
	b := newTestBot(t)

	b.handleVoiceState(nil, voiceUpdate("guild-1", "user-1", "", "room-1", member("user-1", "ada", "Countess", false)))

	ev := recvEvent(t, b)
	if ev.Participant.DisplayName != "Countess" {
		t.Errorf("display name = %q, want Countess", ev.Participant.DisplayName)
	}
}

func TestHandleVoiceState_MissingMember(t *testing.T) {
	b := newTestBot(t)

	b.handleVoiceState(nil, voiceUpdate("guild-1", "user-1", "", "room-1", nil))

	ev := recvEvent(t, b)
	if ev.Participant.ID != "user-1" {
		t.Errorf("participant ID = %q, want user-1", ev.Participant.ID)
	}
	if ev.Participant.DisplayName != "user-1" {
		t.Errorf("display name should fall back to the user ID, got %q", ev.Participant.DisplayName)
	}
}

func TestSnapshot(t *testing.T) {
	b := newTestBot(t)

	guild := &discordgo.Guild{
		ID: "guild-1",
		Channels: []*discordgo.Channel{
			{ID: "room-1", Name: "General", Type: discordgo.ChannelTypeGuildVoice, GuildID: "guild-1"},
			{ID: "room-2", Name: "Gaming", Type: discordgo.ChannelTypeGuildVoice, GuildID: "guild-1"},
			{ID: "text-1", Name: "chat", Type: discordgo.ChannelTypeGuildText, GuildID: "guild-1"},
		},
		VoiceStates: []*discordgo.VoiceState{
			{GuildID: "guild-1", UserID: "user-1", ChannelID: "room-1"},
			{GuildID: "guild-1", UserID: "user-2", ChannelID: "room-1"},
			{GuildID: "guild-1", UserID: "bot-1", ChannelID: "room-2"},
		},
	}
	if err := b.session.State.GuildAdd(guild); err != nil {
		t.Fatalf("GuildAdd: %v", err)
	}
	m := member("user-1", "ada", "", false)
	m.GuildID = "guild-1"
	if err := b.session.State.MemberAdd(m); err != nil {
		t.Fatalf("MemberAdd: %v", err)
	}

	snap, err := b.Snapshot("guild-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.TenantID != "guild-1" {
		t.Errorf("tenant = %q, want guild-1", snap.TenantID)
	}
	if len(snap.Rooms) != 2 {
		t.Fatalf("rooms = %d, want 2 (text channels excluded)", len(snap.Rooms))
	}

	byID := make(map[string]presence.RoomOccupancy, len(snap.Rooms))
	for _, r := range snap.Rooms {
		byID[r.Room.ID] = r
	}
	if got := byID["room-1"].Humans(); got != 2 {
		t.Errorf("room-1 humans = %d, want 2", got)
	}
	if got := len(byID["room-2"].Occupants); got != 1 {
		t.Fatalf("room-2 occupants = %d, want 1", got)
	}
	if !byID["room-2"].Occupants[0].Self {
		t.Error("bot's own voice state should be flagged self")
	}
	if got := byID["room-2"].Humans(); got != 0 {
		t.Errorf("room-2 humans = %d, want 0", got)
	}
}

func TestSnapshot_UnknownGuild(t *testing.T) {
	b := newTestBot(t)
	if _, err := b.Snapshot("missing"); err == nil {
		t.Fatal("expected error for unknown guild, got nil")
	}
}

func TestGuilds_FilteredAndSorted(t *testing.T) {
	b := newTestBot(t, "guild-1", "guild-3")

	for _, id := range []string{"guild-3", "guild-1", "guild-2"} {
		if err := b.session.State.GuildAdd(&discordgo.Guild{ID: id}); err != nil {
			t.Fatalf("GuildAdd: %v", err)
		}
	}

	got := b.Guilds()
	if len(got) != 2 || got[0] != "guild-1" || got[1] != "guild-3" {
		t.Errorf("Guilds() = %v, want [guild-1 guild-3]", got)
	}
}
