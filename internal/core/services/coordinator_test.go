package services

import (
	"context"
	"encoding/json"
	"testing"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
	apperrors "tandem/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorCode(t *testing.T, out *recordingOutbox) string {
	t.Helper()
	msg := out.Last(domain.TypeError)
	require.NotNil(t, msg, "expected an error frame")
	return msg.Payload.(domain.ErrorPayload).Code
}

func TestCoordinator_HelloOnConnect(t *testing.T) {
	h := newHarness(t)
	h.connect("a")
	h.announce("a", "M")

	out := h.connect("b")

	require.Equal(t, []domain.MessageType{domain.TypeHello}, out.Types())
	hello := out.msgs[0].Payload.(domain.HelloPayload)
	assert.Equal(t, domain.ConnectionID("b"), hello.ConnectionID)
	assert.Equal(t, []domain.Role{"M", "V"}, hello.Roles)
	assert.Equal(t, domain.PresenceMap{"M": domain.StatusOnline, "V": domain.StatusOffline}, hello.Presence)
	assert.Empty(t, hello.NowPlaying)
}

func TestCoordinator_ConnectIsNotOnline(t *testing.T) {
	h := newHarness(t)
	h.connect("a")

	snap := h.c.Snapshot()
	assert.Equal(t, domain.PresenceMap{"M": domain.StatusOffline, "V": domain.StatusOffline}, snap.Presence)
	assert.Equal(t, 1, snap.Connections)
}

// Scenario: two participants come online in turn.
func TestCoordinator_PresenceAndPartnerOnline(t *testing.T) {
	h := newHarness(t)
	v := h.connect("v1")
	h.announce("v1", "V")
	m := h.connect("m1")
	idle := h.connect("idle")
	h.resetAll()

	h.announce("m1", "M")

	for _, out := range []*recordingOutbox{v, m, idle} {
		update := out.Last(domain.TypePresenceUpdate)
		require.NotNil(t, update)
		assert.Equal(t, domain.PresenceMap{"M": domain.StatusOnline, "V": domain.StatusOnline}, update.Payload)

		status := out.Last(domain.TypeStatusChange)
		require.NotNil(t, status)
		assert.Equal(t, domain.StatusChangePayload{Role: "M", Status: domain.StatusOnline}, status.Payload)
	}

	require.Len(t, v.OfType(domain.TypePartnerOnline), 1)
	notice := v.Last(domain.TypePartnerOnline).Payload.(domain.PartnerOnlinePayload)
	assert.Equal(t, domain.Role("M"), notice.Role)
	assert.Equal(t, "Muskan", notice.Name)
	assert.Empty(t, m.OfType(domain.TypePartnerOnline), "the announcing role is not notified")
	assert.Empty(t, idle.OfType(domain.TypePartnerOnline), "unbound connections are not notified")

	// partnerOnline follows the full presence broadcast
	types := v.Types()
	assert.Equal(t, domain.TypePresenceUpdate, types[0])
	assert.Equal(t, domain.TypePartnerOnline, types[len(types)-1])
}

func TestCoordinator_DuplicateAnnounceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	v := h.connect("v1")
	h.announce("v1", "V")
	h.connect("m1")
	h.announce("m1", "M")
	v.Reset()

	h.announce("m1", "M")

	assert.Len(t, v.OfType(domain.TypePresenceUpdate), 1)
	assert.Empty(t, v.OfType(domain.TypePartnerOnline))
	assert.Empty(t, v.OfType(domain.TypeStatusChange))
}

func TestCoordinator_RoleStaysOnlineWhileAnyConnectionBound(t *testing.T) {
	h := newHarness(t)
	watcher := h.connect("w")
	h.connect("m1")
	h.connect("m2")
	h.announce("m1", "M")
	h.announce("m2", "M")
	watcher.Reset()

	h.c.Disconnect(context.Background(), "m1")
	assert.Equal(t, domain.StatusOnline, h.c.Snapshot().Presence["M"])
	assert.Empty(t, watcher.OfType(domain.TypeStatusChange))

	h.c.Disconnect(context.Background(), "m2")
	assert.Equal(t, domain.StatusOffline, h.c.Snapshot().Presence["M"])
	status := watcher.Last(domain.TypeStatusChange)
	require.NotNil(t, status)
	assert.Equal(t, domain.StatusChangePayload{Role: "M", Status: domain.StatusOffline}, status.Payload)
	assert.Equal(t, 2, h.metrics.closed)
}

func TestCoordinator_ReannounceDifferentRoleMovesBinding(t *testing.T) {
	h := newHarness(t)
	h.connect("a")
	h.announce("a", "M")
	h.mustSend("a", domain.TypeStartListening, map[string]string{"mediaItemId": "song-1"})

	h.announce("a", "V")

	snap := h.c.Snapshot()
	assert.Equal(t, domain.PresenceMap{"M": domain.StatusOffline, "V": domain.StatusOnline}, snap.Presence)
	assert.Empty(t, snap.NowPlaying, "M's entries purge once nothing is bound to M")
}

func TestCoordinator_AnnounceInactive(t *testing.T) {
	h := newHarness(t)
	watcher := h.connect("w")
	h.connect("m1")
	h.announce("m1", "M")
	h.mustSend("m1", domain.TypeStartListening, map[string]string{"mediaItemId": "song-1"})
	watcher.Reset()

	h.mustSend("m1", domain.TypeAnnounceInactive, map[string]string{"role": "V"})

	snap := h.c.Snapshot()
	assert.Equal(t, domain.StatusOffline, snap.Presence["M"], "inactive unbinds whatever role is held")
	assert.Empty(t, snap.NowPlaying)
	assert.NotNil(t, watcher.Last(domain.TypePresenceUpdate))
	assert.Equal(t, domain.NowPlaying{}, watcher.Last(domain.TypeNowPlaying).Payload)

	// already unbound: no-op
	watcher.Reset()
	h.mustSend("m1", domain.TypeAnnounceInactive, nil)
	assert.Empty(t, watcher.Types())
}

// Scenario: both listen to the same item, one drops off.
func TestCoordinator_NowPlaying(t *testing.T) {
	h := newHarness(t)
	m := h.connect("m1")
	h.connect("v1")
	h.announce("m1", "M")
	h.announce("v1", "V")
	m.Reset()

	h.mustSend("m1", domain.TypeStartListening, map[string]string{"mediaItemId": "song-1"})
	h.mustSend("v1", domain.TypeStartListening, "song-1")

	require.Len(t, m.OfType(domain.TypeNowPlaying), 2)
	assert.Equal(t, domain.NowPlaying{"song-1": {"M", "V"}}, m.Last(domain.TypeNowPlaying).Payload)

	// duplicate start: no broadcast
	h.mustSend("v1", domain.TypeStartListening, "song-1")
	assert.Len(t, m.OfType(domain.TypeNowPlaying), 2)

	h.c.Disconnect(context.Background(), "v1")
	assert.Equal(t, domain.NowPlaying{"song-1": {"M"}}, m.Last(domain.TypeNowPlaying).Payload)

	h.mustSend("m1", domain.TypeStopListening, map[string]string{"mediaItemId": "song-1"})
	assert.Equal(t, domain.NowPlaying{}, m.Last(domain.TypeNowPlaying).Payload)

	// stop for an item nobody plays: no broadcast
	before := len(m.OfType(domain.TypeNowPlaying))
	h.mustSend("m1", domain.TypeStopListening, "song-9")
	assert.Len(t, m.OfType(domain.TypeNowPlaying), before)

	h.recorder.AssertNumberOfCalls(t, "Record", 2)
	h.recorder.AssertCalled(t, "Record", ports.PlayRecord{MediaItemID: "song-1", Role: "V"})
}

func TestCoordinator_UnboundListeningIgnored(t *testing.T) {
	h := newHarness(t)
	out := h.connect("a")
	out.Reset()

	require.NoError(t, h.send("a", domain.TypeStartListening, "song-1"))

	assert.Empty(t, out.Types())
	assert.Empty(t, h.c.Snapshot().NowPlaying)
	h.recorder.AssertNumberOfCalls(t, "Record", 0)
}

func TestCoordinator_RoomPresence(t *testing.T) {
	h := newHarness(t)
	m := h.connect("m1")
	h.connect("v1")
	h.announce("m1", "M")
	h.announce("v1", "V")

	h.join("m1", "room")
	presence := m.Last(domain.TypeRoomPresence).Payload.(domain.RoomPresencePayload)
	assert.Equal(t, map[domain.Role]bool{"M": true, "V": false}, presence.Roles)

	h.join("v1", "room")
	presence = m.Last(domain.TypeRoomPresence).Payload.(domain.RoomPresencePayload)
	assert.Equal(t, map[domain.Role]bool{"M": true, "V": true}, presence.Roles)

	h.mustSend("v1", domain.TypeLeaveRoom, map[string]string{"roomId": "room"})
	left := m.Last(domain.TypeMemberLeft).Payload.(domain.MemberLeftPayload)
	assert.Equal(t, domain.MemberLeftPayload{RoomID: "room", ConnectionID: "v1", Role: "V"}, left)
	presence = m.Last(domain.TypeRoomPresence).Payload.(domain.RoomPresencePayload)
	assert.False(t, presence.Roles["V"])
}

// Scenario: playback control reaches the room minus the sender.
func TestCoordinator_PlaybackRelay(t *testing.T) {
	h := newHarness(t)
	m := h.connect("m1")
	v := h.connect("v1")
	outsider := h.connect("x")
	h.announce("m1", "M")
	h.announce("v1", "V")
	h.join("m1", "room")
	h.join("v1", "room")
	h.resetAll()

	h.mustSend("m1", domain.TypeLoad, map[string]string{"roomId": "room", "mediaItemId": "vid-1"})
	h.mustSend("m1", domain.TypePlay, map[string]interface{}{"roomId": "room", "position": 12.5})
	h.mustSend("m1", domain.TypeSeek, map[string]interface{}{"roomId": "room", "position": 30})
	h.mustSend("m1", domain.TypePause, map[string]interface{}{"roomId": "room", "position": 31})
	h.mustSend("m1", domain.TypeSetLoop, map[string]interface{}{"roomId": "room", "isLooping": true})

	assert.Equal(t, []domain.MessageType{
		domain.TypeLoad, domain.TypePlay, domain.TypeSeek, domain.TypePause, domain.TypeSetLoop,
	}, v.Types())
	assert.Empty(t, m.Types(), "sender does not get its own events")
	assert.Empty(t, outsider.Types())

	play := v.Last(domain.TypePlay).Payload.(domain.PlaybackEvent)
	assert.Equal(t, domain.ConnectionID("m1"), play.From)
	assert.Equal(t, domain.Role("M"), play.FromRole)
	require.NotNil(t, play.Position)
	assert.Equal(t, 12.5, *play.Position)

	load := v.Last(domain.TypeLoad).Payload.(domain.PlaybackEvent)
	assert.Equal(t, domain.MediaItemID("vid-1"), load.MediaItemID)

	loop := v.Last(domain.TypeSetLoop).Payload.(domain.PlaybackEvent)
	require.NotNil(t, loop.IsLooping)
	assert.True(t, *loop.IsLooping)
}

func TestCoordinator_RoomEventWithoutMembership(t *testing.T) {
	h := newHarness(t)
	m := h.connect("m1")
	v := h.connect("v1")
	h.join("v1", "room")
	h.resetAll()

	err := h.send("m1", domain.TypePlay, map[string]interface{}{"roomId": "room", "position": 1})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotInRoom, apperrors.CodeOf(err))
	assert.Equal(t, string(apperrors.ErrCodeNotInRoom), errorCode(t, m))
	assert.Empty(t, v.Types())

	err = h.send("m1", domain.TypeLeaveRoom, map[string]string{"roomId": "room"})
	assert.Equal(t, apperrors.ErrCodeNotInRoom, apperrors.CodeOf(err))
}

// Scenario: a late joiner asks for state and takes the first answer.
func TestCoordinator_ResyncFirstAnswerWins(t *testing.T) {
	h := newHarness(t)
	a := h.connect("a")
	b := h.connect("b")
	late := h.connect("late")
	for _, id := range []domain.ConnectionID{"a", "b", "late"} {
		h.join(id, "room")
	}
	h.resetAll()

	h.mustSend("late", domain.TypeRequestResync, map[string]string{"roomId": "room"})

	for _, out := range []*recordingOutbox{a, b} {
		req := out.Last(domain.TypeRequestResync)
		require.NotNil(t, req)
		assert.Equal(t, domain.ConnectionID("late"), req.Payload.(domain.ResyncRequestEvent).Requester)
	}
	assert.Empty(t, late.OfType(domain.TypeRequestResync))

	state := map[string]interface{}{"mediaItemId": "vid-1", "position": 42.0, "isPlaying": true, "isLooping": false}
	h.mustSend("a", domain.TypeProvideResync, map[string]interface{}{"roomId": "room", "targetConnection": "late", "state": state})
	h.mustSend("b", domain.TypeProvideResync, map[string]interface{}{"roomId": "room", "targetConnection": "late", "state": state})

	answers := late.OfType(domain.TypeProvideResync)
	require.Len(t, answers, 1)
	answer := answers[0].Payload.(domain.ResyncAnswerEvent)
	assert.Equal(t, domain.ConnectionID("a"), answer.From)
	assert.Equal(t, domain.PlaybackState{MediaItemID: "vid-1", Position: 42, IsPlaying: true}, answer.State)
	assert.Empty(t, b.OfType(domain.TypeProvideResync), "answers are unicast")
	assert.Equal(t, 1, h.metrics.resyncDropped)
}

func TestCoordinator_ResyncPendingClearedOnLeave(t *testing.T) {
	h := newHarness(t)
	h.connect("a")
	late := h.connect("late")
	h.join("a", "room")
	h.join("late", "room")

	h.mustSend("late", domain.TypeRequestResync, map[string]string{"roomId": "room"})
	h.mustSend("late", domain.TypeLeaveRoom, map[string]string{"roomId": "room"})
	h.join("late", "room")
	late.Reset()

	state := map[string]interface{}{"mediaItemId": "vid-1", "position": 1.0}
	h.mustSend("a", domain.TypeProvideResync, map[string]interface{}{"roomId": "room", "targetConnection": "late", "state": state})

	assert.Empty(t, late.OfType(domain.TypeProvideResync))
}

// Scenario: screen-share negotiation does not leak into the call channel.
func TestCoordinator_SignalChannelIsolation(t *testing.T) {
	h := newHarness(t)
	h.connect("a")
	share := h.connect("share")
	call := h.connect("call")
	h.join("a", "room")
	h.join("share", "room", domain.ChannelScreenShare)
	h.join("call", "room", domain.ChannelCall)
	h.resetAll()

	offer := json.RawMessage(`{"sdp":"v=0","type":"offer"}`)
	h.mustSend("a", domain.TypeSignal, map[string]interface{}{
		"roomId": "room", "channel": "screen-share", "kind": "offer", "payload": offer,
	})

	require.Len(t, share.OfType(domain.TypeSignal), 1)
	ev := share.Last(domain.TypeSignal).Payload.(domain.SignalEvent)
	assert.Equal(t, domain.ChannelScreenShare, ev.Channel)
	assert.Equal(t, domain.SignalOffer, ev.Kind)
	assert.JSONEq(t, string(offer), string(ev.Payload))
	assert.Equal(t, domain.ConnectionID("a"), ev.From)
	assert.Empty(t, call.OfType(domain.TypeSignal))
}

func TestCoordinator_SignalTargeted(t *testing.T) {
	h := newHarness(t)
	h.connect("a")
	b := h.connect("b")
	c := h.connect("c")
	for _, id := range []domain.ConnectionID{"a", "b", "c"} {
		h.join(id, "room")
	}
	h.resetAll()

	h.mustSend("a", domain.TypeSignal, map[string]interface{}{
		"roomId": "room", "channel": "call", "kind": "candidate",
		"payload": map[string]string{"candidate": "udp 1"}, "target": "c",
	})
	assert.Empty(t, b.Types())
	assert.Len(t, c.OfType(domain.TypeSignal), 1)

	// stop carries no payload
	h.mustSend("a", domain.TypeSignal, map[string]interface{}{"roomId": "room", "channel": "call", "kind": "stop"})
	assert.Len(t, b.OfType(domain.TypeSignal), 1)

	// opaque payloads must still be present for negotiation kinds
	err := h.send("a", domain.TypeSignal, map[string]interface{}{"roomId": "room", "channel": "call", "kind": "offer"})
	assert.Equal(t, apperrors.ErrCodeInvalidPayload, apperrors.CodeOf(err))
}

// Scenario: a dropped peer is announced to the rest of the room.
func TestCoordinator_DisconnectCleansRooms(t *testing.T) {
	h := newHarness(t)
	h.connect("m1")
	v := h.connect("v1")
	h.announce("m1", "M")
	h.announce("v1", "V")
	h.join("m1", "room")
	h.join("v1", "room")
	h.join("m1", "other")
	v.Reset()

	h.c.Disconnect(context.Background(), "m1")

	left := v.Last(domain.TypeMemberLeft)
	require.NotNil(t, left)
	assert.Equal(t, domain.MemberLeftPayload{RoomID: "room", ConnectionID: "m1", Role: "M"}, left.Payload)
	assert.Equal(t, 1, h.c.Snapshot().Rooms, "the emptied room is collected")

	// disconnecting twice is a no-op
	h.c.Disconnect(context.Background(), "m1")
	assert.Equal(t, 1, h.metrics.closed)
}

func TestCoordinator_FocusAndConference(t *testing.T) {
	h := newHarness(t)
	h.connect("m1")
	v := h.connect("v1")
	h.announce("m1", "M")
	h.join("m1", "room")
	h.join("v1", "room")
	v.Reset()

	h.mustSend("m1", domain.TypeFocusChanged, map[string]interface{}{"roomId": "room", "away": true})
	focus := v.Last(domain.TypeFocusChanged).Payload.(domain.FocusEvent)
	assert.True(t, focus.Away)
	assert.Equal(t, domain.Role("M"), focus.FromRole)

	h.mustSend("m1", domain.TypeConference, map[string]interface{}{
		"roomId": "room", "kind": "request", "payload": map[string]string{"roomName": "tandem-1"},
	})
	conf := v.Last(domain.TypeConference).Payload.(domain.ConferenceEvent)
	assert.Equal(t, domain.ConferenceRequest, conf.Kind)
	assert.JSONEq(t, `{"roomName":"tandem-1"}`, string(conf.Payload))

	err := h.send("m1", domain.TypeConference, map[string]interface{}{"roomId": "room", "kind": "ring"})
	assert.Equal(t, apperrors.ErrCodeInvalidPayload, apperrors.CodeOf(err))
}

func TestCoordinator_RoleRequest(t *testing.T) {
	h := newHarness(t)
	v := h.connect("v1")
	m1 := h.connect("m1")
	m2 := h.connect("m2")
	h.announce("v1", "V")
	h.announce("m1", "M")
	h.announce("m2", "M")
	h.resetAll()

	h.mustSend("v1", domain.TypeRoleRequest, map[string]interface{}{"targetRole": "M", "topic": "location"})

	for _, out := range []*recordingOutbox{m1, m2} {
		req := out.Last(domain.TypeRoleRequest)
		require.NotNil(t, req)
		ev := req.Payload.(domain.RoleRequestEvent)
		assert.Equal(t, "location", ev.Topic)
		assert.Equal(t, domain.Role("V"), ev.FromRole)
	}
	assert.Empty(t, v.Types())

	err := h.send("v1", domain.TypeRoleRequest, map[string]interface{}{"targetRole": "Q", "topic": "location"})
	assert.Equal(t, apperrors.ErrCodeUnknownRole, apperrors.CodeOf(err))
}

func TestCoordinator_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		frame   string
		code    apperrors.ErrorCode
		msgType domain.MessageType
	}{
		{"malformed json", `{"type":`, apperrors.ErrCodeInvalidPayload, ""},
		{"missing type", `{"payload":{}}`, apperrors.ErrCodeInvalidPayload, ""},
		{"unknown type", `{"type":"teleport"}`, apperrors.ErrCodeUnknownEvent, "teleport"},
		{"server-only type", `{"type":"presenceUpdate","payload":{}}`, apperrors.ErrCodeUnknownEvent, domain.TypePresenceUpdate},
		{"unknown role", `{"type":"announceActive","payload":{"role":"X"}}`, apperrors.ErrCodeUnknownRole, domain.TypeAnnounceActive},
		{"missing role", `{"type":"announceActive","payload":{}}`, apperrors.ErrCodeInvalidPayload, domain.TypeAnnounceActive},
		{"missing payload", `{"type":"joinRoom"}`, apperrors.ErrCodeInvalidPayload, domain.TypeJoinRoom},
		{"bad channel", `{"type":"joinRoom","payload":{"roomId":"r","channels":["radio"]}}`, apperrors.ErrCodeInvalidPayload, domain.TypeJoinRoom},
		{"wrong field type", `{"type":"startListening","payload":{"mediaItemId":7}}`, apperrors.ErrCodeInvalidPayload, domain.TypeStartListening},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			out := h.connect("a")
			out.Reset()

			err := h.c.HandleMessage(context.Background(), "a", []byte(tc.frame))
			require.Error(t, err)
			assert.Equal(t, tc.code, apperrors.CodeOf(err))

			require.Equal(t, []domain.MessageType{domain.TypeError}, out.Types())
			payload := out.msgs[0].Payload.(domain.ErrorPayload)
			assert.Equal(t, string(tc.code), payload.Code)
			assert.Equal(t, tc.msgType, payload.Type)
			assert.Equal(t, 1, h.metrics.rejected[string(tc.code)])

			// the connection remains usable
			h.announce("a", "M")
			assert.Equal(t, domain.StatusOnline, h.c.Snapshot().Presence["M"])
		})
	}
}

func TestCoordinator_InvalidPositionMutatesNothing(t *testing.T) {
	h := newHarness(t)
	h.connect("a")
	b := h.connect("b")
	h.join("a", "room")
	h.join("b", "room")
	b.Reset()

	for _, payload := range []map[string]interface{}{
		{"roomId": "room"},
		{"roomId": "room", "position": -3},
	} {
		err := h.send("a", domain.TypeSeek, payload)
		assert.Equal(t, apperrors.ErrCodeInvalidPayload, apperrors.CodeOf(err))
	}
	assert.Empty(t, b.Types())
}

func TestCoordinator_IdentityPinsRole(t *testing.T) {
	h := newHarness(t)
	h.connectAs("a", &domain.Identity{Subject: "vinay", Role: "V"})

	err := h.send("a", domain.TypeAnnounceActive, map[string]string{"role": "M"})
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.CodeOf(err))
	assert.Equal(t, domain.StatusOffline, h.c.Snapshot().Presence["M"])

	h.announce("a", "V")
	assert.Equal(t, domain.StatusOnline, h.c.Snapshot().Presence["V"])
}

func TestCoordinator_UnknownConnectionIsNoOp(t *testing.T) {
	h := newHarness(t)
	watcher := h.connect("w")
	watcher.Reset()

	assert.NoError(t, h.c.HandleMessage(context.Background(), "ghost", []byte(`{"type":"announceActive","payload":{"role":"M"}}`)))
	h.c.Disconnect(context.Background(), "ghost")

	assert.Empty(t, watcher.Types())
	assert.Equal(t, domain.StatusOffline, h.c.Snapshot().Presence["M"])
}

func TestCoordinator_DroppedSendsAreCounted(t *testing.T) {
	h := newHarness(t)
	slow := h.connect("slow")
	h.connect("m1")
	slow.full = true

	h.announce("m1", "M")

	assert.Positive(t, h.metrics.dropped)
	assert.Equal(t, domain.StatusOnline, h.c.Snapshot().Presence["M"], "state advances regardless of slow consumers")
}
