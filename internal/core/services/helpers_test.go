package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingOutbox struct {
	mu   sync.Mutex
	msgs []*domain.Message
	full bool
}

func (o *recordingOutbox) Deliver(msg *domain.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.full {
		return false
	}
	o.msgs = append(o.msgs, msg)
	return true
}

func (o *recordingOutbox) Types() []domain.MessageType {
	o.mu.Lock()
	defer o.mu.Unlock()
	types := make([]domain.MessageType, len(o.msgs))
	for i, m := range o.msgs {
		types[i] = m.Type
	}
	return types
}

func (o *recordingOutbox) OfType(t domain.MessageType) []*domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*domain.Message
	for _, m := range o.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (o *recordingOutbox) Last(t domain.MessageType) *domain.Message {
	msgs := o.OfType(t)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (o *recordingOutbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = nil
}

type MockPlayRecorder struct {
	mock.Mock
}

func (m *MockPlayRecorder) Record(record ports.PlayRecord) {
	m.Called(record)
}

type countingMetrics struct {
	NopMetrics
	dropped        int
	resyncDropped  int
	rejected       map[string]int
	opened, closed int
}

func (m *countingMetrics) MessageDropped()      { m.dropped++ }
func (m *countingMetrics) ResyncAnswerDropped() { m.resyncDropped++ }
func (m *countingMetrics) ConnectionOpened()    { m.opened++ }
func (m *countingMetrics) ConnectionClosed()    { m.closed++ }
func (m *countingMetrics) MessageRejected(_ domain.MessageType, code string) {
	if m.rejected == nil {
		m.rejected = make(map[string]int)
	}
	m.rejected[code]++
}

func testRoster(t *testing.T) *domain.Roster {
	t.Helper()
	roster, err := domain.NewRoster(
		domain.Participant{Role: "M", DisplayName: "Muskan"},
		domain.Participant{Role: "V", DisplayName: "Vinay"},
	)
	require.NoError(t, err)
	return roster
}

type harness struct {
	t        *testing.T
	c        *Coordinator
	recorder *MockPlayRecorder
	metrics  *countingMetrics
	outboxes map[domain.ConnectionID]*recordingOutbox
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	recorder := &MockPlayRecorder{}
	recorder.On("Record", mock.Anything).Return().Maybe()
	metrics := &countingMetrics{}

	return &harness{
		t: t,
		c: NewCoordinator(CoordinatorDeps{
			Roster:   testRoster(t),
			Recorder: recorder,
			Metrics:  metrics,
			Logger:   zaptest.NewLogger(t).Sugar(),
		}),
		recorder: recorder,
		metrics:  metrics,
		outboxes: make(map[domain.ConnectionID]*recordingOutbox),
	}
}

func (h *harness) connect(id domain.ConnectionID) *recordingOutbox {
	return h.connectAs(id, nil)
}

func (h *harness) connectAs(id domain.ConnectionID, identity *domain.Identity) *recordingOutbox {
	out := &recordingOutbox{}
	h.outboxes[id] = out
	h.c.Connect(context.Background(), id, out, identity)
	return out
}

func (h *harness) send(id domain.ConnectionID, msgType domain.MessageType, payload interface{}) error {
	h.t.Helper()
	frame := map[string]interface{}{"type": msgType}
	if payload != nil {
		frame["payload"] = payload
	}
	data, err := json.Marshal(frame)
	require.NoError(h.t, err)
	return h.c.HandleMessage(context.Background(), id, data)
}

func (h *harness) mustSend(id domain.ConnectionID, msgType domain.MessageType, payload interface{}) {
	h.t.Helper()
	require.NoError(h.t, h.send(id, msgType, payload))
}

func (h *harness) announce(id domain.ConnectionID, role domain.Role) {
	h.t.Helper()
	h.mustSend(id, domain.TypeAnnounceActive, map[string]string{"role": string(role)})
}

func (h *harness) join(id domain.ConnectionID, room domain.RoomID, channels ...domain.SignalChannel) {
	h.t.Helper()
	payload := map[string]interface{}{"roomId": room}
	if len(channels) > 0 {
		payload["channels"] = channels
	}
	h.mustSend(id, domain.TypeJoinRoom, payload)
}

func (h *harness) resetAll() {
	for _, out := range h.outboxes {
		out.Reset()
	}
}

func floatPtr(f float64) *float64 { return &f }
