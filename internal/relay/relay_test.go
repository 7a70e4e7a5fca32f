package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/hub"
	"github.com/kozaktomas/face-attendance/internal/timezone"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	frames [][]byte
}

func (b *recordingBroadcaster) Broadcast(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

type recordingPublisher struct {
	ids []int64
}

func (p *recordingPublisher) Publish(d *database.Decision) { p.ids = append(p.ids, d.ID) }

func decision(id int64) *database.Decision {
	return &database.Decision{ID: id, Outcome: database.OutcomeRejected, Timestamp: timezone.Now()}
}

func TestPublish_QueuesEnvelope(t *testing.T) {
	r := New(nil, "", &recordingBroadcaster{})
	assert.Equal(t, DefaultChannel, r.channel)

	r.Publish(decision(7))
	require.Len(t, r.outbox, 1)

	var env envelope
	require.NoError(t, json.Unmarshal(<-r.outbox, &env))
	assert.Equal(t, r.Instance(), env.Origin)

	var msg hub.Message
	require.NoError(t, json.Unmarshal(env.Frame, &msg))
	assert.Equal(t, hub.TypeAttendance, msg.Type)
}

func TestPublish_DropsWhenOutboxFull(t *testing.T) {
	r := New(nil, "", &recordingBroadcaster{})
	for i := range outboxSize + 10 {
		r.Publish(decision(int64(i + 1)))
	}
	assert.Len(t, r.outbox, outboxSize)
}

func TestHandle(t *testing.T) {
	local := &recordingBroadcaster{}
	r := New(nil, "", local)
	frame := hub.EncodeDecision(decision(3))

	own, err := json.Marshal(envelope{Origin: r.Instance(), Frame: frame})
	require.NoError(t, err)
	r.handle(string(own))
	assert.Zero(t, local.count(), "own frames must not be replayed")

	remote, err := json.Marshal(envelope{Origin: "other-instance", Frame: frame})
	require.NoError(t, err)
	r.handle(string(remote))
	require.Equal(t, 1, local.count())
	assert.JSONEq(t, string(frame), string(local.frames[0]))

	r.handle("{not json")
	assert.Equal(t, 1, local.count())
}

func TestHandle_BroadcastsInArrivalOrder(t *testing.T) {
	local := &recordingBroadcaster{}
	r := New(nil, "", local)

	receive := func(origin string, id int64) {
		payload, err := json.Marshal(envelope{Origin: origin, Frame: hub.EncodeDecision(decision(id))})
		require.NoError(t, err)
		r.handle(string(payload))
	}
	receive("instance-a", 1)
	receive("instance-a", 3)
	receive("instance-b", 2)
	receive("instance-a", 4)

	var ids []int64
	for _, frame := range local.frames {
		var msg hub.Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		ids = append(ids, int64(msg.Data.(map[string]any)["id"].(float64)))
	}
	// Per origin the order holds; across origins frames are not reordered by id.
	assert.Equal(t, []int64{1, 3, 2, 4}, ids)
}

func TestFanout(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	Fanout{a, b}.Publish(decision(1))
	Fanout{a, b}.Publish(decision(2))

	assert.Equal(t, []int64{1, 2}, a.ids)
	assert.Equal(t, []int64{1, 2}, b.ids)
}
