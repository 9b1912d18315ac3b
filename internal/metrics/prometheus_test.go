// ABOUTME: Tests that connection and source events move the right metrics
// ABOUTME: Uses prometheus testutil against a private registry
package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/speechlink/speechlink-go/pkg/audiosource"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

func TestConnectionEvents(t *testing.T) {
	m := New(nil)
	start := time.Now()

	m.Publish("transport", transport.Event{Kind: transport.EventConnected, ConnectionID: "c1", Time: start})
	m.Publish("transport", transport.Event{Kind: transport.EventMessageSent, ConnectionID: "c1", Path: "audio", Bytes: 3200})
	m.Publish("transport", transport.Event{Kind: transport.EventMessageSent, ConnectionID: "c1", Path: "audio", Bytes: 3200})
	m.Publish("transport", transport.Event{Kind: transport.EventMessageReceived, ConnectionID: "c1", Path: "audio.ack", Bytes: 0})
	m.Publish("transport", transport.Event{Kind: transport.EventSendFailed, ConnectionID: "c1"})
	m.Publish("transport", transport.Event{Kind: transport.EventConnectFailed, ConnectionID: "c2", StatusCode: 403})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("audio")))
	assert.Equal(t, 6400.0, testutil.ToFloat64(m.BytesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("audio.ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsFailed.WithLabelValues("403")))

	m.Publish("transport", transport.Event{Kind: transport.EventDisconnected, ConnectionID: "c1", Time: start.Add(2 * time.Second)})
	// A second disconnect for the same id does not double count
	m.Publish("transport", transport.Event{Kind: transport.EventDisconnected, ConnectionID: "c1", Time: start.Add(3 * time.Second)})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ConnectionDuration))
}

func TestSourceEvents(t *testing.T) {
	m := New(nil)

	m.Publish("audio.source", audiosource.Event{Kind: audiosource.EventReady})
	m.Publish("audio.source", audiosource.Event{Kind: audiosource.EventNodeAttached, NodeID: "n1"})
	m.Publish("audio.source", audiosource.Event{Kind: audiosource.EventNodeAttached, NodeID: "n2"})
	m.Publish("audio.source", audiosource.Event{Kind: audiosource.EventNodeDetached, NodeID: "n1"})
	m.Publish("other", "ignored")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodesAttached))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SourceEvents.WithLabelValues("node-attached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceEvents.WithLabelValues("ready")))
}

func TestRecordersAndHandler(t *testing.T) {
	m := New(nil)
	m.RecordReplay(4000)
	m.SetRetained(12000)
	m.SessionStarted()
	m.RecordAudio(3200)
	m.RecordAck()

	assert.Equal(t, 4000.0, testutil.ToFloat64(m.ReplayedBytes))
	assert.Equal(t, 12000.0, testutil.ToFloat64(m.RetainedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "speechlink_ingest_acks_total 1")
}
