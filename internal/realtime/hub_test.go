package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"flowsight/internal/metrics"
	"flowsight/pkg/logging"
)

func newTestHub() *Hub {
	return NewHub(logging.NewNopLogger(), &metrics.Metrics{
		RealtimeClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "realtime_clients"}, nil),
	})
}

func TestShouldReceiveRequiresSubscription(t *testing.T) {
	msg := Message{Channel: ChannelReports, TenantID: "tenant-1"}

	assert.True(t, shouldReceive([]string{ChannelReports}, "tenant-1", msg))
	assert.False(t, shouldReceive([]string{ChannelSystem}, "tenant-1", msg))
	assert.False(t, shouldReceive(nil, "tenant-1", msg))
}

func TestShouldReceiveEnforcesTenantIsolation(t *testing.T) {
	msg := Message{Channel: ChannelReports, TenantID: "tenant-1"}

	assert.True(t, shouldReceive([]string{ChannelReports}, "tenant-1", msg))
	assert.False(t, shouldReceive([]string{ChannelReports}, "tenant-2", msg))
	assert.False(t, shouldReceive([]string{ChannelReports}, "", msg))
}

func TestUntenantedMessagesOnlyOnSystemChannel(t *testing.T) {
	system := Message{Channel: ChannelSystem}
	reports := Message{Channel: ChannelReports}

	assert.True(t, shouldReceive([]string{ChannelSystem}, "tenant-1", system))
	assert.False(t, shouldReceive([]string{ChannelReports}, "tenant-1", reports))
}

func TestClientGaugeTracksConnections(t *testing.T) {
	hub := newTestHub()
	gauge := hub.metrics.RealtimeClients.WithLabelValues()

	first := &Client{hub: hub, send: make(chan []byte, 1), tenantID: "tenant-1", logger: hub.logger}
	second := &Client{hub: hub, send: make(chan []byte, 1), tenantID: "tenant-2", logger: hub.logger}

	hub.addClient(first)
	hub.addClient(second)
	assert.Equal(t, float64(2), testutil.ToFloat64(gauge))

	hub.removeClient(first)
	assert.Equal(t, float64(1), testutil.ToFloat64(gauge))

	hub.removeClient(second)
	assert.Equal(t, float64(0), testutil.ToFloat64(gauge))
}

func TestSubscriptionChangesDuringBroadcast(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		hub:      hub,
		send:     make(chan []byte, 256),
		channels: []string{ChannelReports},
		tenantID: "tenant-1",
		logger:   hub.logger,
	}
	hub.addClient(client)

	msg := Message{Type: "report_status", Channel: ChannelReports, TenantID: "tenant-1"}

	// Flip subscriptions from one goroutine while broadcasts fan out from
	// another; both touch the client's channel list
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			client.handleSubscription(&SubscriptionMessage{Action: "unsubscribe", Channels: []string{ChannelReports}})
			client.handleSubscription(&SubscriptionMessage{Action: "subscribe", Channels: []string{ChannelReports}})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hub.fanOut(msg)
			// Drain so the buffered send channel never blocks deliveries
			for len(client.send) > 0 {
				<-client.send
			}
		}
	}()
	wg.Wait()

	assert.True(t, client.receives(msg), fmt.Sprintf("client lost its subscription: %v", client.channels))
}
