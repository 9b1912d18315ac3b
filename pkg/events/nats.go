// ABOUTME: NATS connection helper for the diagnostics sink
// ABOUTME: Lets the client retry the initial connect and gives up once the attempt budget is spent
package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// DialNATS connects to url. The client keeps retrying a failed initial
// connect every wait; DialNATS gives up after attempts*wait. Once connected
// it reconnects without limit.
func DialNATS(url, name string, attempts int, wait time.Duration, log *logrus.Entry) (*nats.Conn, error) {
	if attempts < 1 {
		attempts = 1
	}

	connected := make(chan struct{}, 1)
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.ConnectHandler(func(*nats.Conn) {
			select {
			case connected <- struct{}{}:
			default:
			}
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("address", nc.ConnectedAddr()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if !nc.IsConnected() {
		timer := time.NewTimer(time.Duration(attempts) * wait)
		defer timer.Stop()
		select {
		case <-connected:
		case <-timer.C:
			last := nc.LastError()
			nc.Close()
			if last == nil {
				last = nats.ErrNoServers
			}
			return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, last)
		}
	}

	log.WithFields(logrus.Fields{
		"version": nc.ConnectedServerVersion(),
		"address": nc.ConnectedAddr(),
	}).Info("Connected to NATS")
	return nc, nil
}
