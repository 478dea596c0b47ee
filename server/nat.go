package server

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pshare/models"
	"pshare/store"
)

// NATClassifier probes a peer's announced transfer port to decide
// whether the data plane can dial it directly. Unreachability is an
// expected outcome, not an error: it maps to the behind-NAT
// classification and is never surfaced to the request that triggered
// the probe.
type NATClassifier struct {
	sessions store.SessionStore
	timeout  time.Duration
	log      *logrus.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewNATClassifier(sessions store.SessionStore, timeout time.Duration, log *logrus.Logger) *NATClassifier {
	return &NATClassifier{
		sessions: sessions,
		timeout:  timeout,
		log:      log,
		inflight: make(map[string]struct{}),
	}
}

// Probe classifies (host, port) and writes the result to the session's
// natStatus. A zero or missing port leaves the prior classification
// untouched. At most one probe per session runs at a time; a trigger
// arriving while one is in flight is dropped.
func (n *NATClassifier) Probe(host string, port int, sessionID string) {
	if port <= 0 {
		return
	}

	n.mu.Lock()
	if _, busy := n.inflight[sessionID]; busy {
		n.mu.Unlock()
		return
	}
	n.inflight[sessionID] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.inflight, sessionID)
		n.mu.Unlock()
	}()

	status := models.NATBehind
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), n.timeout)
	if err == nil {
		conn.Close()
		status = models.NATOpen
	}

	if err := n.sessions.UpdateNATStatus(sessionID, status); err != nil {
		// Session may have been retired while the probe was in flight.
		n.log.WithError(err).WithField("sessionId", sessionID).Debug("discarding probe result")
		return
	}

	n.log.WithFields(logrus.Fields{
		"sessionId": sessionID,
		"host":      host,
		"port":      port,
		"natStatus": status,
	}).Debug("reachability classified")
}
