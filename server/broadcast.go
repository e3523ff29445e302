package server

// The broadcast worker is the hub's single writer to every connection's
// outbound channel. register/unregister (handled on the Run() goroutine)
// only ever touch the registry maps; every byte sent to a *Connection
// flows through here, so there is exactly one goroutine ever calling
// conn.send <- which makes a send-on-closed-channel panic impossible.

// runBroadcastWorker drains frameReq until the gateway's context is
// cancelled, then returns once the channel is closed by shutdown.
func (s *Gateway) runBroadcastWorker() {
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("broadcast worker stopping: context cancelled")
			return
		case req, ok := <-s.frameReq:
			if !ok {
				return
			}
			s.handleBroadcastRequest(req)
		}
	}
}

func (s *Gateway) handleBroadcastRequest(req *broadcastRequest) {
	switch req.reqType {
	case reqSend:
		s.deliverFrame(req.conn, req.payload)
	case reqFanout:
		s.fanoutFrame(req.payload)
	case reqClose:
		req.conn.close()
	}
}

// deliverFrame attempts a non-blocking send to one connection, evicting
// it if its outbound queue is full rather than blocking the worker on a
// slow or dead peer.
func (s *Gateway) deliverFrame(conn *Connection, payload []byte) {
	if conn == nil || conn.closed {
		return
	}
	select {
	case conn.send <- payload:
	default:
		s.removeSlowConnection(conn)
	}
}

// fanoutFrame delivers payload to every currently registered ModeClient
// connection (used for config-change notifications and cron/async-exec
// progress events that aren't addressed to one connId).
func (s *Gateway) fanoutFrame(payload []byte) {
	s.mu.RLock()
	targets := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		if c.Mode == ModeClient {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		s.deliverFrame(c, payload)
	}
}

// SendFrame queues payload for delivery to one connection. Safe to call
// from any goroutine; the actual channel send happens on the broadcast
// worker.
func (s *Gateway) SendFrame(conn *Connection, payload []byte) {
	select {
	case s.frameReq <- &broadcastRequest{reqType: reqSend, conn: conn, payload: payload}:
	case <-s.ctx.Done():
	}
}

// Fanout queues payload for delivery to every connected client.
func (s *Gateway) Fanout(payload []byte) {
	select {
	case s.frameReq <- &broadcastRequest{reqType: reqFanout, payload: payload}:
	case <-s.ctx.Done():
	}
}
