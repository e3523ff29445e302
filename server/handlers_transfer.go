package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/meshgate/gateway/am"
)

// transferIDCounter hands out the numeric transferId binary chunk frames
// carry on the wire; Transfer.ID itself stores it as a string so it can
// share the gateway's usual string-keyed map pattern.
var transferIDCounter atomic.Uint32

func newTransferID() (numeric uint32, key string) {
	numeric = transferIDCounter.Add(1)
	return numeric, strconv.FormatUint(uint64(numeric), 10)
}

func transferTimeouts() (metaWait, acceptWait time.Duration) {
	metaWait = time.Duration(am.GetInt("transfer.meta_wait_timeout_seconds")) * time.Second
	if metaWait <= 0 {
		metaWait = 30 * time.Second
	}
	acceptWait = time.Duration(am.GetInt("transfer.accept_wait_timeout_seconds")) * time.Second
	if acceptWait <= 0 {
		acceptWait = 30 * time.Second
	}
	return
}

type transferRequestParams struct {
	CallID      string           `json:"callId"`
	SessionKey  string           `json:"sessionKey"`
	Source      TransferEndpoint `json:"source"`
	Destination TransferEndpoint `json:"destination"`
}

// handleTransferRequest begins the binary transfer state machine (spec
// §4.8): it's triggered by a tool call naming a source and destination
// {node,path}, allocates the transferId frames will carry, and asks the
// source to report its transfer.meta. Gsv-to-gsv transfers are rejected
// at request time — there's nothing for the gateway to relay between
// itself and itself.
func handleTransferRequest(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p transferRequestParams
	if err := json.Unmarshal(params, &p); err != nil || p.CallID == "" || p.Source.Node == "" || p.Destination.Node == "" {
		return nil, ErrInvalidRequest
	}
	if p.Source.Node == "gsv" && p.Destination.Node == "gsv" {
		return nil, NewGatewayError(CodeBadParams, "gsv-to-gsv transfers are not supported")
	}

	numeric, key := newTransferID()
	now := time.Now()
	transfer := &Transfer{
		ID:          key,
		CallID:      p.CallID,
		SessionKey:  p.SessionKey,
		Source:      p.Source,
		Destination: p.Destination,
		State:       TransferMetaWait,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.transfers[key] = transfer
	s.mu.Unlock()

	if p.Source.Node == "gsv" {
		data, err := s.blobStore.Get(p.Source.Path)
		if err != nil {
			s.failTransfer(transfer, "source blob not found: "+err.Error())
			return nil, NewGatewayError(CodeNotFound, "source blob not found: "+p.Source.Path)
		}
		s.onTransferMeta(transfer, int64(len(data)), mimeFromPath(p.Source.Path))
		return map[string]interface{}{"transferId": numeric, "state": string(transfer.State)}, nil
	}

	sourceConn, ok := s.findNodeConn(p.Source.Node)
	if !ok {
		s.failTransfer(transfer, "source not connected")
		return nil, NewGatewayError(CodeDownstreamOffline, "source not connected: "+p.Source.Node)
	}
	s.writeEvt(sourceConn, "transfer.send", map[string]interface{}{
		"transferId": numeric,
		"path":       p.Source.Path,
	})

	metaWait, _ := transferTimeouts()
	s.scheduleTransferExpiry(key, TransferMetaWait, metaWait)

	return map[string]interface{}{"transferId": numeric, "state": string(transfer.State)}, nil
}

type transferMetaParams struct {
	TransferID string `json:"transferId"`
	Size       int64  `json:"size"`
	Mime       string `json:"mime,omitempty"`
}

// handleTransferMeta is the source's reply to transfer.send with its
// declared size/mime; the gateway forwards transfer.receive to the
// destination and moves to accept-wait.
func handleTransferMeta(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p transferMetaParams
	if err := json.Unmarshal(params, &p); err != nil || p.TransferID == "" {
		return nil, ErrInvalidRequest
	}
	s.mu.RLock()
	transfer, ok := s.transfers[p.TransferID]
	s.mu.RUnlock()
	if !ok {
		return nil, NewGatewayError(CodeNotFound, "unknown transferId")
	}
	if transfer.State != TransferMetaWait {
		return nil, NewGatewayError(CodeConflict, "transfer is not awaiting meta")
	}
	s.onTransferMeta(transfer, p.Size, p.Mime)
	return map[string]interface{}{"ok": true, "state": string(transfer.State)}, nil
}

// onTransferMeta records size/mime and forwards transfer.receive to the
// destination, or — if the gateway itself is the destination — self
// accepts immediately since there's no remote peer to ask.
func (s *Gateway) onTransferMeta(t *Transfer, size int64, mime string) {
	s.mu.Lock()
	t.Size = size
	t.Mime = mime
	t.State = TransferAcceptWait
	t.UpdatedAt = time.Now()
	s.mu.Unlock()

	if t.Destination.Node == "gsv" {
		s.onTransferAccept(t, true, "")
		return
	}

	destConn, ok := s.findNodeConn(t.Destination.Node)
	if !ok {
		s.failTransfer(t, "destination not connected")
		return
	}
	s.writeEvt(destConn, "transfer.receive", map[string]interface{}{
		"transferId": t.ID,
		"path":       t.Destination.Path,
		"size":       size,
		"mime":       mime,
	})
	_, acceptWait := transferTimeouts()
	s.scheduleTransferExpiry(t.ID, TransferAcceptWait, acceptWait)
}

type transferAcceptParams struct {
	TransferID string `json:"transferId"`
	Accept     bool   `json:"accept"`
	Reason     string `json:"reason,omitempty"`
}

// handleTransferAccept is the destination's response to transfer.receive.
// Rejecting, or a timeout before this arrives, fails the transfer rather
// than leaving it to linger.
func handleTransferAccept(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p transferAcceptParams
	if err := json.Unmarshal(params, &p); err != nil || p.TransferID == "" {
		return nil, ErrInvalidRequest
	}
	s.mu.RLock()
	transfer, ok := s.transfers[p.TransferID]
	s.mu.RUnlock()
	if !ok {
		return nil, NewGatewayError(CodeNotFound, "unknown transferId")
	}
	if transfer.State != TransferAcceptWait {
		return nil, NewGatewayError(CodeConflict, "transfer is not awaiting accept")
	}
	s.onTransferAccept(transfer, p.Accept, p.Reason)
	return map[string]interface{}{"ok": true, "state": string(transfer.State)}, nil
}

// onTransferAccept moves the transfer into streaming by telling the
// source to start sending (transfer.start), or fails it on reject.
func (s *Gateway) onTransferAccept(t *Transfer, accept bool, reason string) {
	if !accept {
		if reason == "" {
			reason = "destination rejected transfer"
		}
		s.failTransfer(t, reason)
		return
	}

	s.mu.Lock()
	t.State = TransferStreaming
	t.UpdatedAt = time.Now()
	s.mu.Unlock()

	if t.Source.Node == "gsv" {
		go s.streamGSVSource(t)
		return
	}
	sourceConn, ok := s.findNodeConn(t.Source.Node)
	if !ok {
		s.failTransfer(t, "source not connected")
		return
	}
	s.writeEvt(sourceConn, "transfer.start", map[string]interface{}{"transferId": t.ID})
}

// streamGSVSource pushes a gsv-hosted blob to the destination in fixed
// chunks, then drives the same transfer.complete/transfer.end handoff a
// real node source would trigger itself via RPC.
func (s *Gateway) streamGSVSource(t *Transfer) {
	data, err := s.blobStore.Get(t.Source.Path)
	if err != nil {
		s.failTransfer(t, "source blob not found: "+err.Error())
		return
	}
	chunkSize := am.GetInt("transfer.chunk_size_bytes")
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	numeric, _ := strconv.ParseUint(t.ID, 10, 32)
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		s.handleTransferBytes(nil, uint32(numeric), data[off:end])
	}
	s.onTransferComplete(t)
}

type transferCompleteParams struct {
	TransferID string `json:"transferId"`
}

// handleTransferComplete is the source's signal that all bytes have been
// sent; the gateway forwards transfer.end to the destination.
func handleTransferComplete(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p transferCompleteParams
	if err := json.Unmarshal(params, &p); err != nil || p.TransferID == "" {
		return nil, ErrInvalidRequest
	}
	s.mu.RLock()
	transfer, ok := s.transfers[p.TransferID]
	s.mu.RUnlock()
	if !ok {
		return nil, NewGatewayError(CodeNotFound, "unknown transferId")
	}
	s.onTransferComplete(transfer)
	return map[string]interface{}{"ok": true}, nil
}

func (s *Gateway) onTransferComplete(t *Transfer) {
	s.mu.Lock()
	t.State = TransferCompleting
	t.UpdatedAt = time.Now()
	s.mu.Unlock()

	if t.Destination.Node == "gsv" {
		s.onTransferDone(t, t.BytesTransferred)
		return
	}
	destConn, ok := s.findNodeConn(t.Destination.Node)
	if !ok {
		s.failTransfer(t, "destination not connected")
		return
	}
	s.writeEvt(destConn, "transfer.end", map[string]interface{}{"transferId": t.ID})
}

type transferDoneParams struct {
	TransferID       string `json:"transferId"`
	BytesTransferred int64  `json:"bytesTransferred,omitempty"`
	Error            string `json:"error,omitempty"`
}

// handleTransferDone is the destination's final word on a transfer: a
// clean reply finalizes it against the session bridge, an error field
// fails it instead.
func handleTransferDone(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p transferDoneParams
	if err := json.Unmarshal(params, &p); err != nil || p.TransferID == "" {
		return nil, ErrInvalidRequest
	}
	s.mu.RLock()
	transfer, ok := s.transfers[p.TransferID]
	s.mu.RUnlock()
	if !ok {
		return nil, NewGatewayError(CodeNotFound, "unknown transferId")
	}
	if p.Error != "" {
		s.failTransfer(transfer, p.Error)
		return map[string]interface{}{"ok": true}, nil
	}
	s.onTransferDone(transfer, p.BytesTransferred)
	return map[string]interface{}{"ok": true}, nil
}

// onTransferDone finalizes a successful transfer (spec §4.8 step 6): it
// reports the result back to the session bridge exactly once and removes
// the transfer's state (property P7: bytesTransferred == size on success).
func (s *Gateway) onTransferDone(t *Transfer, bytesTransferred int64) {
	s.mu.Lock()
	if bytesTransferred > 0 {
		t.BytesTransferred = bytesTransferred
	}
	t.State = TransferDone
	t.UpdatedAt = time.Now()
	delete(s.transfers, t.ID)
	s.mu.Unlock()

	if s.sessionBridge == nil || t.CallID == "" {
		return
	}
	s.sessionBridge.ToolResult(t.CallID, map[string]interface{}{
		"source":           t.Source,
		"destination":      t.Destination,
		"bytesTransferred": t.BytesTransferred,
		"mime":             t.Mime,
	}, nil)
}

// failTransfer moves a transfer to TransferFailed, reports exactly one
// toolResult error to the session bridge that originated it (property
// P7), and removes its state so a later stray frame can't resurrect it.
func (s *Gateway) failTransfer(t *Transfer, reason string) {
	s.mu.Lock()
	if t.State == TransferFailed || t.State == TransferDone {
		s.mu.Unlock()
		return
	}
	t.State = TransferFailed
	t.ErrorMessage = reason
	t.UpdatedAt = time.Now()
	delete(s.transfers, t.ID)
	s.mu.Unlock()

	if s.sessionBridge == nil || t.CallID == "" {
		return
	}
	s.sessionBridge.ToolResult(t.CallID, nil, NewGatewayError(CodeInternal, reason))
}

// findNodeConn resolves a nodeId to its live connection, if any.
func (s *Gateway) findNodeConn(nodeID string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.nodes[nodeID]
	if !ok {
		return nil, false
	}
	conn, ok := s.connections[info.ConnID]
	return conn, ok
}

// handleTransferBytes appends one binary chunk to its transfer and, when
// the destination is the gateway itself ("gsv"), writes it straight into
// the blob store keyed by transferId; otherwise it's relayed untouched to
// the destination node so the two peers never need the gateway to buffer
// a whole transfer in memory. conn is nil when the gateway itself is the
// source streaming a gsv-hosted blob.
func (s *Gateway) handleTransferBytes(conn *Connection, transferID uint32, chunk []byte) {
	key := strconv.FormatUint(uint64(transferID), 10)

	s.mu.Lock()
	transfer, ok := s.transfers[key]
	if !ok || transfer.State != TransferStreaming {
		s.mu.Unlock()
		s.logger.Debugw("dropping chunk for unknown or non-streaming transfer", "transfer_id", key)
		return
	}
	transfer.BytesTransferred += int64(len(chunk))
	dest := transfer.Destination
	s.mu.Unlock()

	if dest.Node == "gsv" {
		blobKey := fmt.Sprintf("transfers/%s", key)
		existing, _ := s.blobStore.Get(blobKey)
		if err := s.blobStore.Put(blobKey, append(existing, chunk...)); err != nil {
			s.logger.Warnw("failed to append transfer chunk to blob store", "transfer_id", key, "error", err.Error())
		}
		return
	}

	destConn, ok := s.findNodeConn(dest.Node)
	if !ok {
		return
	}
	frame := make([]byte, 4+len(chunk))
	frame[0] = byte(transferID)
	frame[1] = byte(transferID >> 8)
	frame[2] = byte(transferID >> 16)
	frame[3] = byte(transferID >> 24)
	copy(frame[4:], chunk)
	s.SendFrame(destConn, frame)
}

// mimeFromPath makes a best-effort MIME guess from a file extension when
// the gateway itself is a transfer's source and has no declared MIME
// type to forward (a real node source always reports one via
// transfer.meta).
func mimeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	case strings.HasSuffix(path, ".txt"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// scheduleTransferExpiry fails a transfer still in the given state once
// its timeout elapses, so a peer that never replies can't leak an entry.
func (s *Gateway) scheduleTransferExpiry(key string, state TransferState, after time.Duration) {
	timer := time.AfterFunc(after, func() {
		s.mu.RLock()
		transfer, ok := s.transfers[key]
		s.mu.RUnlock()
		if !ok || transfer.State != state {
			return
		}
		s.failTransfer(transfer, "timed out")
	})
	go func() {
		<-s.ctx.Done()
		timer.Stop()
	}()
}
