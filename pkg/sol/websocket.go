package sol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sollend/pkg/logger"
)

var errNotConnected = errors.New("websocket not connected")

// TransactionFailedError is returned when the cluster reports a transaction error
type TransactionFailedError struct {
	Signature solana.Signature
	Reason    any
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Reason)
}

// SignatureWatcher confirms signatures over a signatureSubscribe websocket
type SignatureWatcher struct {
	url            string
	conn           *websocket.Conn
	mu             sync.RWMutex
	writeMu        sync.Mutex
	nextID         uint64
	pending        map[uint64]*signatureWait
	bySubscription map[uint64]*signatureWait
	reconnectDelay time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
	connected      bool
	log            zerolog.Logger
}

type signatureWait struct {
	requestID uint64
	signature solana.Signature
	done      chan error
}

func (s *signatureWait) finish(err error) {
	select {
	case s.done <- err:
	default:
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type signatureNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Err any `json:"err"`
			} `json:"value"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params"`
}

// NewSignatureWatcher dials wsURL and starts the reader and reconnect loops
func NewSignatureWatcher(ctx context.Context, wsURL string) (*SignatureWatcher, error) {
	watcherCtx, cancel := context.WithCancel(ctx)

	w := &SignatureWatcher{
		url:            wsURL,
		pending:        make(map[uint64]*signatureWait),
		bySubscription: make(map[uint64]*signatureWait),
		reconnectDelay: 5 * time.Second,
		ctx:            watcherCtx,
		cancel:         cancel,
		nextID:         1,
		log:            logger.GetForComponent("ws"),
	}

	if err := w.connect(); err != nil {
		cancel()
		return nil, err
	}

	go w.readMessages()
	go w.handleReconnection()

	return w, nil
}

func (w *SignatureWatcher) connect() error {
	conn, _, err := websocket.DefaultDialer.DialContext(w.ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.log.Info().Str("url", w.url).Msg("websocket connected")
	return nil
}

// Wait blocks until sig is confirmed, fails on chain, or ctx ends
func (w *SignatureWatcher) Wait(ctx context.Context, sig solana.Signature) error {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	wait := &signatureWait{requestID: id, signature: sig, done: make(chan error, 1)}
	w.pending[id] = wait
	w.mu.Unlock()

	defer w.forget(wait)

	if err := w.subscribe(wait); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-wait.done:
		return err
	}
}

func (w *SignatureWatcher) subscribe(wait *signatureWait) error {
	return w.sendRequest(rpcRequest{
		JSONRPC: "2.0",
		ID:      wait.requestID,
		Method:  "signatureSubscribe",
		Params: []any{
			wait.signature.String(),
			map[string]any{"commitment": "confirmed"},
		},
	})
}

func (w *SignatureWatcher) forget(wait *signatureWait) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, wait.requestID)
	for sub, v := range w.bySubscription {
		if v == wait {
			delete(w.bySubscription, sub)
		}
	}
}

func (w *SignatureWatcher) sendRequest(req rpcRequest) error {
	w.mu.RLock()
	conn := w.conn
	connected := w.connected
	w.mu.RUnlock()

	if conn == nil || !connected {
		return errNotConnected
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (w *SignatureWatcher) readMessages() {
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		connected := w.connected
		w.mu.RUnlock()

		if conn == nil || !connected {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() == nil {
				w.log.Warn().Err(err).Msg("websocket read error")
			}
			w.mu.Lock()
			w.connected = false
			w.mu.Unlock()
			continue
		}

		w.handleMessage(message)
	}
}

func (w *SignatureWatcher) handleMessage(data []byte) {
	var notification signatureNotification
	if err := json.Unmarshal(data, &notification); err == nil && notification.Method == "signatureNotification" {
		w.handleSignatureNotification(notification)
		return
	}

	var response rpcResponse
	if err := json.Unmarshal(data, &response); err != nil {
		w.log.Debug().Err(err).Msg("failed to parse websocket message")
		return
	}
	w.handleResponse(response)
}

func (w *SignatureWatcher) handleResponse(response rpcResponse) {
	w.mu.Lock()
	defer w.mu.Unlock()

	wait, ok := w.pending[response.ID]
	if !ok {
		return
	}
	if response.Error != nil {
		wait.finish(fmt.Errorf("signatureSubscribe: %s", response.Error.Message))
		return
	}

	var subID uint64
	if err := json.Unmarshal(response.Result, &subID); err != nil {
		return
	}
	w.bySubscription[subID] = wait
}

func (w *SignatureWatcher) handleSignatureNotification(n signatureNotification) {
	w.mu.Lock()
	wait, ok := w.bySubscription[n.Params.Subscription]
	delete(w.bySubscription, n.Params.Subscription)
	w.mu.Unlock()

	if !ok {
		return
	}
	if reason := n.Params.Result.Value.Err; reason != nil {
		wait.finish(&TransactionFailedError{Signature: wait.signature, Reason: reason})
		return
	}
	wait.finish(nil)
}

func (w *SignatureWatcher) handleReconnection() {
	ticker := time.NewTicker(w.reconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if w.IsConnected() {
				continue
			}
			w.log.Info().Msg("attempting to reconnect websocket")
			if err := w.reconnect(); err != nil {
				w.log.Warn().Err(err).Msg("websocket reconnection failed")
			}
		}
	}
}

// reconnect re-dials and re-subscribes every signature still waiting
func (w *SignatureWatcher) reconnect() error {
	if err := w.connect(); err != nil {
		return err
	}

	w.mu.Lock()
	waits := make([]*signatureWait, 0, len(w.pending))
	for _, wait := range w.pending {
		waits = append(waits, wait)
	}
	w.bySubscription = make(map[uint64]*signatureWait)
	w.mu.Unlock()

	for _, wait := range waits {
		if err := w.subscribe(wait); err != nil {
			w.log.Warn().Err(err).Str("signature", wait.signature.String()).Msg("failed to resubscribe")
		}
	}
	return nil
}

// Close stops the loops and closes the connection
func (w *SignatureWatcher) Close() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

func (w *SignatureWatcher) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
