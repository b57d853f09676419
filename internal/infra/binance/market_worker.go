// Package binance holds the exchange boundary: websocket stream
// workers, wire decoding, and the small REST surface the trigger loop
// depends on.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"trigger_go/internal/event"
	"trigger_go/internal/infra"
	"trigger_go/internal/service"

	"github.com/gorilla/websocket"
)

// SymbolSink groups the per-symbol targets a stream worker feeds.
type SymbolSink struct {
	cache *service.QuoteCache
	inbox *event.Inbox
}

// MarketWorker maintains one websocket connection carrying mark-price
// and kline streams for all configured symbols. Decoded updates land in
// the symbol's quote cache first, then in its inbox; inbox overflow
// drops the oldest event rather than blocking the read loop.
type MarketWorker struct {
	wsURL         string
	klineInterval string
	sinks         map[string]SymbolSink
	retry         RetryPolicy
	logger        *slog.Logger

	conn       *websocket.Conn
	mu         sync.RWMutex
	writeMu    sync.Mutex
	connected  bool
	connCancel context.CancelFunc
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewMarketWorker creates a market stream worker. Sink keys are
// uppercase exchange symbols.
func NewMarketWorker(wsURL, klineInterval string, sinks map[string]SymbolSink, retry RetryPolicy, logger *slog.Logger) *MarketWorker {
	return &MarketWorker{
		wsURL:         wsURL,
		klineInterval: klineInterval,
		sinks:         sinks,
		retry:         retry,
		logger:        logger.With(slog.String("component", "market_worker")),
	}
}

// NewSymbolSink pairs a cache and inbox for worker registration.
func NewSymbolSink(cache *service.QuoteCache, inbox *event.Inbox) SymbolSink {
	return SymbolSink{cache: cache, inbox: inbox}
}

func (w *MarketWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *MarketWorker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *MarketWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	delay := w.retry.base
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("market stream connection failed",
				slog.Any("error", err),
				slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > w.retry.max {
				delay = w.retry.max
			}
			continue
		}

		delay = w.retry.base
		w.readLoop(ctx)
		infra.GlobalMetrics.RecordReconnect()
	}
}

func (w *MarketWorker) connect(ctx context.Context) error {
	// The /stream endpoint wraps every message in a combined frame
	// carrying the stream name.
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL+"/stream", nil)
	if err != nil {
		return err
	}

	// The ping loop lives exactly as long as this connection.
	connCtx, connCancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.connCancel = connCancel
	w.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	w.wg.Add(1)
	go w.pingLoop(connCtx)
	w.logger.Info("market stream connected", slog.Int("symbols", len(w.sinks)))
	return nil
}

func (w *MarketWorker) subscribe() error {
	params := make([]string, 0, len(w.sinks)*2)
	for symbol := range w.sinks {
		lower := strings.ToLower(symbol)
		params = append(params, lower+"@markPrice@1s", lower+"@kline_"+w.klineInterval)
	}
	req := subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: time.Now().UnixMilli()}
	b, _ := json.Marshal(req)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *MarketWorker) pingLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.threadSafeWrite(websocket.PingMessage, nil)
		}
	}
}

func (w *MarketWorker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *MarketWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.logger.Warn("market stream read failed", slog.Any("error", err))
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *MarketWorker) handleMessage(msg []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		w.logger.Warn("malformed stream frame", slog.Any("error", err))
		return
	}

	// Subscription acknowledgements arrive without a stream name.
	if frame.Stream == "" {
		return
	}

	switch {
	case strings.Contains(frame.Stream, "@markPrice"):
		w.handleMarkPrice(frame.Data)
	case strings.Contains(frame.Stream, "@kline"):
		w.handleKline(frame.Data)
	}
}

func (w *MarketWorker) handleMarkPrice(data []byte) {
	ev, err := parseMarkPrice(data)
	if err != nil {
		w.logger.Warn("mark price rejected", slog.Any("error", err))
		return
	}

	sink, ok := w.sinks[ev.Symbol]
	if !ok {
		event.ReleaseMarkPriceEvent(ev)
		return
	}

	sink.cache.UpdateMark(ev.Price, ev.Ts)
	sink.inbox.PushDroppable(ev)
}

func (w *MarketWorker) handleKline(data []byte) {
	ev, err := parseKline(data)
	if err != nil {
		w.logger.Warn("kline rejected", slog.Any("error", err))
		return
	}

	sink, ok := w.sinks[ev.Symbol]
	if !ok {
		return
	}

	sink.cache.UpdateKline(ev.Candle())
	sink.inbox.PushDroppable(ev)
}

func (w *MarketWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.connCancel != nil {
		w.connCancel()
		w.connCancel = nil
	}
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	if w.connected {
		w.connected = false
		infra.GlobalMetrics.DecrementConnections()
	}
}

func (w *MarketWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
