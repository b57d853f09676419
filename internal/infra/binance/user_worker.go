package binance

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"trigger_go/internal/domain"
	"trigger_go/internal/event"
	"trigger_go/internal/infra"

	"github.com/gorilla/websocket"
)

// UserWorker maintains the account data stream. Every connection gets a
// fresh listen key, kept alive on a timer. Order updates are pushed
// with a bounded wait; a full inbox that does not drain in time means
// the consumer is wedged, so the connection is torn down and rebuilt
// rather than silently dropping an account event.
type UserWorker struct {
	wsURL       string
	client      *Client
	sinks       map[string]SymbolSink
	pushTimeout time.Duration
	retry       RetryPolicy
	logger      *slog.Logger

	conn       *websocket.Conn
	mu         sync.RWMutex
	connected  bool
	connCancel context.CancelFunc
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewUserWorker creates an account stream worker sharing the market
// worker's sink registry.
func NewUserWorker(wsURL string, client *Client, sinks map[string]SymbolSink, pushTimeout time.Duration, retry RetryPolicy, logger *slog.Logger) *UserWorker {
	return &UserWorker{
		wsURL:       wsURL,
		client:      client,
		sinks:       sinks,
		pushTimeout: pushTimeout,
		retry:       retry,
		logger:      logger.With(slog.String("component", "user_worker")),
	}
}

func (w *UserWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *UserWorker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *UserWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	delay := w.retry.base
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("user stream connection failed",
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

func (w *UserWorker) connect(ctx context.Context) error {
	key, err := w.client.NewListenKey(ctx)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL+"/ws/"+key, nil)
	if err != nil {
		return err
	}

	// The keepalive loop lives exactly as long as this connection.
	connCtx, connCancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.connCancel = connCancel
	w.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections()

	w.wg.Add(1)
	go w.keepAliveLoop(connCtx)
	w.logger.Info("user stream connected")
	return nil
}

func (w *UserWorker) keepAliveLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.KeepAliveListenKey(ctx); err != nil {
				w.logger.Warn("listen key keepalive failed", slog.Any("error", err))
			}
		}
	}
}

func (w *UserWorker) readLoop(ctx context.Context) {
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
			w.logger.Warn("user stream read failed", slog.Any("error", err))
			w.closeConnection()
			return
		}
		if !w.handleMessage(ctx, msg) {
			// Backpressure on an account event; rebuild the stream so
			// the exchange replays order state on the new connection.
			w.closeConnection()
			return
		}
	}
}

// handleMessage routes one user-stream frame. It returns false when the
// connection should be torn down.
func (w *UserWorker) handleMessage(ctx context.Context, msg []byte) bool {
	var probe eventTypeProbe
	if err := json.Unmarshal(msg, &probe); err != nil {
		w.logger.Warn("malformed user stream frame", slog.Any("error", err))
		return true
	}

	// Balance and margin frames are not consumed here.
	if probe.EventType != "ORDER_TRADE_UPDATE" {
		return true
	}

	ev, err := parseOrderUpdate(msg)
	if err != nil {
		w.logger.Warn("order update rejected", slog.Any("error", err))
		return true
	}

	sink, ok := w.sinks[ev.Symbol]
	if !ok {
		w.logger.Warn("order update for unconfigured symbol", slog.String("symbol", ev.Symbol))
		return true
	}

	sink.cache.RecordOrderActivity(domain.OrderActivity{
		OrderID:   ev.OrderID,
		Status:    ev.Status,
		FilledQty: ev.FilledQty,
		AvgPrice:  ev.AvgPrice,
		Ts:        ev.Ts,
	})

	if err := sink.inbox.PushBlocking(ctx, ev, w.pushTimeout); err != nil {
		if errors.Is(err, event.ErrPushTimeout) {
			w.logger.Error("account event push timed out, recycling connection",
				slog.String("order_id", ev.OrderID),
				slog.Duration("timeout", w.pushTimeout))
			return false
		}
		// Context cancelled: shutdown in progress.
		return false
	}
	return true
}

func (w *UserWorker) closeConnection() {
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

func (w *UserWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()
	if err := w.client.CloseListenKey(ctx); err != nil {
		w.logger.Warn("listen key close failed", slog.Any("error", err))
	}
}
