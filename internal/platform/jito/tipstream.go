package jito

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// tipFloorLamports is the lower bound applied to tips so bundles are
	// never submitted below the relay's acceptance threshold.
	tipFloorLamports = 10_000

	tipReconnectDelay    = 2 * time.Second
	tipMaxReconnectDelay = 60 * time.Second
	tipReadDeadline      = 90 * time.Second
)

// TipPercentiles is the tip market distribution in lamports.
type TipPercentiles struct {
	P25 uint64
	P50 uint64
	P75 uint64
	P95 uint64
	// ObservedAt is when the sample arrived; zero means no sample yet and
	// callers should treat every percentile as the floor.
	ObservedAt time.Time
}

// At returns the percentile value for a 0..1 fraction, clamped to the floor.
func (t TipPercentiles) At(pct float64) uint64 {
	var v uint64
	switch {
	case pct <= 0.25:
		v = t.P25
	case pct <= 0.50:
		v = t.P50
	case pct <= 0.75:
		v = t.P75
	default:
		v = t.P95
	}
	if v < tipFloorLamports {
		v = tipFloorLamports
	}
	return v
}

// tipStream subscribes to the relay's tip-floor feed and keeps the latest
// sample. The feed publishes percentiles in SOL.
type tipStream struct {
	url    string
	logger *slog.Logger

	mu     sync.RWMutex
	sample TipPercentiles
}

func newTipStream(url string, logger *slog.Logger) *tipStream {
	return &tipStream{url: url, logger: logger}
}

func (s *tipStream) latest() TipPercentiles {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample
}

func (s *tipStream) start(ctx context.Context) {
	if s.url == "" {
		s.logger.Info("tip stream disabled, using static floor")
		return
	}
	go s.run(ctx)
}

func (s *tipStream) run(ctx context.Context) {
	delay := tipReconnectDelay
	for {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("tip stream disconnected", slog.Any("error", err), slog.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > tipMaxReconnectDelay {
			delay = tipMaxReconnectDelay
		}
	}
}

type tipFloorMessage struct {
	P25 float64 `json:"landed_tips_25th_percentile"`
	P50 float64 `json:"landed_tips_50th_percentile"`
	P75 float64 `json:"landed_tips_75th_percentile"`
	P95 float64 `json:"landed_tips_95th_percentile"`
}

func (s *tipStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.logger.Info("tip stream connected")
	for {
		conn.SetReadDeadline(time.Now().Add(tipReadDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		// Samples arrive as a single-element array.
		var msgs []tipFloorMessage
		if err := json.Unmarshal(raw, &msgs); err != nil || len(msgs) == 0 {
			continue
		}
		m := msgs[0]

		s.mu.Lock()
		s.sample = TipPercentiles{
			P25:        solToLamports(m.P25),
			P50:        solToLamports(m.P50),
			P75:        solToLamports(m.P75),
			P95:        solToLamports(m.P95),
			ObservedAt: time.Now(),
		}
		s.mu.Unlock()
	}
}

func solToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(sol * 1e9)
}
