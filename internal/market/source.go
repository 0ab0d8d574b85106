package market

import "context"

type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
}

type TickEvent struct {
	Symbol    string
	Price     float64
	Quantity  float64
	EventTime int64
	TradeTime int64
}

// FeedState 流式连接生命周期状态。
type FeedState int

const (
	StateDisconnected FeedState = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateDegraded
)

func (s FeedState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type FeedStats struct {
	State           string `json:"state"`
	Reconnects      int    `json:"reconnects"`
	SubscribeErrors int    `json:"subscribe_errors"`
	FramesDropped   int    `json:"frames_dropped"`
	LastError       string `json:"last_error,omitempty"`
	FailedChannels  int    `json:"failed_channels"`
}

// HistorySource 请求/响应式行情来源，用作轮询兜底与启动预热。
type HistorySource interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}
