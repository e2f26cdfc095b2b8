package exchange

import (
	"errors"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过本轮处理。
	ErrMaintenance = errors.New("exchange on maintenance")

	// ErrNoPrice 表示行情接口返回了空价格，按可重试的瞬时失败处理。
	ErrNoPrice = errors.New("exchange: 无有效价格")

	// ErrRejected 表示订单被交易所拒绝，持仓必须原样保留。
	ErrRejected = errors.New("exchange: 订单被拒绝")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoPrice) {
		return true
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}
