package signal

import (
	"errors"
	"fmt"
	"strings"

	"futures-sentinel/internal/position"
)

// Entry 表示模型给出的单笔开仓建议。
type Entry struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Confidence float64 `json:"confidence"`
	Leverage   int     `json:"leverage"`
	Reasoning  string  `json:"reasoning"`
}

var validSides = map[string]struct{}{
	string(position.SideLong):  {},
	string(position.SideShort): {},
}

// Validate 校验开仓建议字段合法性。
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Symbol) == "" {
		return errors.New("symbol 不能为空")
	}

	side := strings.ToUpper(strings.TrimSpace(e.Side))
	if side == "" {
		return errors.New("side 不能为空")
	}
	if _, ok := validSides[side]; !ok {
		return fmt.Errorf("side 字段取值非法: %s", e.Side)
	}

	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", e.Confidence)
	}
	if e.Leverage < 1 || e.Leverage > 50 {
		return fmt.Errorf("leverage 必须位于 [1,50]，当前为 %d", e.Leverage)
	}
	if strings.TrimSpace(e.Reasoning) == "" {
		return errors.New("reasoning 不能为空")
	}
	return nil
}

// NormalizedSide 返回规整后的持仓方向。
func (e Entry) NormalizedSide() position.Side {
	return position.Side(strings.ToUpper(strings.TrimSpace(e.Side)))
}

// EntryEnvelope 用于解析多资产开仓建议列表。
type EntryEnvelope struct {
	Entries []Entry `json:"entries"`
}
