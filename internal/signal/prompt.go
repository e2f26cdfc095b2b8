package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"futures-sentinel/internal/market"
)

const entryTemplate = `
你是一个专业的加密货币量化交易员。你的任务是根据提供的市场快照，筛选出当前值得开仓的合约方向。

候选市场快照：
{{ .SnapshotsJSON }}

字段说明：volatility 为相对波动率，momentum 为近期价格变化速率，rsi 为相对强弱指标，trend_strength 为 [0,1] 区间的趋势强度。

筛选时请遵循：
1. 只推荐趋势与动量方向一致、且趋势强度明确的标的；
2. RSI 超买时不追多，超卖时不追空；
3. 没有高胜率机会时返回空列表，宁缺毋滥；
4. 杠杆倍数保守选择，波动率越高杠杆越低。

请严格输出唯一的 JSON 对象，格式如下：
{
  "entries": [
    {
      "symbol": "...",                // 交易对，必须来自候选列表
      "side": "LONG|SHORT",          // 开仓方向
      "confidence": 0.0-1.0,          // 信心度
      "leverage": 1-50,               // 建议杠杆倍数
      "reasoning": "..."             // 支撑结论的关键理由
    }
  ]
}

注意事项：
- 没有值得开仓的标的时请返回 {"entries": []}。
- 所有字段均需填写，symbol 不得超出候选列表。
`

var tmpl = template.Must(template.New("entry").Parse(entryTemplate))

type promptContext struct {
	SnapshotsJSON string
}

type promptSnapshot struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Volatility    float64 `json:"volatility"`
	Momentum      float64 `json:"momentum"`
	RSI           float64 `json:"rsi"`
	TrendStrength float64 `json:"trend_strength"`
}

// BuildPrompt 将市场快照列表渲染成提示词字符串。
func BuildPrompt(snapshots []market.Snapshot) (string, error) {
	rows := make([]promptSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		rows = append(rows, promptSnapshot{
			Symbol:        s.Symbol,
			Price:         s.Price,
			Volatility:    s.Volatility,
			Momentum:      s.Momentum,
			RSI:           s.RSI,
			TrendStrength: s.TrendStrength,
		})
	}

	payload, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化市场快照失败: %w", err)
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, promptContext{SnapshotsJSON: string(payload)}); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}
