// Package symbols maps user-entered symbols to canonical provider codes.
package symbols

import (
	"strings"

	"github.com/shaoq/stockwatch/internal/domain"
)

// Normalize maps a user symbol to (canonical_code, market).
//
// Canonical cn codes carry the exchange prefix, e.g. "sh600000" / "sz000001" /
// "bj430047". Anything that cannot be placed on a Chinese exchange is treated
// as a US ticker, uppercased, as-is.
func Normalize(symbol string) (string, domain.Market) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if !isDigits(symbol) && !strings.Contains(symbol, ".") {
		return symbol, domain.MarketUS
	}

	if strings.Contains(symbol, ".") {
		parts := strings.SplitN(symbol, ".", 2)
		code, suffix := parts[0], strings.ToLower(parts[1])
		switch suffix {
		case "ss", "sh":
			return "sh" + code, domain.MarketCN
		case "sz":
			return "sz" + code, domain.MarketCN
		case "bj":
			return "bj" + code, domain.MarketCN
		}
		return symbol, domain.MarketUS
	}

	if len(symbol) == 6 {
		switch {
		// 北交所: 4/8 开头; 92 开头需优先于其他 9 开头判断
		case symbol[0] == '4' || symbol[0] == '8':
			return "bj" + symbol, domain.MarketCN
		case strings.HasPrefix(symbol, "92"):
			return "bj" + symbol, domain.MarketCN
		// 上交所: 6 开头, 或其他 9 开头 (科创板 CDR)
		case symbol[0] == '6' || symbol[0] == '9':
			return "sh" + symbol, domain.MarketCN
		// 深交所: 0/3 开头
		case symbol[0] == '0' || symbol[0] == '3':
			return "sz" + symbol, domain.MarketCN
		}
	}

	return symbol, domain.MarketUS
}

// BareCode strips the exchange prefix from a canonical cn code.
func BareCode(code string) string {
	if len(code) > 2 && (strings.HasPrefix(code, "sh") || strings.HasPrefix(code, "sz") || strings.HasPrefix(code, "bj")) {
		return code[2:]
	}
	return code
}

// ExchangePrefix returns "sh", "sz" or "bj" for a canonical cn code, "" otherwise.
func ExchangePrefix(code string) string {
	if len(code) > 2 {
		switch code[:2] {
		case "sh", "sz", "bj":
			return code[:2]
		}
	}
	return ""
}

// SinaCode builds the code the sina quote endpoint expects.
func SinaCode(code string, market domain.Market) string {
	if market == domain.MarketCN {
		return code
	}
	return "gb_" + strings.ToLower(code)
}

// TencentCode builds the code the tencent quote endpoint expects.
func TencentCode(code string, market domain.Market) string {
	if market == domain.MarketCN {
		return "r_" + code
	}
	return "r_gb_" + strings.ToLower(code)
}

// NeteaseHistoryCode builds the code the netease CSV history endpoint expects:
// "1" + bare code for Shanghai, "0" + bare code otherwise.
func NeteaseHistoryCode(code string) string {
	bare := BareCode(code)
	if ExchangePrefix(code) == "sh" {
		return "1" + bare
	}
	return "0" + bare
}

// EastmoneySecID builds the secid the eastmoney kline endpoint expects:
// market 1 for Shanghai, 0 for Shenzhen and Beijing.
func EastmoneySecID(code string) string {
	bare := BareCode(code)
	if ExchangePrefix(code) == "sh" {
		return "1." + bare
	}
	return "0." + bare
}

// ChartURLs returns the sina chart image URL pool for a symbol.
func ChartURLs(symbol string) map[string]string {
	code, market := Normalize(symbol)

	if market == domain.MarketCN {
		base := "https://image.sinajs.cn/newchart"
		return map[string]string{
			"min":     base + "/min/n/" + code + ".gif",
			"daily":   base + "/daily/n/" + code + ".gif",
			"weekly":  base + "/weekly/n/" + code + ".gif",
			"monthly": base + "/monthly/n/" + code + ".gif",
		}
	}

	usCode := strings.ToLower(code)
	base := "https://image.sinajs.cn/newchart/v5/usstock"
	return map[string]string{
		"min":     base + "/min/" + usCode + ".gif",
		"daily":   base + "/daily/" + usCode + ".gif",
		"weekly":  base + "/weekly/" + usCode + ".gif",
		"monthly": base + "/monthly/" + usCode + ".gif",
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
