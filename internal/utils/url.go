package utils

import (
	"net/url"
	"sort"
	"strings"
)

// trackingQueryKeys 需要剔除的追踪参数（utm_* 单独按前缀处理）
var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"yclid":   {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"source":  {},
	"_hsenc":  {},
	"_hsmi":   {},
}

// NormalizeURL 规范化 URL，作为跨来源判定"同一条目"的唯一依据
// 1. 去掉首尾空白
// 2. scheme、host、path 转小写
// 3. 去掉 fragment 和追踪参数，参数为空时整段去掉
// 4. 去掉结尾斜杠（连续多个一并去掉，保证幂等）
// 解析失败时退化为 trim + 小写 + 去结尾斜杠，永不报错
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" || parsed.Opaque != "" {
		return fallbackNormalize(trimmed)
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(parsed.Scheme))
	b.WriteString("://")
	if parsed.User != nil {
		b.WriteString(parsed.User.String())
		b.WriteString("@")
	}
	b.WriteString(strings.ToLower(parsed.Host))

	path := strings.ToLower(parsed.EscapedPath())
	path = strings.TrimRight(path, "/")
	b.WriteString(path)

	if query := cleanQuery(parsed.RawQuery); query != "" {
		b.WriteString("?")
		b.WriteString(query)
	}
	return b.String()
}

// cleanQuery 逐对剔除追踪参数并按 key 排序，保证输出稳定
// 无法解码的参数对原样保留，不影响其他参数的清理
func cleanQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	type pair struct{ key, text string }
	var pairs []pair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			pairs = append(pairs, pair{key: rawKey, text: part})
			continue
		}
		if isTrackingKey(key) {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			pairs = append(pairs, pair{key: key, text: part})
			continue
		}
		pairs = append(pairs, pair{key: key, text: url.QueryEscape(key) + "=" + url.QueryEscape(value)})
	}
	if len(pairs) == 0 {
		return ""
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].text < pairs[j].text
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.text
	}
	return strings.Join(parts, "&")
}

func isTrackingKey(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	_, ok := trackingQueryKeys[lower]
	return ok
}

func fallbackNormalize(s string) string {
	return strings.TrimRight(strings.ToLower(s), "/")
}

// AreEquivalentURLs 判断两个 URL 是否指向同一条目
// 两者都为空视为等价，只有一个为空视为不等价
func AreEquivalentURLs(a, b string) bool {
	return NormalizeURL(a) == NormalizeURL(b)
}

// ExtractDomain 提取域名（去掉 www. 前缀），无法解析时返回空串
func ExtractDomain(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}
