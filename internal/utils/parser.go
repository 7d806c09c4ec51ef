package utils

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	reBrackets   = regexp.MustCompile(`[\[【].*?[\]】]`)
	reParens     = regexp.MustCompile(`\((.*?)\)`)
	reQuality    = regexp.MustCompile(`(?i)\b(1080p|720p|2160p|4k|hdr|bluray|web-dl|webrip|dvdrip)\b`)
	reEdition    = regexp.MustCompile(`(?i)\b(unabridged|abridged|a novel|director'?s cut|extended edition|special edition)\b`)
	reEpisodeTag = regexp.MustCompile(`(?i)\b(episode|ep\.?)\s*\d+\b`)
	reYear       = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// CleanLookupTitle 清理标题中干扰外部检索的杂质（分辨率、版本说明、括号标签、集数）
// 只用于构造检索词，不会写回记录
func CleanLookupTitle(title string) string {
	if title == "" {
		return ""
	}
	title = reBrackets.ReplaceAllString(title, " ")
	title = reParens.ReplaceAllString(title, " ")
	title = reQuality.ReplaceAllString(title, " ")
	title = reEdition.ReplaceAllString(title, " ")
	title = reEpisodeTag.ReplaceAllString(title, " ")

	// 副标题只保留主标题部分
	if idx := strings.Index(title, ": "); idx > 0 {
		title = title[:idx]
	}

	title = strings.ReplaceAll(title, "_", " ")
	return strings.Join(strings.Fields(title), " ")
}

// ExtractYear 从标题括号中提取年份，例如 "Heat (1995)" → 1995，没有则返回 0
func ExtractYear(title string) int {
	for _, m := range reParens.FindAllStringSubmatch(title, -1) {
		if y := reYear.FindString(m[1]); y != "" {
			n, _ := strconv.Atoi(y)
			return n
		}
	}
	return 0
}

// StripHTML 去掉描述里的 HTML 标签，只保留文本
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
