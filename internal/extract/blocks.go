// Package extract scans fetched documents for embedded code blocks and
// splits page content into storable chunks.
package extract

import (
	"regexp"
	"strings"
)

// CodeBlock is one candidate code span found in a document.
type CodeBlock struct {
	Code string
	// Language is the fence info string hint, empty when unknown.
	Language string
	// Context is the prose surrounding the block, passed to the
	// summarizer to anchor summaries.
	Context string
}

// Config holds the extraction filter thresholds.
type Config struct {
	// MinLength and MaxLength bound the accepted block size in bytes.
	MinLength int
	MaxLength int
	// MaxProseRatio rejects blocks where too many lines read like prose.
	MaxProseRatio float64
	// MinCodeTokens is the minimum count of code indicator tokens.
	MinCodeTokens int
	// ContextWindow is how many bytes of surrounding text to capture.
	ContextWindow int
}

// DefaultConfig returns the stock extraction thresholds.
func DefaultConfig() Config {
	return Config{
		MinLength:     10,
		MaxLength:     20000,
		MaxProseRatio: 0.6,
		MinCodeTokens: 2,
		ContextWindow: 500,
	}
}

var (
	fencedRe = regexp.MustCompile("(?ms)^(```|~~~)([^\\n`]*)\\n(.*?)^(```|~~~)\\s*$")
	preTagRe = regexp.MustCompile(`(?is)<pre[^>]*>(?:\s*<code[^>]*>)?(.*?)(?:</code>\s*)?</pre>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
)

// codeIndicators are tokens that rarely appear in prose runs but are common
// across programming and markup languages.
var codeIndicators = []string{
	"{", "}", "();", ");", "=>", "==", "!=", " := ", "</", "/>",
	"func ", "def ", "class ", "import ", "return ", "const ", "var ",
	"#include", "SELECT ", "INSERT ", "$ ", "&&", "||", ";",
}

// Extract finds code blocks in a document. Fenced blocks are preferred; HTML
// <pre>/<code> spans and 4-space indentation runs are scanned on documents
// without fences. Zero results is a valid outcome, not a failure.
func Extract(content string, cfg Config) []CodeBlock {
	blocks := extractFenced(content, cfg)
	if len(blocks) == 0 {
		blocks = extractPreTags(content, cfg)
	}
	if len(blocks) == 0 {
		blocks = extractIndented(content, cfg)
	}
	return blocks
}

func extractFenced(content string, cfg Config) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range fencedRe.FindAllStringSubmatchIndex(content, -1) {
		info := strings.TrimSpace(content[m[4]:m[5]])
		code := strings.TrimRight(content[m[6]:m[7]], "\n")
		if !accept(code, cfg) {
			continue
		}
		blocks = append(blocks, CodeBlock{
			Code:     code,
			Language: fenceLanguage(info),
			Context:  surrounding(content, m[0], m[1], cfg.ContextWindow),
		})
	}
	return blocks
}

func extractPreTags(content string, cfg Config) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range preTagRe.FindAllStringSubmatchIndex(content, -1) {
		code := unescapeHTML(strings.TrimSpace(content[m[2]:m[3]]))
		if !accept(code, cfg) {
			continue
		}
		blocks = append(blocks, CodeBlock{
			Code:    code,
			Context: stripTags(surrounding(content, m[0], m[1], cfg.ContextWindow)),
		})
	}
	return blocks
}

// extractIndented collects runs of lines indented by four spaces or a tab,
// the classic Markdown indentation block.
func extractIndented(content string, cfg Config) []CodeBlock {
	lines := strings.Split(content, "\n")
	var blocks []CodeBlock
	var run []string
	runStart := -1

	flush := func(end int) {
		if len(run) == 0 {
			return
		}
		code := strings.TrimRight(strings.Join(run, "\n"), "\n")
		if accept(code, cfg) {
			context := contextLines(lines, runStart, end)
			blocks = append(blocks, CodeBlock{Code: code, Context: context})
		}
		run = nil
		runStart = -1
	}

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t"):
			if runStart < 0 {
				runStart = i
			}
			run = append(run, strings.TrimPrefix(strings.TrimPrefix(line, "    "), "\t"))
		case strings.TrimSpace(line) == "" && len(run) > 0:
			// blank lines inside an indented run are part of it
			run = append(run, "")
		default:
			flush(i)
		}
	}
	flush(len(lines))
	return blocks
}

// accept applies the length, prose-ratio and indicator-token filters.
func accept(code string, cfg Config) bool {
	if len(code) < cfg.MinLength || (cfg.MaxLength > 0 && len(code) > cfg.MaxLength) {
		return false
	}
	if proseRatio(code) > cfg.MaxProseRatio {
		return false
	}
	return indicatorCount(code) >= cfg.MinCodeTokens
}

// proseRatio returns the fraction of non-empty lines that read like natural
// language: many space-separated words and no code indicators.
func proseRatio(code string) float64 {
	lines := strings.Split(code, "\n")
	total, prose := 0, 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		total++
		if looksLikeProse(trimmed) {
			prose++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(prose) / float64(total)
}

func looksLikeProse(line string) bool {
	if indicatorCount(line) > 0 {
		return false
	}
	words := strings.Fields(line)
	return len(words) >= 6
}

func indicatorCount(s string) int {
	count := 0
	for _, tok := range codeIndicators {
		count += strings.Count(s, tok)
	}
	return count
}

// fenceLanguage normalizes a fence info string to a language hint.
func fenceLanguage(info string) string {
	if info == "" {
		return ""
	}
	fields := strings.Fields(info)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func surrounding(content string, start, end, window int) string {
	lo := start - window
	if lo < 0 {
		lo = 0
	}
	hi := end + window
	if hi > len(content) {
		hi = len(content)
	}
	return strings.TrimSpace(content[lo:start] + " " + content[end:hi])
}

func contextLines(lines []string, start, end int) string {
	lo := start - 3
	if lo < 0 {
		lo = 0
	}
	hi := end + 3
	if hi > len(lines) {
		hi = len(lines)
	}
	before := strings.Join(lines[lo:start], "\n")
	after := strings.Join(lines[end:hi], "\n")
	return strings.TrimSpace(before + " " + after)
}

func stripTags(s string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(s, " "))
}

var htmlEscapes = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", `"`,
	"&#39;", "'",
)

func unescapeHTML(s string) string {
	return htmlEscapes.Replace(s)
}
