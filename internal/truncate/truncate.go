// Package truncate fits oversized report text into a bounded token
// budget using section prioritization. Critical sections (title,
// summary, reproduction steps, technical artifacts) are never cut;
// expendable sections (logs, media, metadata) are cut first.
package truncate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Default budget values; callers normally take these from config.
const (
	DefaultMaxTokens   = 180000
	DefaultTokenBuffer = 20000
)

// charsPerToken is the fixed estimation heuristic. It is a deliberate
// approximation: replacing it with an exact tokenizer would shift the
// truncation boundary and must be re-validated against the reasoning
// service's real context limit.
const charsPerToken = 4

// minKeptLines is the floor for how many lines a shortened section keeps.
const minKeptLines = 10

// Section is one classified slice of a report, transient per call.
type Section struct {
	Name             string
	Content          string
	Priority         int // 1 = never truncate ... 4 = truncate first
	PreserveComplete bool
}

// sectionRule maps a line-start header pattern to a section class.
// Rules are evaluated top to bottom; the first match wins.
type sectionRule struct {
	pattern  *regexp.Regexp
	name     string
	priority int
	preserve bool
}

var sectionRules = []sectionRule{
	// Priority 1: critical, never truncated.
	{regexp.MustCompile(`(?i)^#+ ?(title|vulnerability|summary|description|overview)`), "Title/Summary", 1, true},
	{regexp.MustCompile(`(?i)^#+ ?(reproduction|steps|reproduce|how to|poc|proof)`), "Reproduction Steps", 1, true},
	{regexp.MustCompile(`(?i)^#+ ?(payload|exploit|code|request|response|technical)`), "Technical Artifacts", 1, true},
	// Priority 2: important, preserved when budget allows.
	{regexp.MustCompile(`(?i)^#+ ?(impact|severity|affected|vulnerable)`), "Impact/Severity", 2, false},
	{regexp.MustCompile(`(?i)^#+ ?(remediation|fix|mitigation|recommendation)`), "Remediation", 2, false},
	{regexp.MustCompile(`(?i)^#+ ?(technologies|stack|environment)`), "Technologies", 2, false},
	// Priority 3: context, can be shortened.
	{regexp.MustCompile(`(?i)^#+ ?(background|context|introduction|about)`), "Background", 3, false},
	{regexp.MustCompile(`(?i)^#+ ?(timeline|discovery|disclosure)`), "Timeline", 3, false},
	// Priority 4: expendable, cut first.
	{regexp.MustCompile(`(?i)^#+ ?(logs?|output|debug|trace)`), "Logs", 4, false},
	{regexp.MustCompile(`(?i)^#+ ?(screenshot|image|video|attachment)`), "Media", 4, false},
	{regexp.MustCompile(`(?i)^#+ ?(metadata|info|details|additional)`), "Metadata", 4, false},
}

var codeBlockPattern = regexp.MustCompile("(?s)```.*?```")

// Truncator shortens report text to fit an effective token budget of
// maxTokens - tokenBuffer. It never fails on malformed input; the worst
// case is a best-effort shortened text.
type Truncator struct {
	maxTokens    int
	tokenBuffer  int
	effectiveMax int
}

// New creates a Truncator. Non-positive arguments fall back to the
// package defaults.
func New(maxTokens, tokenBuffer int) *Truncator {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if tokenBuffer <= 0 {
		tokenBuffer = DefaultTokenBuffer
	}
	return &Truncator{
		maxTokens:    maxTokens,
		tokenBuffer:  tokenBuffer,
		effectiveMax: maxTokens - tokenBuffer,
	}
}

// EstimateTokens estimates the token count of text at ~4 characters per
// token. This is approximate; downstream consumers must tolerate
// variance against real tokenizer counts.
func (t *Truncator) EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// Truncate returns text shortened to the effective budget and a flag
// indicating whether any truncation occurred. Text already under
// budget is returned unchanged.
func (t *Truncator) Truncate(text string) (string, bool) {
	if t.EstimateTokens(text) <= t.effectiveMax {
		return text, false
	}

	sections := identifySections(text)
	if len(sections) == 0 {
		// No structure at all: blunt character cut.
		target := t.effectiveMax * charsPerToken
		if target > len(text) {
			target = len(text)
		}
		return text[:target] + "\n\n... [truncated]", true
	}

	// Ascending priority, then descending size, so critical and large
	// sections claim budget first.
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].Priority != sections[j].Priority {
			return sections[i].Priority < sections[j].Priority
		}
		return t.EstimateTokens(sections[i].Content) > t.EstimateTokens(sections[j].Content)
	})

	type kept struct {
		section Section
		content string
	}
	var result []kept

	// Priority-1 sections are reserved unconditionally, even if that
	// alone overflows the nominal budget.
	remaining := t.effectiveMax
	for _, s := range sections {
		if s.PreserveComplete {
			result = append(result, kept{s, s.Content})
			remaining -= t.EstimateTokens(s.Content)
		}
	}

	for _, s := range sections {
		if s.PreserveComplete {
			continue
		}
		if remaining <= 0 {
			continue
		}
		tokens := t.EstimateTokens(s.Content)
		if tokens <= remaining {
			result = append(result, kept{s, s.Content})
			remaining -= tokens
			continue
		}
		shortened := t.truncateSection(s, remaining)
		result = append(result, kept{s, shortened})
		remaining -= t.EstimateTokens(shortened)
	}

	// Reassemble in priority order (not original document order).
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].section.Priority < result[j].section.Priority
	})

	parts := make([]string, len(result))
	for i, k := range result {
		parts[i] = k.content
	}
	return strings.Join(parts, "\n\n"), true
}

// identifySections splits text into classified sections. Lines before
// any recognized header, and content under unmatched headers, land in
// a default priority-3 "Introduction" section.
func identifySections(text string) []Section {
	lines := strings.Split(text, "\n")

	var sections []Section
	var current *Section
	var buf []string

	flush := func() {
		if current != nil {
			current.Content = strings.Join(buf, "\n")
			sections = append(sections, *current)
		}
	}

	for _, line := range lines {
		rule := matchRule(strings.TrimSpace(line))
		if rule != nil {
			flush()
			current = &Section{Name: rule.name, Priority: rule.priority, PreserveComplete: rule.preserve}
			buf = []string{line}
			continue
		}
		if current == nil {
			current = &Section{Name: "Introduction", Priority: 3}
			buf = []string{line}
			continue
		}
		buf = append(buf, line)
	}
	flush()

	return sections
}

func matchRule(line string) *sectionRule {
	for i := range sectionRules {
		if sectionRules[i].pattern.MatchString(line) {
			return &sectionRules[i]
		}
	}
	return nil
}

// truncateSection shortens one section toward targetTokens, keeping the
// first ~70% and last ~30% of its line allowance with an elision marker
// between. Fenced code blocks are lifted out before cutting so they are
// never split, then restored afterward.
func (t *Truncator) truncateSection(s Section, targetTokens int) string {
	content, blocks := extractCodeBlocks(s.Content)

	estimated := t.EstimateTokens(content)
	if estimated <= targetTokens {
		return restoreCodeBlocks(content, blocks)
	}

	lines := strings.Split(content, "\n")
	keepLines := int(float64(len(lines)) * float64(targetTokens) / float64(estimated))
	if keepLines < minKeptLines {
		keepLines = minKeptLines
		if keepLines > len(lines) {
			keepLines = len(lines)
		}
	}

	firstCount := int(float64(keepLines) * 0.7)
	lastCount := keepLines - firstCount

	var out []string
	out = append(out, lines[:firstCount]...)
	out = append(out, fmt.Sprintf("\n... [truncated %d lines] ...\n", len(lines)-keepLines))
	if lastCount > 0 {
		out = append(out, lines[len(lines)-lastCount:]...)
	}

	return restoreCodeBlocks(strings.Join(out, "\n"), blocks)
}

// extractCodeBlocks replaces fenced ``` blocks with positional
// placeholders and returns the blocks for later restoration.
func extractCodeBlocks(text string) (string, []string) {
	var blocks []string
	replaced := codeBlockPattern.ReplaceAllStringFunc(text, func(block string) string {
		blocks = append(blocks, block)
		return fmt.Sprintf("<<<CODE_BLOCK_%d>>>", len(blocks)-1)
	})
	return replaced, blocks
}

func restoreCodeBlocks(text string, blocks []string) string {
	for i, block := range blocks {
		text = strings.Replace(text, fmt.Sprintf("<<<CODE_BLOCK_%d>>>", i), block, 1)
	}
	return text
}
