package telegram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
)

const (
	// MaxMessageLength is the platform's hard cap on one message text.
	MaxMessageLength = 4096
	// maxEntriesPerMessage keeps individual messages scannable.
	maxEntriesPerMessage = 5

	continuationMark = "(續)"
)

func batchHeader(board string, count int) string {
	return fmt.Sprintf("📋 **%s** 看板最新文章 (%d 篇)\n\n", board, count)
}

func continuationHeader(board string) string {
	return fmt.Sprintf("📋 **%s** 看板最新文章 %s\n\n", board, continuationMark)
}

func renderEntry(position int, e domain.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. **%s**\n", position, e.Title)
	fmt.Fprintf(&b, "   👤 %s | 📅 %s\n", e.Author, e.Date)
	fmt.Fprintf(&b, "   🔗 %s\n\n", e.Link)
	return b.String()
}

// BuildMessages renders entries into ordered message texts.
//
// Entries are greedily packed: a batch closes when the next entry would push
// the text past MaxMessageLength or past the per-message entry cap. Every
// entry lands in exactly one batch, in the original order. An entry whose own
// rendered block cannot fit a fresh message is hard-split on line boundaries.
func BuildMessages(entries []domain.Entry, board string) []string {
	if len(entries) == 0 {
		return nil
	}

	cont := continuationHeader(board)
	var messages []string
	current := batchHeader(board, len(entries))
	count := 0

	flush := func() {
		if count > 0 {
			messages = append(messages, strings.TrimSpace(current))
		}
		current = cont
		count = 0
	}

	for i, e := range entries {
		block := renderEntry(i+1, e)

		// A block too large for even an empty continuation message gets
		// split into line-bounded chunks forming whole messages.
		if utf8.RuneCountInString(cont)+utf8.RuneCountInString(block) > MaxMessageLength {
			flush()
			for _, chunk := range splitByLines(strings.TrimSpace(cont+block), MaxMessageLength) {
				messages = append(messages, chunk)
			}
			continue
		}

		if count >= maxEntriesPerMessage ||
			utf8.RuneCountInString(current)+utf8.RuneCountInString(block) > MaxMessageLength {
			flush()
		}
		current += block
		count++
	}
	flush()

	return messages
}

// splitByLines cuts text into chunks of at most limit runes, preferring the
// last newline before the limit and falling back to a hard cut. Every chunk
// except the final one is suffixed with the continuation mark.
func splitByLines(text string, limit int) []string {
	suffix := "\n" + continuationMark
	budget := limit - utf8.RuneCountInString(suffix)

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut := runeIndex(text, budget)
		head := text[:cut]
		if nl := strings.LastIndexByte(head, '\n'); nl > 0 {
			cut = nl
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n")+suffix)
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// runeIndex returns the byte offset of the n-th rune in s.
func runeIndex(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
