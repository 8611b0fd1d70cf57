package ptt

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
)

// Age-gate markers: redirect target or the consent button text.
const (
	ageGatePath   = "ask/over18"
	ageGateButton = "我同意，我已年滿十八歲"
)

var prevPageRe = regexp.MustCompile(`/index(\d+)\.html`)

// isAgeGated reports whether the returned document is the interstitial
// consent page rather than the board listing.
func isAgeGated(body []byte) bool {
	return bytes.Contains(body, []byte(ageGatePath)) || bytes.Contains(body, []byte(ageGateButton))
}

// listingPage is the parsed form of one board index page.
type listingPage struct {
	Entries []domain.Entry
	// PrevIndex is the page number of the older listing page reachable
	// through the「‹ 上頁」link, 0 when absent.
	PrevIndex int
}

// parseListing extracts entries from a board index page. Rows without a title
// link are deleted posts and are skipped silently.
func parseListing(body []byte, board, baseURL string) (listingPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return listingPage{}, fmt.Errorf("parse listing html: %w", err)
	}

	var page listingPage
	doc.Find("div.r-ent").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("div.title a").First()
		if link.Length() == 0 {
			return
		}
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		page.Entries = append(page.Entries, domain.Entry{
			Title:  strings.TrimSpace(link.Text()),
			Author: fieldOrUnknown(row.Find("div.author").First().Text()),
			Date:   fieldOrUnknown(row.Find("div.date").First().Text()),
			Link:   absoluteLink(href, baseURL),
			Board:  board,
		})
	})

	doc.Find("a.btn.wide").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.Contains(sel.Text(), "上頁") {
			return true
		}
		if href, ok := sel.Attr("href"); ok {
			if m := prevPageRe.FindStringSubmatch(href); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					page.PrevIndex = n
				}
			}
		}
		return false
	})

	return page, nil
}

func fieldOrUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Unknown"
	}
	return s
}

func absoluteLink(href, baseURL string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimRight(baseURL, "/") + href
}

// matchesKeywords keeps a title when the keyword set is empty or any keyword
// is a case-insensitive substring of it.
func matchesKeywords(title string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(title)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
