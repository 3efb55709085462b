package czech

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/visawatch/visawatch/internal/monitor"
)

// statusKeyword maps a phrase found on the result page to a normalized status.
// Order matters: multi-word phrases come before the shorter ones they contain.
type statusKeyword struct {
	phrase string
	status monitor.ApplicationStatus
}

var statusKeywords = []statusKeyword{
	// Czech
	{"nebyla nalezena", monitor.StatusNotFound},
	{"nenalezeno", monitor.StatusNotFound},
	{"posuzuje", monitor.StatusUnderReview},
	{"zpracovává", monitor.StatusProcessing},
	{"v řízení", monitor.StatusProcessing},
	{"schváleno", monitor.StatusApproved},
	{"schválena", monitor.StatusApproved},
	{"vyhověno", monitor.StatusApproved},
	{"zamítnuto", monitor.StatusRejected},
	{"zamítnuta", monitor.StatusRejected},
	{"k vyzvednutí", monitor.StatusReadyForPickup},
	{"připraven", monitor.StatusReadyForPickup},
	{"vydáno", monitor.StatusIssued},
	{"vydán", monitor.StatusIssued},
	{"pozastaveno", monitor.StatusSuspended},
	{"přerušeno", monitor.StatusSuspended},

	// English
	{"not found", monitor.StatusNotFound},
	{"under review", monitor.StatusUnderReview},
	{"being reviewed", monitor.StatusUnderReview},
	{"ready for pickup", monitor.StatusReadyForPickup},
	{"ready for collection", monitor.StatusReadyForPickup},
	{"in progress", monitor.StatusProcessing},
	{"being processed", monitor.StatusProcessing},
	{"processing", monitor.StatusProcessing},
	{"approved", monitor.StatusApproved},
	{"granted", monitor.StatusApproved},
	{"rejected", monitor.StatusRejected},
	{"denied", monitor.StatusRejected},
	{"refused", monitor.StatusRejected},
	{"issued", monitor.StatusIssued},
	{"suspended", monitor.StatusSuspended},
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,2}\.\d{1,2}\.\d{4}`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),
}

// extractForm finds the first form on the query page and fills it in. Hidden
// inputs (CSRF tokens, view state) are carried through untouched. The visible
// code field is located by name; an unnamed form falls back to the field the
// ministry site has used historically.
func (p *Plugin) extractForm(page []byte, pageURL string, code string, queryType string) (*queryForm, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, false
	}

	formSel := doc.Find("form").First()
	if formSel.Length() == 0 {
		return nil, false
	}

	action, _ := formSel.Attr("action")
	resolved, ok := resolveAction(pageURL, action)
	if !ok {
		return nil, false
	}

	form := &queryForm{
		Action: resolved,
		Method: "POST",
		Fields: make(map[string]string),
	}

	formSel.Find("input[type=hidden]").Each(func(_ int, s *goquery.Selection) {
		name, exists := s.Attr("name")
		if !exists || name == "" {
			return
		}
		value, _ := s.Attr("value")
		form.Fields[name] = value
	})

	codeField := ""
	formSel.Find("input[type=text], input[type=search], input:not([type])").Each(func(_ int, s *goquery.Selection) {
		if codeField != "" {
			return
		}
		name, exists := s.Attr("name")
		if !exists || name == "" {
			return
		}
		lower := strings.ToLower(name)
		if strings.Contains(lower, "number") || strings.Contains(lower, "code") || strings.Contains(lower, "reference") {
			codeField = name
		}
	})
	if codeField == "" {
		codeField = "application_number"
	}
	form.Fields[codeField] = code

	formSel.Find("select").Each(func(_ int, s *goquery.Selection) {
		name, exists := s.Attr("name")
		if !exists || !strings.Contains(strings.ToLower(name), "type") {
			return
		}
		form.Fields[name] = queryType
	})

	return form, true
}

func resolveAction(pageURL string, action string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	if action == "" {
		return base.String(), true
	}
	ref, err := url.Parse(action)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

// parseResponse reads the submitted query's response page into a result. A
// page that yields no text at all is an error; text with no recognized phrase
// maps to StatusUnknown.
func (p *Plugin) parseResponse(body []byte) monitor.QueryResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return monitor.QueryResult{
			Kind:        monitor.OutcomeError,
			Err:         "response parse failed: " + err.Error(),
			CompletedAt: p.clock.Now(),
		}
	}

	doc.Find("script, style").Remove()
	text := normalizeSpace(doc.Find("body").Text())
	if text == "" {
		text = normalizeSpace(doc.Text())
	}
	if text == "" {
		return monitor.QueryResult{
			Kind:        monitor.OutcomeError,
			Err:         "response page contained no text",
			CompletedAt: p.clock.Now(),
		}
	}

	lower := strings.ToLower(text)
	status := monitor.StatusUnknown
	details := ""
	for _, kw := range statusKeywords {
		idx := strings.Index(lower, kw.phrase)
		if idx < 0 {
			continue
		}
		status = kw.status
		details = surroundingText(text, idx, len(kw.phrase))
		break
	}

	return monitor.QueryResult{
		Kind:        monitor.OutcomeSuccess,
		Status:      status,
		Details:     details,
		LastUpdate:  extractDate(text),
		RawExcerpt:  truncate(text, rawExcerptLimit),
		CompletedAt: p.clock.Now(),
	}
}

// surroundingText returns a bounded window of context around a keyword match.
func surroundingText(text string, idx int, matchLen int) string {
	start := idx - 80
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + 80
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}

func extractDate(text string) string {
	for _, pattern := range datePatterns {
		if m := pattern.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

var spaceRun = regexp.MustCompile(`\s+`)

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
