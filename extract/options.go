package extract

import (
	"context"
	"strings"

	"github.com/use-agent/affsync/browser"
)

// MatchOption returns the index of the option whose text equals target,
// else the shortest text containing it, else -1. The shortest match is the
// innermost element when a selector also matches containers.
func MatchOption(texts []string, target string) int {
	target = strings.TrimSpace(target)
	if target == "" {
		return -1
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == target {
			return i
		}
	}
	best := -1
	for i, t := range texts {
		if strings.Contains(t, target) && (best < 0 || len(t) < len(texts[best])) {
			best = i
		}
	}
	return best
}

// ClickOptionByText clicks the element under optionSelector whose rendered
// text matches target (see MatchOption). It returns false, nil when no
// option matches.
func ClickOptionByText(ctx context.Context, page browser.Page, optionSelector, target string) (bool, error) {
	texts, err := page.Texts(ctx, optionSelector)
	if err != nil {
		return false, err
	}
	idx := MatchOption(texts, target)
	if idx < 0 {
		return false, nil
	}
	if err := page.ClickNth(ctx, optionSelector, idx); err != nil {
		return false, err
	}
	return true, nil
}
