package browser

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrWaitTimeout is returned by WaitForAny when no condition held in time.
var ErrWaitTimeout = errors.New("browser: wait timed out")

// pollInterval is how often WaitForAny re-evaluates its conditions.
var pollInterval = 250 * time.Millisecond

// Condition is one thing WaitForAny can wait for.
type Condition struct {
	Name  string
	Check func(ctx context.Context, p Page) (bool, error)
}

// SelectorPresent holds once selector matches an element.
func SelectorPresent(selector string) Condition {
	return Condition{
		Name: "selector " + selector,
		Check: func(ctx context.Context, p Page) (bool, error) {
			return p.Has(ctx, selector)
		},
	}
}

// URLContains holds once the page URL contains any of fragments.
func URLContains(fragments ...string) Condition {
	return Condition{
		Name: "url contains " + strings.Join(fragments, "|"),
		Check: func(ctx context.Context, p Page) (bool, error) {
			u, err := p.URL(ctx)
			if err != nil {
				return false, err
			}
			for _, f := range fragments {
				if strings.Contains(u, f) {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

// URLExcludes holds once the page URL contains none of fragments.
func URLExcludes(fragments ...string) Condition {
	return Condition{
		Name: "url excludes " + strings.Join(fragments, "|"),
		Check: func(ctx context.Context, p Page) (bool, error) {
			u, err := p.URL(ctx)
			if err != nil {
				return false, err
			}
			for _, f := range fragments {
				if strings.Contains(u, f) {
					return false, nil
				}
			}
			return true, nil
		},
	}
}

// URLChangedFrom holds once the page URL differs from before.
func URLChangedFrom(before string) Condition {
	return Condition{
		Name: "url changed",
		Check: func(ctx context.Context, p Page) (bool, error) {
			u, err := p.URL(ctx)
			if err != nil {
				return false, err
			}
			return u != before, nil
		},
	}
}

// WaitForAny polls conds until one holds and returns its Name. It returns
// ErrWaitTimeout after timeout, ctx.Err() when ctx ends first, and the
// check error as soon as a check reports a closed session. Other check
// errors are treated as "not yet", since pages re-render mid-navigation.
func WaitForAny(ctx context.Context, p Page, timeout time.Duration, conds ...Condition) (string, error) {
	if len(conds) == 0 {
		return "", errors.New("browser: WaitForAny needs at least one condition")
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for _, c := range conds {
			ok, err := c.Check(ctx, p)
			if err != nil && IsSessionClosed(err) {
				return "", err
			}
			if err == nil && ok {
				return c.Name, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", ErrWaitTimeout
		case <-ticker.C:
		}
	}
}
