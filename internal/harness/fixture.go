package harness

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/roach88/pageharness/internal/browser"
)

// FixtureURL returns the file:// URL of path with an optional routing
// fragment. A leading "#" on fragment is accepted.
func FixtureURL(path, fragment string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve fixture %s: %w", path, err)
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	u := url.URL{Scheme: "file", Path: p}
	u.Fragment = strings.TrimPrefix(fragment, "#")
	return u.String(), nil
}

// Navigate loads the fixture at fixturePath and returns once the page's load
// event fired.
func Navigate(ctx context.Context, page browser.Page, fixturePath, fragment string) error {
	target, err := FixtureURL(fixturePath, fragment)
	if err != nil {
		return err
	}
	return page.Navigate(ctx, target)
}

// AnchorError reports a fixture that lacks a node a scenario depends on.
type AnchorError struct {
	Fixture  string
	Selector string
}

func (e *AnchorError) Error() string {
	return fmt.Sprintf("fixture %s has no node matching %q", e.Fixture, e.Selector)
}

// CheckFixtureAnchors parses the static fixture and verifies every selector
// matches at least one node. Nodes created by scripts are not visible here.
func CheckFixtureAnchors(path string, selectors []string) error {
	if len(selectors) == 0 {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return fmt.Errorf("parse fixture %s: %w", path, err)
	}

	for _, sel := range selectors {
		if doc.Find(sel).Length() == 0 {
			return &AnchorError{Fixture: path, Selector: sel}
		}
	}
	return nil
}
