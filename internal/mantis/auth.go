package mantis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const loginPage = "login_page.php"

// ErrAuthFailed is returned when the two-step login sequence ends back on
// the login page. The session client does not retry it: only network-level
// failures are retried, a rejected login is terminal.
var ErrAuthFailed = errors.New("mantis auth failed")

// Login performs the two-step form login the tracker uses: fetch the login
// page, post the username through the parsed form, then post the password
// through the follow-up form. Hidden inputs (session/anti-CSRF tokens) are
// carried forward unmodified at each step.
//
// Success criterion: the final resolved request path does not contain the
// login page's filename. If the remote form field names or action paths
// ever change, this check is where the breakage surfaces.
func (c *Client) Login(ctx context.Context, username, password string) error {
	c.logger.Debug().Msg("Auth step 1: fetch login page")
	res, err := c.Get(ctx, "/"+loginPage, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch login page: %w", err)
	}

	action, fields, err := parseLoginForm(res.Body, "login_password_page.php")
	if err != nil {
		return fmt.Errorf("failed to parse login form: %w", err)
	}
	fields.Set("username", username)

	c.logger.Debug().Str("action", action).Msg("Auth step 2: post username")
	res, err = c.PostForm(ctx, "/"+action, fields)
	if err != nil {
		return fmt.Errorf("failed to submit username: %w", err)
	}

	action, fields, err = parseLoginForm(res.Body, "login.php")
	if err != nil {
		return fmt.Errorf("failed to parse password form: %w", err)
	}
	fields.Set("password", password)

	c.logger.Debug().Str("action", action).Msg("Auth step 3: post password")
	res, err = c.PostForm(ctx, "/"+action, fields)
	if err != nil {
		return fmt.Errorf("failed to submit password: %w", err)
	}

	if strings.Contains(res.FinalURL.Path, loginPage) {
		return fmt.Errorf("%w: redirected back to login page", ErrAuthFailed)
	}

	c.logger.Debug().Msg("Auth success")
	return nil
}

// parseLoginForm extracts the form action and all input name/value pairs
// from a login step page. Missing action falls back to the next expected
// step's filename, matching how the tracker's older themes behave.
func parseLoginForm(body, defaultAction string) (string, url.Values, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", nil, err
	}

	action := strings.TrimSpace(doc.Find("form").First().AttrOr("action", ""))
	if action == "" {
		action = defaultAction
	}
	action = strings.TrimPrefix(action, "/")

	fields := url.Values{}
	doc.Find("form input").Each(func(_ int, input *goquery.Selection) {
		name, ok := input.Attr("name")
		if !ok || name == "" {
			return
		}
		fields.Set(name, input.AttrOr("value", ""))
	})

	return action, fields, nil
}
