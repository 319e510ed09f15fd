package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Authenticate obtains a token with app credentials when a client id is
// configured, otherwise with the named user's password, then resolves the
// identity behind it.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	var (
		sess *Session
		err  error
	)
	if c.opts.ClientID != "" {
		sess, err = c.appToken(ctx)
	} else {
		sess, err = c.userToken(ctx)
	}
	if err != nil {
		return nil, authErr(err)
	}

	var self struct {
		Username string `json:"username"`
	}
	if err := c.get(ctx, c.rest("community/self"), url.Values{"token": {sess.Token}}, &self); err != nil {
		return nil, authErr(fmt.Errorf("resolve identity: %w", err))
	}
	if self.Username != "" {
		sess.Username = self.Username
	}

	sess.Owner = c.opts.Owner
	if sess.Owner == "" {
		sess.Owner = sess.Username
	}
	if sess.Owner == "" {
		return nil, fmt.Errorf("%w: no owner for report items", ErrAuth)
	}
	return sess, nil
}

func (c *Client) userToken(ctx context.Context) (*Session, error) {
	form := url.Values{
		"username":   {c.opts.Username},
		"password":   {c.opts.Password},
		"client":     {"referer"},
		"referer":    {c.opts.OrgURL},
		"expiration": {strconv.Itoa(tokenMinutes)},
	}
	var resp struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	if err := c.post(ctx, c.rest("generateToken"), form, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, errors.New("generateToken returned no token")
	}
	sess := &Session{Token: resp.Token, Username: c.opts.Username}
	if resp.Expires > 0 {
		sess.Expires = millis(resp.Expires)
	}
	return sess, nil
}

func (c *Client) appToken(ctx context.Context) (*Session, error) {
	cfg := clientcredentials.Config{
		ClientID:     c.opts.ClientID,
		ClientSecret: c.opts.ClientSecret,
		TokenURL:     c.rest("oauth2/token"),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("client credentials: %w", err)
	}
	sess := &Session{Token: tok.AccessToken, Expires: tok.Expiry}
	if sess.Expires.IsZero() {
		sess.Expires = time.Now().Add(tokenMinutes * time.Minute)
	}
	return sess, nil
}

func authErr(err error) error {
	if errors.Is(err, ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAuth, err)
}
