package portal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/afero"
)

const (
	searchPageSize = 100
	maxSearchPages = 50
	partSuffix     = ".part"
)

func (it Item) CreatedAt() time.Time {
	return millis(it.Created)
}

// DescriptionText is the item description with its HTML markup removed.
func (it Item) DescriptionText() string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(it.Description))
	if err != nil {
		return it.Description
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// ReportQuery is the search that finds Word report items of an owner.
func ReportQuery(owner string) string {
	return fmt.Sprintf(`owner:"%s" AND type:"%s" AND tags:"Survey 123"`, owner, wordType)
}

// ListReports returns every Word report item owned by the session owner,
// newest first.
func (c *Client) ListReports(ctx context.Context, sess *Session) ([]Item, error) {
	var items []Item
	start := 1
	for page := 0; page < maxSearchPages; page++ {
		q := url.Values{
			"q":         {ReportQuery(sess.Owner)},
			"num":       {strconv.Itoa(searchPageSize)},
			"start":     {strconv.Itoa(start)},
			"sortField": {"created"},
			"sortOrder": {"desc"},
			"token":     {sess.Token},
		}
		var resp struct {
			Total     int    `json:"total"`
			NextStart int    `json:"nextStart"`
			Results   []Item `json:"results"`
		}
		if err := c.get(ctx, c.rest("search"), q, &resp); err != nil {
			return nil, fmt.Errorf("search reports: %w", err)
		}
		items = append(items, resp.Results...)
		if resp.NextStart <= 0 || resp.NextStart <= start || len(resp.Results) == 0 {
			return items, nil
		}
		start = resp.NextStart
	}
	// Newest first, so everything inside the window has been seen by now.
	slog.Warn("portal: report search truncated", "pages", maxSearchPages, "items", len(items))
	return items, nil
}

// LocalReportFile is a report waiting in the output directory.
type LocalReportFile struct {
	Path string
	Name string
	Size int64
}

// Download writes the item's data into dir. The bytes go to a .part file
// that is renamed into place once complete, and an existing file of the
// same name is never overwritten.
func (c *Client) Download(ctx context.Context, sess *Session, item Item, fs afero.Fs, dir string) (LocalReportFile, error) {
	endpoint := c.rest("content/items/"+url.PathEscape(item.ID)+"/data") + "?" + url.Values{"token": {sess.Token}}.Encode()
	data, err := c.fetch(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return LocalReportFile{}, fmt.Errorf("%w: item %s: %w", ErrDownload, item.ID, err)
	}
	if apiErr := envelope(data); apiErr != nil {
		return LocalReportFile{}, fmt.Errorf("%w: item %s: %w", ErrDownload, item.ID, apiErr)
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return LocalReportFile{}, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	name, err := freeName(fs, dir, fileName(item))
	if err != nil {
		return LocalReportFile{}, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	dst := filepath.Join(dir, name)
	tmp := dst + partSuffix
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		_ = fs.Remove(tmp)
		return LocalReportFile{}, fmt.Errorf("%w: write %s: %w", ErrDownload, tmp, err)
	}
	if err := fs.Rename(tmp, dst); err != nil {
		_ = fs.Remove(tmp)
		return LocalReportFile{}, fmt.Errorf("%w: rename %s: %w", ErrDownload, tmp, err)
	}
	return LocalReportFile{Path: dst, Name: name, Size: int64(len(data))}, nil
}

// Delete removes the item from the portal. A missing item matches
// ErrNotFound.
func (c *Client) Delete(ctx context.Context, sess *Session, item Item) error {
	owner := item.Owner
	if owner == "" {
		owner = sess.Owner
	}
	endpoint := c.rest("content/users/" + url.PathEscape(owner) + "/items/" + url.PathEscape(item.ID) + "/delete")
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, endpoint, url.Values{"token": {sess.Token}}, &resp); err != nil {
		return fmt.Errorf("delete item %s: %w", item.ID, err)
	}
	if !resp.Success {
		return fmt.Errorf("delete item %s: not confirmed", item.ID)
	}
	return nil
}

func fileName(item Item) string {
	name := path.Base(strings.ReplaceAll(item.Name, `\`, "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		name = item.ID
	}
	if path.Ext(name) == "" {
		name += ".docx"
	}
	return name
}

func freeName(fs afero.Fs, dir, name string) (string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		ok, err := afero.Exists(fs, filepath.Join(dir, candidate))
		if err != nil {
			return "", err
		}
		if !ok {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}
