package portal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const wordType = "Microsoft Word"

// Item is the subset of a portal item the pipeline reads.
type Item struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Title       string `json:"title"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Created     int64  `json:"created"`
	Size        int64  `json:"size"`
}

// Survey is a Survey123 form with its feature service and report templates.
type Survey struct {
	ID         string
	Title      string
	ServiceURL string
	Templates  []Item
}

// LayerURL is the survey's main layer, the one reports render from.
func (s *Survey) LayerURL() string {
	return strings.TrimRight(s.ServiceURL, "/") + "/0"
}

// Template returns the report template at index.
func (s *Survey) Template(index int) (Item, error) {
	if index < 0 || index >= len(s.Templates) {
		return Item{}, fmt.Errorf("%w: index %d, survey %s has %d templates",
			ErrTemplateNotFound, index, s.ID, len(s.Templates))
	}
	return s.Templates[index], nil
}

func (c *Client) Survey(ctx context.Context, sess *Session, surveyID string) (*Survey, error) {
	var form Item
	if err := c.get(ctx, c.rest("content/items/"+url.PathEscape(surveyID)), url.Values{"token": {sess.Token}}, &form); err != nil {
		return nil, fmt.Errorf("read survey %s: %w", surveyID, err)
	}

	services, err := c.related(ctx, sess, surveyID, "Survey2Service")
	if err != nil {
		return nil, err
	}
	if len(services) == 0 || services[0].URL == "" {
		return nil, fmt.Errorf("survey %s has no feature service: %w", surveyID, ErrNotFound)
	}

	data, err := c.related(ctx, sess, surveyID, "Survey2Data")
	if err != nil {
		return nil, err
	}
	s := &Survey{ID: surveyID, Title: form.Title, ServiceURL: services[0].URL}
	for _, it := range data {
		if it.Type == wordType {
			s.Templates = append(s.Templates, it)
		}
	}
	return s, nil
}

func (c *Client) related(ctx context.Context, sess *Session, id, relationship string) ([]Item, error) {
	q := url.Values{
		"relationshipType": {relationship},
		"direction":        {"forward"},
		"token":            {sess.Token},
	}
	var resp struct {
		RelatedItems []Item `json:"relatedItems"`
	}
	if err := c.get(ctx, c.rest("content/items/"+url.PathEscape(id)+"/relatedItems"), q, &resp); err != nil {
		return nil, fmt.Errorf("related items %s of %s: %w", relationship, id, err)
	}
	return resp.RelatedItems, nil
}
