package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	jobSucceeded = "esriJobSucceeded"
	jobFailed    = "esriJobFailed"
	jobCancelled = "esriJobCancelled"
	jobTimedOut  = "esriJobTimedOut"
)

var ErrGenerateTimeout = errors.New("portal: report generation timed out")

type ReportRequest struct {
	Survey        *Survey
	TemplateIndex int
	// Where selects the submissions to render.
	Where     string
	UTCOffset string
	Title     string
}

// WindowFilter selects submissions created at or after start. Feature
// services store dates in UTC, so start is rendered in UTC. A non-empty
// extra clause is ANDed on.
func WindowFilter(start time.Time, extra string) string {
	where := fmt.Sprintf("CreationDate >= timestamp '%s'", start.UTC().Format(time.DateTime))
	if extra = strings.TrimSpace(extra); extra != "" {
		where += " AND (" + extra + ")"
	}
	return where
}

type jobStatus struct {
	JobID      string `json:"jobId"`
	JobStatus  string `json:"jobStatus"`
	ResultInfo *struct {
		ResultFiles []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"resultFiles"`
	} `json:"resultInfo"`
	Messages []struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"messages"`
}

func (s *jobStatus) describe() string {
	var parts []string
	for _, m := range s.Messages {
		if m.Description != "" {
			parts = append(parts, m.Description)
		}
	}
	if len(parts) == 0 {
		return s.JobStatus
	}
	return s.JobStatus + ": " + strings.Join(parts, "; ")
}

// GenerateReport submits a report job and waits for it to finish. The
// rendered reports land in the owner's content; nothing is returned.
func (c *Client) GenerateReport(ctx context.Context, sess *Session, req ReportRequest) error {
	tmpl, err := req.Survey.Template(req.TemplateIndex)
	if err != nil {
		return err
	}
	query, err := json.Marshal(map[string]string{"where": req.Where})
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}
	form := url.Values{
		"featureLayerUrl":  {req.Survey.LayerURL()},
		"queryParameters":  {string(query)},
		"templateItemId":   {tmpl.ID},
		"surveyItemId":     {req.Survey.ID},
		"outputFormat":     {"docx"},
		"outputReportName": {req.Title},
		"utcOffset":        {req.UTCOffset},
		"portalUrl":        {c.opts.OrgURL},
		"token":            {sess.Token},
	}
	var submit struct {
		Success bool   `json:"success"`
		JobID   string `json:"jobId"`
	}
	if err := c.post(ctx, c.opts.ReportAPIURL+"/createReport/submitJob", form, &submit); err != nil {
		return fmt.Errorf("submit report job: %w", err)
	}
	if submit.JobID == "" {
		return errors.New("submit report job: no job id returned")
	}
	slog.Debug("portal: report job submitted", "job", submit.JobID, "template", tmpl.Title)

	return c.waitJob(ctx, sess, submit.JobID)
}

// waitJob polls the job until it leaves the running states or
// GenerateTimeout passes.
func (c *Client) waitJob(ctx context.Context, sess *Session, jobID string) error {
	if c.opts.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.GenerateTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	endpoint := c.opts.ReportAPIURL + "/jobs/" + url.PathEscape(jobID)
	for {
		var st jobStatus
		err := c.get(ctx, endpoint, url.Values{"token": {sess.Token}}, &st)
		switch {
		case err != nil && ctx.Err() != nil:
			return c.jobContextErr(ctx, jobID)
		case err != nil:
			return fmt.Errorf("report job %s status: %w", jobID, err)
		}

		switch st.JobStatus {
		case jobSucceeded:
			if st.ResultInfo == nil {
				return &TransientGenerationError{JobID: jobID, Cause: errors.New("job status has no result section")}
			}
			slog.Debug("portal: report job finished", "job", jobID, "files", len(st.ResultInfo.ResultFiles))
			return nil
		case jobFailed, jobCancelled, jobTimedOut:
			return fmt.Errorf("report job %s: %s", jobID, st.describe())
		case "":
			return &TransientGenerationError{JobID: jobID, Cause: errors.New("job status is empty")}
		}

		select {
		case <-ctx.Done():
			return c.jobContextErr(ctx, jobID)
		case <-ticker.C:
		}
	}
}

func (c *Client) jobContextErr(ctx context.Context, jobID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: job %s after %s", ErrGenerateTimeout, jobID, c.opts.GenerateTimeout)
	}
	return ctx.Err()
}
