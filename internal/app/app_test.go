package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportmailer/internal/config"
	"github.com/reportmailer/internal/docx/docxtest"
	"github.com/reportmailer/internal/mailer/smtptest"
	"github.com/reportmailer/internal/store"
)

const surveyID = "surv42"

// portalStub answers the portal and report service calls of one run. It
// holds a single generated report waiting to be picked up.
type portalStub struct {
	srv *httptest.Server

	mu      sync.Mutex
	report  []byte
	created int64
	deleted bool
	submits int
}

func newPortalStub(t *testing.T, recipient string) *portalStub {
	t.Helper()
	p := &portalStub{
		report:  docxtest.Build(docxtest.ReportTables(recipient)...),
		created: time.Now().Add(-time.Minute).UnixMilli(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sharing/rest/generateToken", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("password") != "secret" {
			writeJSON(w, map[string]any{"error": map[string]any{"code": 400, "message": "Unable to generate token."}})
			return
		}
		writeJSON(w, map[string]any{"token": "tok", "expires": time.Now().Add(time.Hour).UnixMilli()})
	})
	mux.HandleFunc("GET /sharing/rest/community/self", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"username": "gis_user"})
	})
	mux.HandleFunc("GET /sharing/rest/content/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": surveyID, "title": "Site inspection", "type": "Form"})
	})
	mux.HandleFunc("GET /sharing/rest/content/items/{id}/relatedItems", func(w http.ResponseWriter, r *http.Request) {
		var items []map[string]any
		switch r.FormValue("relationshipType") {
		case "Survey2Service":
			items = []map[string]any{{"id": "svc", "type": "Feature Service", "url": "https://services.example.org/site/FeatureServer"}}
		case "Survey2Data":
			items = []map[string]any{
				{"id": "tmpl0", "title": "Summary", "type": "Microsoft Word"},
				{"id": "tmpl1", "title": "Individual", "type": "Microsoft Word"},
			}
		}
		writeJSON(w, map[string]any{"relatedItems": items})
	})
	mux.HandleFunc("POST /api/featureReport/createReport/submitJob", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.submits++
		p.mu.Unlock()
		writeJSON(w, map[string]any{"success": true, "jobId": "job1"})
	})
	mux.HandleFunc("GET /api/featureReport/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"jobId":      "job1",
			"jobStatus":  "esriJobSucceeded",
			"resultInfo": map[string]any{"resultFiles": []map[string]any{{"id": "rep1", "name": "rep1.docx"}}},
		})
	})
	mux.HandleFunc("GET /sharing/rest/search", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		var results []map[string]any
		if !p.deleted {
			results = append(results, map[string]any{
				"id":          "rep1",
				"owner":       "gis_user",
				"title":       "Daily_Export",
				"name":        "Daily_Export.docx",
				"type":        "Microsoft Word",
				"description": "<p>Generated from survey " + surveyID + "</p>",
				"created":     p.created,
				"size":        len(p.report),
			})
		}
		writeJSON(w, map[string]any{"total": len(results), "start": 1, "nextStart": -1, "results": results})
	})
	mux.HandleFunc("GET /sharing/rest/content/items/{id}/data", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, _ = w.Write(p.report)
	})
	mux.HandleFunc("POST /sharing/rest/content/users/{owner}/items/{id}/delete", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.deleted = true
		p.mu.Unlock()
		writeJSON(w, map[string]any{"success": true, "itemId": r.PathValue("id")})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *portalStub) state() (submits int, deleted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits, p.deleted
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(t *testing.T, p *portalStub, mail *smtptest.Server, extra map[string]string) *config.Config {
	t.Helper()
	vars := map[string]string{
		"ARCGIS_ORG_URL":    p.srv.URL,
		"SURVEY123_API_URL": p.srv.URL + "/api/featureReport",
		"ARCGIS_USERNAME":   "gis_user",
		"ARCGIS_PASSWORD":   "secret",
		"SURVEY_ID":         surveyID,
		"OUTPUT_DIR":        "/reports",
		"SMTP_HOST":         mail.Host(),
		"SMTP_PORT":         strconv.Itoa(mail.Port()),
		"SMTP_USER":         "mailer@example.org",
		"SMTP_PASS":         "mailpass",
		"SMTP_TLS":          "none",
		"REQUEST_TIMEOUT":   "5s",
		"GENERATE_TIMEOUT":  "5s",
	}
	for k, v := range extra {
		vars[k] = v
	}
	cfg, err := config.FromEnv(func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	})
	require.NoError(t, err)
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunEndToEnd(t *testing.T) {
	p := newPortalStub(t, "jane@example.org")
	mail := smtptest.Start(t, "mailer@example.org", "mailpass")
	dir := t.TempDir()
	cfg := testConfig(t, p, mail, map[string]string{
		"LEDGER_PATH":      filepath.Join(dir, "ledger.db"),
		"METRICS_TEXTFILE": filepath.Join(dir, "metrics", "reportmailer.prom"),
	})
	fs := afero.NewMemMapFs()

	a, err := New(context.Background(), cfg, Options{FS: fs, Logger: quietLogger()})
	require.NoError(t, err)
	defer a.Close()

	sum, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Generated)
	assert.Equal(t, 1, sum.Sent)
	submits, deleted := p.state()
	assert.Equal(t, 1, submits)
	assert.True(t, deleted)

	mails := mail.Mails()
	require.Len(t, mails, 1)
	assert.Equal(t, []string{"jane@example.org"}, mails[0].To)
	assert.Contains(t, mails[0].Data, "Survey Report Attached")
	assert.Contains(t, mails[0].Data, "Content-Disposition: attachment")

	// The sent report is gone from the output directory; only the log stays.
	entries, err := afero.ReadDir(fs, "/reports")
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".docx"), e.Name())
	}
	log, err := afero.ReadFile(fs, cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(log), "DOCUMENTS SENT TO RECIPIENTS: 1")

	recs, err := store.NewLedger(a.db, fs).Deliveries(context.Background(), sum.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "jane@example.org", recs[0].Recipient)
	assert.Empty(t, recs[0].Error)

	prom, err := os.ReadFile(cfg.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "reportmailer_documents_sent 1")
}

func TestRunAbortsOnBadPortalLogin(t *testing.T) {
	p := newPortalStub(t, "jane@example.org")
	mail := smtptest.Start(t, "mailer@example.org", "mailpass")
	cfg := testConfig(t, p, mail, map[string]string{"ARCGIS_PASSWORD": "wrong"})

	a, err := New(context.Background(), cfg, Options{FS: afero.NewMemMapFs(), Logger: quietLogger()})
	require.NoError(t, err)
	defer a.Close()

	sum, err := a.Run(context.Background())
	require.Error(t, err)
	assert.NotNil(t, sum.Aborted)
	submits, _ := p.state()
	assert.Zero(t, submits)
	assert.Empty(t, mail.Mails())
}

func TestCheck(t *testing.T) {
	p := newPortalStub(t, "jane@example.org")
	mail := smtptest.Start(t, "mailer@example.org", "mailpass")
	cfg := testConfig(t, p, mail, nil)

	a, err := New(context.Background(), cfg, Options{FS: afero.NewMemMapFs(), Logger: quietLogger()})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Check(context.Background()))
	submits, _ := p.state()
	assert.Zero(t, submits)
	assert.Empty(t, mail.Mails())
	assert.Equal(t, 1, mail.Logins())
}

func TestCheckReportsSMTPLoginFailure(t *testing.T) {
	p := newPortalStub(t, "jane@example.org")
	mail := smtptest.Start(t, "mailer@example.org", "other")
	cfg := testConfig(t, p, mail, nil)

	a, err := New(context.Background(), cfg, Options{FS: afero.NewMemMapFs(), Logger: quietLogger()})
	require.NoError(t, err)
	defer a.Close()

	err = a.Check(context.Background())
	assert.ErrorContains(t, err, "check failed")
}

func TestCheckReportsMissingTemplate(t *testing.T) {
	p := newPortalStub(t, "jane@example.org")
	mail := smtptest.Start(t, "mailer@example.org", "mailpass")
	cfg := testConfig(t, p, mail, map[string]string{"REPORT_TEMPLATE_INDEX": "5"})

	a, err := New(context.Background(), cfg, Options{FS: afero.NewMemMapFs(), Logger: quietLogger()})
	require.NoError(t, err)
	defer a.Close()

	assert.Error(t, a.Check(context.Background()))
}
