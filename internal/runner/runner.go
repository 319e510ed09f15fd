// Package runner drives the daily pass: generate reports for the window,
// move them from the portal into the output directory, then mail every
// pending report to the address recorded inside it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/reportmailer/internal/mailer"
	"github.com/reportmailer/internal/portal"
	"github.com/reportmailer/internal/runlog"
)

const stampLayout = "2006-01-02 15:04:05"

// ReportStore is the remote side: the portal and its report service.
type ReportStore interface {
	Authenticate(ctx context.Context) (*portal.Session, error)
	Survey(ctx context.Context, sess *portal.Session, surveyID string) (*portal.Survey, error)
	GenerateReport(ctx context.Context, sess *portal.Session, req portal.ReportRequest) error
	ListReports(ctx context.Context, sess *portal.Session) ([]portal.Item, error)
	Download(ctx context.Context, sess *portal.Session, item portal.Item, fs afero.Fs, dir string) (portal.LocalReportFile, error)
	Delete(ctx context.Context, sess *portal.Session, item portal.Item) error
}

type RecipientFinder interface {
	Recipient(path string) (string, error)
}

type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Ledger keeps an audit trail of runs and deliveries.
type Ledger interface {
	RecordDelivery(ctx context.Context, d Delivery) error
	RecordRun(ctx context.Context, sum *Summary) error
}

// duplicateChecker is implemented by ledgers that can tell whether a
// report was mailed before.
type duplicateChecker interface {
	AlreadySent(ctx context.Context, path string) (bool, error)
}

// Recorder publishes run counters.
type Recorder interface {
	Observe(sum *Summary) error
}

type Options struct {
	SurveyID      string
	TemplateIndex int
	Where         string
	UTCOffset     string
	Title         string
	Window        time.Duration
	OutputDir     string
	Extension     string
	Subject       string
	Body          string
	// StopOnError aborts the run at the first failed item.
	StopOnError bool
}

// Deps are the collaborators of a Runner. Ledger and Metrics are optional.
type Deps struct {
	Store      ReportStore
	Recipients RecipientFinder
	Mailer     Mailer
	FS         afero.Fs
	Log        *runlog.Log
	Ledger     Ledger
	Metrics    Recorder
	Now        func() time.Time
}

type Runner struct {
	opts Options
	Deps
}

func New(opts Options, deps Deps) *Runner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	return &Runner{opts: opts, Deps: deps}
}

// Delivery is one attempt to mail a pending report.
type Delivery struct {
	RunID     string
	Path      string
	File      string
	Size      int64
	Recipient string
	At        time.Time
	Err       error
}

type Summary struct {
	RunID     string
	Window    TimeWindow
	Started   time.Time
	Finished  time.Time
	Phase     Phase
	Generated int
	Sent      int
	Failures  []error
	// Aborted is the error that ended the run early, if any.
	Aborted error
}

// Err is nil when the run completed without unresolved failures.
func (s *Summary) Err() error {
	if s.Aborted != nil {
		return s.Aborted
	}
	if len(s.Failures) == 0 {
		return nil
	}
	return fmt.Errorf("%d failure(s): %w", len(s.Failures), errors.Join(s.Failures...))
}

// Run performs one daily pass. The returned error is non-nil when the run
// was aborted or left at least one failed item behind.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	now := r.Now()
	sum := &Summary{
		RunID:   uuid.NewString(),
		Window:  NewWindow(now, r.opts.Window),
		Started: now,
		Phase:   Init,
	}
	if err := r.Log.Ensure(); err != nil {
		sum.Aborted = err
		return sum, err
	}
	r.Log.Rule()
	r.Log.Banner("STARTING REPORT GENERATION PROCESS", now.Format(stampLayout))

	err := r.reportPhases(ctx, sum)
	r.Log.Info("REPORTS GENERATED: %d", sum.Generated)
	r.Log.Banner("REPORT GENERATION PROCESS - FINISHED")
	r.Log.Blank()
	if err != nil {
		return r.abort(ctx, sum, err)
	}

	sum.Phase = ExtractAndEmail
	r.Log.Banner("STARTING EMAIL PROCESS")
	err = r.emailPhase(ctx, sum)
	r.Log.Info("DOCUMENTS SENT TO RECIPIENTS: %d", sum.Sent)
	r.Log.Banner("EMAIL PROCESS - FINISHED")
	r.Log.Blank()
	if err != nil {
		return r.abort(ctx, sum, err)
	}

	sum.Phase = Done
	r.finish(ctx, sum)
	if err := sum.Err(); err != nil {
		r.Log.Warning("run %s finished with %d failure(s)", sum.RunID, len(sum.Failures))
		return sum, err
	}
	return sum, nil
}

// reportPhases covers Init through DownloadAndCleanup. It returns an error
// only when the run must stop.
func (r *Runner) reportPhases(ctx context.Context, sum *Summary) error {
	r.Log.Info("Initialising session in portal")
	sess, err := r.Store.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	r.Log.Info("Reading Survey123 information for ID: %s", r.opts.SurveyID)
	survey, err := r.Store.Survey(ctx, sess, r.opts.SurveyID)
	if err != nil {
		return fmt.Errorf("read survey: %w", err)
	}
	tmpl, err := survey.Template(r.opts.TemplateIndex)
	if err != nil {
		return err
	}
	r.Log.Info("Selected template: %s (%s)", tmpl.Title, tmpl.ID)

	sum.Phase = GenerateReports
	r.generate(ctx, sess, survey, sum)
	if err := ctx.Err(); err != nil {
		return err
	}

	sum.Phase = ListAndFilterReports
	r.Log.Info("Listing report items owned by %s", sess.Owner)
	items, err := r.Store.ListReports(ctx, sess)
	if err != nil {
		err = fmt.Errorf("list reports: %w", err)
		r.Log.Error("%v", err)
		if r.opts.StopOnError || ctx.Err() != nil {
			return err
		}
		sum.Failures = append(sum.Failures, err)
		return nil
	}
	selected := Select(items, sum.Window, r.opts.SurveyID)
	r.Log.Info("%d of %d report item(s) belong to this run", len(selected), len(items))

	sum.Phase = DownloadAndCleanup
	return r.download(ctx, sess, selected, sum)
}

func (r *Runner) generate(ctx context.Context, sess *portal.Session, survey *portal.Survey, sum *Summary) {
	where := portal.WindowFilter(sum.Window.Start, r.opts.Where)
	r.Log.Info("Generating report(s) for submissions since %s", sum.Window.Start.Format(stampLayout))
	err := r.Store.GenerateReport(ctx, sess, portal.ReportRequest{
		Survey:        survey,
		TemplateIndex: r.opts.TemplateIndex,
		Where:         where,
		UTCOffset:     r.opts.UTCOffset,
		Title:         r.opts.Title,
	})
	switch {
	case err == nil:
	case errors.Is(err, portal.ErrTransientGeneration):
		// reports are usually produced regardless, so listing goes ahead
		r.Log.Error("%v (known Survey123 job status defect)", err)
		r.Log.Info(">> Continuing...")
	default:
		r.Log.Error("generate reports: %v", err)
		r.Log.Info(">> Continuing...")
		sum.Failures = append(sum.Failures, fmt.Errorf("generate reports: %w", err))
	}
}

func (r *Runner) download(ctx context.Context, sess *portal.Session, items []portal.Item, sum *Summary) error {
	r.Log.Info("Downloading relevant report(s) to: %s", r.opts.OutputDir)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.Log.Info("Report desc: %s", item.DescriptionText())

		f, err := r.Store.Download(ctx, sess, item, r.FS, r.opts.OutputDir)
		if err != nil {
			err = fmt.Errorf("download %s: %w", item.ID, err)
			r.Log.Error("%v", err)
			if r.opts.StopOnError {
				return err
			}
			sum.Failures = append(sum.Failures, err)
			continue
		}
		sum.Generated++
		r.Log.Info("Downloaded %s (%s)", f.Name, humanize.Bytes(uint64(f.Size)))

		switch err := r.Store.Delete(ctx, sess, item); {
		case err == nil:
			r.Log.Info("Deleted item %s from portal", item.ID)
		case errors.Is(err, portal.ErrNotFound):
			r.Log.Warning("item %s was already gone from portal", item.ID)
		default:
			// the file is safe locally; a stray portal item is picked up again only while still in the window
			err = fmt.Errorf("delete %s: %w", item.ID, err)
			r.Log.Error("%v", err)
			if r.opts.StopOnError {
				return err
			}
			sum.Failures = append(sum.Failures, err)
		}
	}
	return nil
}

func (r *Runner) emailPhase(ctx context.Context, sum *Summary) error {
	r.Log.Info("Getting list of %s files in: %s", r.opts.Extension, r.opts.OutputDir)
	files, err := Pending(r.FS, r.opts.OutputDir, r.opts.Extension)
	if err != nil {
		return err
	}
	r.Log.Info("Files:")
	for _, f := range files {
		r.Log.Info("%s", f.Path)
	}

	r.Log.Info("Reading raw table data from Word document(s)")
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.deliver(ctx, sum, f)
		if err == nil {
			continue
		}
		if r.opts.StopOnError {
			return err
		}
		sum.Failures = append(sum.Failures, err)
	}
	return nil
}

// deliver mails one pending file and removes it once sent. A file that
// fails stays in place for the next run.
func (r *Runner) deliver(ctx context.Context, sum *Summary, f portal.LocalReportFile) error {
	d := Delivery{RunID: sum.RunID, Path: f.Path, File: f.Name, Size: f.Size, At: r.Now()}

	to, err := r.Recipients.Recipient(f.Path)
	if err != nil {
		d.Err = fmt.Errorf("%s: %w", f.Name, err)
		r.Log.Error("Unable to read recipient from %s: %v", f.Name, err)
		r.record(ctx, d)
		return d.Err
	}
	d.Recipient = to
	if dc, ok := r.Ledger.(duplicateChecker); ok {
		if sent, err := dc.AlreadySent(ctx, f.Path); err != nil {
			r.Log.Warning("ledger: %v", err)
		} else if sent {
			r.Log.Warning("%s was already mailed in an earlier run, sending again", f.Name)
		}
	}
	r.Log.Info("Sending email with attachment to recipient: %s", to)

	values := mailer.ReportValues(d.At, f.Name)
	err = r.Mailer.Send(ctx, mailer.Message{
		To:             to,
		Subject:        mailer.RenderTemplate(r.opts.Subject, values),
		Body:           mailer.RenderTemplate(r.opts.Body, values),
		AttachmentPath: f.Path,
	})
	if err != nil {
		d.Err = fmt.Errorf("%s: %w", f.Name, err)
		r.Log.Error("Unable to send the email. Error: %v", err)
		r.record(ctx, d)
		return d.Err
	}
	sum.Sent++

	// the ledger hashes the attachment, so record before removing it
	r.record(ctx, d)
	if err := r.FS.Remove(f.Path); err != nil {
		r.Log.Error("Email sent but %s could not be removed: %v", f.Name, err)
		return fmt.Errorf("%s: sent but not removed: %w", f.Name, err)
	}
	r.Log.Info("Email sent to recipient and removed file from download location.")
	return nil
}

func (r *Runner) record(ctx context.Context, d Delivery) {
	if r.Ledger == nil {
		return
	}
	if err := r.Ledger.RecordDelivery(ctx, d); err != nil {
		r.Log.Warning("ledger: %v", err)
	}
}

func (r *Runner) abort(ctx context.Context, sum *Summary, err error) (*Summary, error) {
	sum.Aborted = fmt.Errorf("run aborted in %s: %w", sum.Phase, err)
	r.Log.Error("%v", sum.Aborted)
	r.finish(ctx, sum)
	return sum, sum.Aborted
}

// finish publishes the summary. It runs even when ctx is already cancelled.
func (r *Runner) finish(ctx context.Context, sum *Summary) {
	sum.Finished = r.Now()
	ctx = context.WithoutCancel(ctx)
	if r.Ledger != nil {
		if err := r.Ledger.RecordRun(ctx, sum); err != nil {
			r.Log.Warning("ledger: %v", err)
		}
	}
	if r.Metrics != nil {
		if err := r.Metrics.Observe(sum); err != nil {
			r.Log.Warning("metrics: %v", err)
		}
	}
}
