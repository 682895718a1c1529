// Package ingest runs batches of IP SLA reports through the extractor and
// the store merge. A batch loads the persisted collection once, merges every
// input in order and persists once; inputs are removed only after that
// persist has succeeded.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vesaa/ipslamon/internal/metrics"
	"github.com/vesaa/ipslamon/internal/models"
	"github.com/vesaa/ipslamon/internal/parser"
	"github.com/vesaa/ipslamon/internal/store"
)

// Repository is the persisted collection.
type Repository interface {
	Load(ctx context.Context) (store.Collection, error)
	Sync(ctx context.Context, coll store.Collection) error
}

// Status is the outcome of one input.
type Status string

const (
	StatusAccepted  Status = "accepted"  // at least one record added or replaced
	StatusDuplicate Status = "duplicate" // parsed cleanly, nothing new
	StatusFailed    Status = "failed"    // no record could be extracted
	StatusPartial   Status = "partial"   // some blocks rejected, the rest merged
)

// FileOutcome reports what happened to one input.
type FileOutcome struct {
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	Extracted  int      `json:"extracted"`
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Conflicts  int      `json:"conflicts"`
	Replaced   int      `json:"replaced"`
	Errors     []string `json:"errors,omitempty"`
	Deleted    bool     `json:"deleted"`

	failures []*parser.ParseFailure
	readErr  bool
}

// Clean reports whether every block of the input was extracted.
func (o FileOutcome) Clean() bool {
	return o.Status == StatusAccepted || o.Status == StatusDuplicate
}

// Summary aggregates a batch.
type Summary struct {
	Files      []FileOutcome `json:"files"`
	Accepted   int           `json:"accepted"`
	Duplicates int           `json:"duplicates"`
	Conflicts  int           `json:"conflicts"`
	Replaced   int           `json:"replaced"`
	Failed     int           `json:"failed"`
	// Total is the size of the persisted collection after the batch.
	Total int `json:"total"`
}

func (s *Summary) add(o FileOutcome) {
	s.Files = append(s.Files, o)
	s.Accepted += o.Accepted
	s.Duplicates += o.Duplicates
	s.Conflicts += o.Conflicts
	s.Replaced += o.Replaced
	if o.Status == StatusFailed {
		s.Failed++
	}
}

// PersistenceFailure wraps a repository write error. The batch's merge
// result has been discarded and no input was deleted.
type PersistenceFailure struct {
	Err error
}

func (e *PersistenceFailure) Error() string { return "persisting batch: " + e.Err.Error() }
func (e *PersistenceFailure) Unwrap() error { return e.Err }

// Ingester serialises batches against one repository.
type Ingester struct {
	repo           Repository
	log            logrus.FieldLogger
	policy         store.Policy
	deleteIngested bool
	lockPath       string
	metrics        *metrics.Metrics

	mu sync.Mutex
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithPolicy selects the merge policy (default first-write-wins).
func WithPolicy(p store.Policy) Option { return func(i *Ingester) { i.policy = p } }

// WithDelete removes input files that parsed cleanly once the batch is persisted.
func WithDelete(on bool) Option { return func(i *Ingester) { i.deleteIngested = on } }

// WithLockPath guards each batch with a create-exclusive lock file.
func WithLockPath(path string) Option { return func(i *Ingester) { i.lockPath = path } }

// WithMetrics records batch outcomes into m.
func WithMetrics(m *metrics.Metrics) Option { return func(i *Ingester) { i.metrics = m } }

// New returns an Ingester writing to repo.
func New(repo Repository, log logrus.FieldLogger, opts ...Option) *Ingester {
	i := &Ingester{repo: repo, log: log, policy: store.FirstWriteWins}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type source struct {
	name string
	path string // removed after persist when set
	read func() ([]models.Record, error)
}

// Run ingests the report files at paths as one batch. A file that cannot be
// read or parsed is reported in its outcome and does not stop the batch.
func (i *Ingester) Run(ctx context.Context, paths []string) (*Summary, error) {
	sources := make([]source, 0, len(paths))
	for _, p := range paths {
		p := p // per-iteration copy; go directive is 1.21 (pre-1.22 loop semantics)
		sources = append(sources, source{
			name: filepath.Base(p),
			path: p,
			read: func() ([]models.Record, error) {
				raw, err := os.ReadFile(p)
				if err != nil {
					return nil, err
				}
				return parser.Extract(string(raw))
			},
		})
	}
	return i.batch(ctx, sources)
}

// IngestText ingests one report received as text.
func (i *Ingester) IngestText(ctx context.Context, name, text string) (FileOutcome, error) {
	sum, err := i.batch(ctx, []source{{
		name: name,
		read: func() ([]models.Record, error) { return parser.Extract(text) },
	}})
	if err != nil {
		return FileOutcome{}, err
	}
	return sum.Files[0], nil
}

// IngestRecords merges already structured records, such as rows imported
// from a workbook, as one input named name.
func (i *Ingester) IngestRecords(ctx context.Context, name string, recs []models.Record) (FileOutcome, error) {
	sum, err := i.batch(ctx, []source{{
		name: name,
		read: func() ([]models.Record, error) { return recs, nil },
	}})
	if err != nil {
		return FileOutcome{}, err
	}
	return sum.Files[0], nil
}

func (i *Ingester) batch(ctx context.Context, sources []source) (*Summary, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.lockPath != "" {
		lock, err := acquireLock(i.lockPath)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.release(); err != nil {
				i.log.WithError(err).Warn("store lock not released")
			}
		}()
	}

	coll, err := i.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading store: %w", err)
	}

	sum := &Summary{}
	changed := false
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var out FileOutcome
		out, coll = i.apply(coll, src)
		if out.Accepted+out.Replaced > 0 {
			changed = true
		}
		sum.add(out)
	}
	sum.Total = len(coll)

	if changed {
		if err := i.repo.Sync(ctx, coll); err != nil {
			i.log.WithError(err).Error("batch discarded")
			return nil, &PersistenceFailure{Err: err}
		}
	}

	if i.deleteIngested {
		i.removeInputs(sum, sources)
	}
	i.record(sum)
	return sum, nil
}

func (i *Ingester) apply(coll store.Collection, src source) (FileOutcome, store.Collection) {
	out := FileOutcome{Name: src.name}
	log := i.log.WithField("file", src.name)

	recs, err := src.read()
	out.Extracted = len(recs)
	if err != nil {
		out.failures = parser.Failures(err)
		if len(out.failures) == 0 {
			out.readErr = true
			out.Errors = []string{err.Error()}
		}
		for _, f := range out.failures {
			out.Errors = append(out.Errors, f.Error())
		}
	}

	if len(recs) > 0 {
		next, rep, merr := store.Merge(coll, recs, store.WithPolicy(i.policy))
		if merr != nil {
			out.Extracted = 0
			out.Errors = append(out.Errors, merr.Error())
			err = merr
		} else {
			coll = next
			out.Accepted = rep.Accepted
			out.Duplicates = rep.Duplicates
			out.Conflicts = rep.Conflicts
			out.Replaced = rep.Replaced
		}
	}

	switch {
	case out.Extracted == 0:
		out.Status = StatusFailed
	case err != nil:
		out.Status = StatusPartial
	case out.Accepted+out.Replaced > 0:
		out.Status = StatusAccepted
	default:
		out.Status = StatusDuplicate
	}

	fields := logrus.Fields{
		"status":     out.Status,
		"extracted":  out.Extracted,
		"accepted":   out.Accepted,
		"duplicates": out.Duplicates,
		"conflicts":  out.Conflicts,
	}
	if out.Clean() {
		log.WithFields(fields).Info("report ingested")
	} else {
		log.WithFields(fields).WithField("errors", out.Errors).Warn("report not fully ingested")
	}
	return out, coll
}

func (i *Ingester) removeInputs(sum *Summary, sources []source) {
	for k, src := range sources {
		if src.path == "" || !sum.Files[k].Clean() {
			continue
		}
		if err := os.Remove(src.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			i.log.WithError(err).WithField("file", src.path).Warn("ingested file not deleted")
			continue
		}
		sum.Files[k].Deleted = true
	}
}

func (i *Ingester) record(sum *Summary) {
	m := i.metrics
	if m == nil {
		return
	}
	for _, o := range sum.Files {
		m.Files.WithLabelValues(string(o.Status)).Inc()
		for _, f := range o.failures {
			m.ParseFailures.WithLabelValues(string(f.Reason)).Inc()
		}
		if o.readErr {
			m.ParseFailures.WithLabelValues("unreadable").Inc()
		}
	}
	m.Records.WithLabelValues("accepted").Add(float64(sum.Accepted))
	m.Records.WithLabelValues("duplicate").Add(float64(sum.Duplicates))
	m.Records.WithLabelValues("conflict").Add(float64(sum.Conflicts))
	m.Records.WithLabelValues("replaced").Add(float64(sum.Replaced))
	m.Stored.Set(float64(sum.Total))
}
