package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/dutchgtr/bricktrack/internal/job"
	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

var (
	urlPattern        = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeText normalizes listing text for extraction: NFKC-folds compatible
// forms (fullwidth digits, ligatures), strips URLs and non-text symbols, and
// collapses whitespace. The sanitised output is the only text reconciliation
// ever reads.
func SanitizeText(s string) string {
	s = norm.NFKC.String(s)
	s = urlPattern.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsPunct(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(b.String(), " "))
}

// SanitizeHandler cleans every listing that has no sanitised text yet.
type SanitizeHandler struct {
	store    store.Store
	tracker  *job.Tracker
	progress ProgressOptions
	logger   *zap.Logger
}

func NewSanitizeHandler(st store.Store, tracker *job.Tracker, progress ProgressOptions) *SanitizeHandler {
	return &SanitizeHandler{
		store:    st,
		tracker:  tracker,
		progress: progress,
		logger:   zap.L().With(zap.String("component", "sanitize")),
	}
}

func (h *SanitizeHandler) Stage() model.StageType {
	return model.StageSanitize
}

func (h *SanitizeHandler) Run(ctx context.Context, j *model.Job) (model.JobStats, string, error) {
	listings, err := h.store.ListUnsanitisedListings(ctx, j.Dataset)
	if err != nil {
		return model.JobStats{}, "", eris.Wrapf(err, "pipeline: list unsanitised listings for %s", j.Dataset)
	}

	reporter := job.NewReporter(h.tracker, j.ID, h.progress.Every, h.progress.Window)
	cleaned, failed := 0, 0
	for i, l := range listings {
		title := SanitizeText(l.Title)
		description := SanitizeText(l.Description)
		if err := h.store.UpdateListingSanitised(ctx, l.ID, title, description); err != nil {
			failed++
			h.logger.Warn("listing sanitize update failed",
				zap.String("listing_id", l.ID),
				zap.Error(err))
			continue
		}
		cleaned++

		msg := fmt.Sprintf("sanitised %d of %d listings", i+1, len(listings))
		if err := reporter.Record(ctx, msg, model.JobStats{Found: 1, Updated: 1}); err != nil {
			h.logger.Warn("progress update failed", zap.Error(err))
		}
	}

	if err := reporter.Flush(ctx); err != nil {
		h.logger.Warn("final progress flush failed", zap.Error(err))
	}
	if err := h.tracker.SetMetadata(ctx, j.ID, &model.JobMetadata{Sanitize: &model.SanitizeMetadata{ListingsCleaned: cleaned}}); err != nil {
		h.logger.Warn("metadata update failed", zap.Error(err))
	}
	return model.JobStats{}, fmt.Sprintf("sanitised %d listings, %d failed", cleaned, failed), nil
}
