// Package compare runs the two-image face comparison pipeline: resolve,
// normalize, locate and embed each image, then decide the match.
package compare

import (
	"context"
	"time"

	"github.com/MrCodeEU/facecompare/pkg/imaging"
	"github.com/MrCodeEU/facecompare/pkg/logging"
	"github.com/MrCodeEU/facecompare/pkg/recognition"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Image slot names.
const (
	Image1 = "image1"
	Image2 = "image2"
)

// DefaultStageTimeout bounds each detection and extraction call.
const DefaultStageTimeout = 30 * time.Second

// Upload is an uploaded image file.
type Upload struct {
	Filename string
	Data     []byte
}

// Input is one image slot of a request. URL wins when both are set.
type Input struct {
	URL  string
	File *Upload
}

func (in Input) present() bool {
	return in.URL != "" || in.File != nil
}

// Request holds both image slots.
type Request struct {
	Image1 Input
	Image2 Input
}

// Outcome is the result of one comparison. Exactly one of Result and
// Failure is set.
type Outcome struct {
	Stage   Stage
	Result  *recognition.MatchResult
	Failure *Failure
}

// Success reports whether the pipeline reached StageDone.
func (o Outcome) Success() bool {
	return o.Failure == nil && o.Result != nil
}

// Failed wraps f in an Outcome.
func Failed(f *Failure) Outcome {
	return Outcome{Stage: StageErrored, Failure: f}
}

// Source resolves image slots into rasters.
type Source interface {
	FromURL(ctx context.Context, rawURL string) (*imaging.Raster, []byte, error)
	FromUpload(data []byte) (*imaging.Raster, error)
}

// Options configures a Service.
type Options struct {
	MaxWidth     int
	StageTimeout time.Duration
	Parallel     bool
	Secret       string
}

// Service orchestrates comparisons. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	source    Source
	locator   recognition.Locator
	extractor recognition.Extractor

	maxWidth     int
	stageTimeout time.Duration
	parallel     bool
	secret       []byte
}

// NewService creates a Service. Zero options fall back to defaults.
func NewService(source Source, locator recognition.Locator, extractor recognition.Extractor, opts Options) *Service {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = imaging.DefaultMaxWidth
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = DefaultStageTimeout
	}
	return &Service{
		source:       source,
		locator:      locator,
		extractor:    extractor,
		maxWidth:     opts.MaxWidth,
		stageTimeout: opts.StageTimeout,
		parallel:     opts.Parallel,
		secret:       []byte(opts.Secret),
	}
}

// Compare runs the pipeline for req. Failures are reported in the Outcome,
// never as a panic; image1 failures always take precedence over image2.
func (s *Service) Compare(ctx context.Context, req Request) (out Outcome) {
	log := logging.FromContext(ctx).WithField("component", "compare")
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			out = Failed(panicFailure("", StageComparing, p))
		}
		fields := logrus.Fields{"stage": out.Stage.String(), "duration": time.Since(start).String()}
		if out.Failure != nil {
			fields["kind"] = out.Failure.Kind.String()
			fields["failed_at"] = out.Failure.Stage.String()
			log.WithFields(fields).WithError(out.Failure).Info("Comparison failed")
			return
		}
		fields["distance"] = out.Result.Distance
		fields["match"] = out.Result.IsMatch
		log.WithFields(fields).Info("Comparison finished")
	}()

	if !req.Image1.present() {
		return Failed(newFailure(MissingInput, Image1, StageStart, nil))
	}
	if !req.Image2.present() {
		return Failed(newFailure(MissingInput, Image2, StageStart, nil))
	}

	p1 := &pipeline{svc: s, which: Image1, input: req.Image1, log: log}
	p2 := &pipeline{svc: s, which: Image2, input: req.Image2, log: log}

	var e1, e2 recognition.Embedding
	var f *Failure
	if s.parallel {
		e1, e2, f = s.runParallel(ctx, p1, p2)
	} else {
		e1, e2, f = s.runSequential(ctx, p1, p2)
	}
	if f != nil {
		return Failed(f)
	}

	log.WithField("stage", StageComparing.String()).Debug("Stage")
	result := recognition.Compare(e1, e2)
	return Outcome{Stage: StageDone, Result: &result}
}

func (s *Service) runSequential(ctx context.Context, p1, p2 *pipeline) (e1, e2 recognition.Embedding, f *Failure) {
	if e1, f = p1.run(ctx); f != nil {
		return
	}
	e2, f = p2.run(ctx)
	return
}

// runParallel runs both slots concurrently. A failing image1 cancels image2;
// image2 failures never cancel image1 so precedence stays with image1.
func (s *Service) runParallel(ctx context.Context, p1, p2 *pipeline) (e1, e2 recognition.Embedding, f *Failure) {
	g, gctx := errgroup.WithContext(ctx)
	var f1, f2 *Failure

	g.Go(func() error {
		e1, f1 = p1.run(gctx)
		if f1 != nil {
			return f1
		}
		return nil
	})
	g.Go(func() error {
		e2, f2 = p2.run(gctx)
		return nil
	})
	_ = g.Wait()

	if f1 != nil {
		return e1, e2, f1
	}
	return e1, e2, f2
}

// pipeline processes one image slot.
type pipeline struct {
	svc   *Service
	which string
	input Input
	log   *logrus.Entry

	stage Stage
}

func (p *pipeline) enter(stage Stage) {
	p.stage = stage
	p.log.WithField("stage", stage.String()).Debug("Stage")
}

func (p *pipeline) run(ctx context.Context) (emb recognition.Embedding, f *Failure) {
	resolving, locating, embedding := slotStages(p.which)

	defer func() {
		if r := recover(); r != nil {
			f = panicFailure(p.which, p.stage, r)
		}
	}()

	p.enter(resolving)
	img, f := p.resolve(ctx)
	if f != nil {
		return emb, f
	}
	img = imaging.Normalize(img, p.svc.maxWidth)

	p.enter(locating)
	lctx, cancel := context.WithTimeout(ctx, p.svc.stageTimeout)
	regions, err := p.svc.locator.Locate(lctx, img)
	cancel()
	if err != nil {
		return emb, newFailure(InternalError, p.which, locating, err)
	}
	if len(regions) == 0 {
		return emb, newFailure(NoFaceFound, p.which, locating, nil)
	}
	if len(regions) > 1 {
		p.log.Debugf("%s: %d faces found, using the first", p.which, len(regions))
	}

	p.enter(embedding)
	ectx, cancel := context.WithTimeout(ctx, p.svc.stageTimeout)
	emb, err = p.svc.extractor.Extract(ectx, img, regions[0])
	cancel()
	if err != nil {
		return emb, newFailure(InternalError, p.which, embedding, err)
	}
	return emb, nil
}

func (p *pipeline) resolve(ctx context.Context) (*imaging.Raster, *Failure) {
	if p.input.URL != "" {
		img, body, err := p.svc.source.FromURL(ctx, p.input.URL)
		if err != nil {
			return nil, newFailure(SourceFetchFailed, p.which, p.stage, err)
		}
		p.logResolved("url", p.input.URL, body, img)
		return img, nil
	}

	img, err := p.svc.source.FromUpload(p.input.File.Data)
	if err != nil {
		return nil, newFailure(UploadDecodeFailed, p.which, p.stage, err)
	}
	p.logResolved("upload", p.input.File.Filename, p.input.File.Data, img)
	return img, nil
}

func (p *pipeline) logResolved(source, name string, data []byte, img *imaging.Raster) {
	p.log.WithFields(logrus.Fields{
		"image":       p.which,
		"source":      source,
		"name":        name,
		"format":      img.Format(),
		"width":       img.Width(),
		"height":      img.Height(),
		"fingerprint": imaging.Fingerprint(p.svc.secret, data),
	}).Debug("Image resolved")
}
