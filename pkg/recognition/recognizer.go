// Package recognition provides face localization, embedding extraction and
// the match decision. Detection and embedding use dlib through go-face.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facecompare/pkg/acceleration"
	"github.com/MrCodeEU/facecompare/pkg/imaging"
	"github.com/MrCodeEU/facecompare/pkg/logging"
)

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Embedding is the identity signature of one face.
type Embedding Descriptor

// Region is a face bounding box in pixel coordinates of the image it was
// detected in. Engines that compute descriptors during detection attach
// them so extraction does not rerun the model.
type Region struct {
	Top, Right, Bottom, Left int

	descriptor *Descriptor
}

// NewRegion builds a Region from an image rectangle.
func NewRegion(rect image.Rectangle) Region {
	return Region{Top: rect.Min.Y, Right: rect.Max.X, Bottom: rect.Max.Y, Left: rect.Min.X}
}

// Rect returns the region as an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// Locator finds faces in an image. The order of the result is the model's
// own; callers that need one face take the first.
type Locator interface {
	Locate(ctx context.Context, img *imaging.Raster) ([]Region, error)
}

// Extractor computes the embedding of one located face.
type Extractor interface {
	Extract(ctx context.Context, img *imaging.Raster, region Region) (Embedding, error)
}

// FaceEngine is the subset of *face.Recognizer used here.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeCNN(imgData []byte) ([]face.Face, error)
	Close()
}

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrRegionNotFound is returned when extraction cannot find the requested
// region in the image.
var ErrRegionNotFound = errors.New("face region not found in image")

// DlibRecognizer implements Locator and Extractor on a pool of go-face
// recognizers. Each engine is used by one call at a time.
type DlibRecognizer struct {
	factory   func(modelPath string) (FaceEngine, error)
	mode      acceleration.Mode
	workers   int
	modelPath string

	mu      sync.RWMutex
	loaded  bool
	pool    chan FaceEngine
	engines []FaceEngine
}

// NewRecognizer creates a DlibRecognizer using the HOG detector and a
// single engine.
func NewRecognizer() *DlibRecognizer {
	return &DlibRecognizer{
		factory: func(modelPath string) (FaceEngine, error) {
			return face.NewRecognizer(modelPath)
		},
		mode:    acceleration.ModeHOG,
		workers: 1,
	}
}

// SetMode selects the detector. ModeAuto must be resolved by the caller.
func (r *DlibRecognizer) SetMode(mode acceleration.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mode == acceleration.ModeCNN {
		r.mode = acceleration.ModeCNN
	} else {
		r.mode = acceleration.ModeHOG
	}
}

// SetWorkers sets how many engines LoadModels creates.
func (r *DlibRecognizer) SetWorkers(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 {
		n = 1
	}
	r.workers = n
}

// LoadModels loads the dlib models from modelPath once per worker.
// The path should contain:
// - shape_predictor_5_face_landmarks.dat
// - dlib_face_recognition_resnet_model_v1.dat
// - mmod_human_face_detector.dat
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s (%d worker(s), %s detector)", modelPath, r.workers, r.mode)

	engines := make([]FaceEngine, 0, r.workers)
	for i := 0; i < r.workers; i++ {
		engine, err := r.factory(modelPath)
		if err != nil {
			for _, e := range engines {
				e.Close()
			}
			return fmt.Errorf("failed to load models: %w", err)
		}
		engines = append(engines, engine)
	}

	r.pool = make(chan FaceEngine, len(engines))
	for _, e := range engines {
		r.pool <- e
	}
	r.engines = engines
	r.modelPath = modelPath
	r.loaded = true

	logging.Info("Face recognition models loaded successfully")
	return nil
}

// Close waits for in-flight calls and releases all engines.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return nil
	}
	r.loaded = false

	for range r.engines {
		engine := <-r.pool
		engine.Close()
	}
	r.engines = nil
	return nil
}

type detection struct {
	faces []face.Face
	err   error
}

// detect runs the detector on one pooled engine. The cgo call cannot be
// interrupted, so on cancellation the engine goes back to the pool when
// the call returns.
func (r *DlibRecognizer) detect(ctx context.Context, img *imaging.Raster) ([]face.Face, error) {
	r.mu.RLock()
	loaded, pool, mode := r.loaded, r.pool, r.mode
	r.mu.RUnlock()

	if !loaded {
		return nil, ErrModelNotLoaded
	}

	data, err := img.JPEG()
	if err != nil {
		return nil, err
	}

	var engine FaceEngine
	select {
	case engine = <-pool:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for face engine: %w", ctx.Err())
	}

	done := make(chan detection, 1)
	go func() {
		defer func() { pool <- engine }()
		defer func() {
			if p := recover(); p != nil {
				done <- detection{err: fmt.Errorf("face engine panic: %v", p)}
			}
		}()

		var res detection
		if mode == acceleration.ModeCNN {
			res.faces, res.err = engine.RecognizeCNN(data)
		} else {
			res.faces, res.err = engine.Recognize(data)
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("face detection failed: %w", res.err)
		}
		return res.faces, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("face detection: %w", ctx.Err())
	}
}

// Locate returns the faces dlib finds in img, in dlib's order, with their
// descriptors attached.
func (r *DlibRecognizer) Locate(ctx context.Context, img *imaging.Raster) ([]Region, error) {
	faces, err := r.detect(ctx, img)
	if err != nil {
		return nil, err
	}

	regions := make([]Region, len(faces))
	for i := range faces {
		regions[i] = NewRegion(faces[i].Rectangle)
		d := faces[i].Descriptor
		regions[i].descriptor = &d
	}

	logging.Debugf("Detected %d face(s) in %dx%d image", len(regions), img.Width(), img.Height())
	return regions, nil
}

// Extract returns the embedding for region. When the region came from
// Locate the descriptor computed there is reused; otherwise the model runs
// again and the face with the same rectangle is selected.
func (r *DlibRecognizer) Extract(ctx context.Context, img *imaging.Raster, region Region) (Embedding, error) {
	if region.descriptor != nil {
		return Embedding(*region.descriptor), nil
	}

	faces, err := r.detect(ctx, img)
	if err != nil {
		return Embedding{}, err
	}
	want := region.Rect()
	for _, f := range faces {
		if f.Rectangle == want {
			return Embedding(f.Descriptor), nil
		}
	}
	return Embedding{}, fmt.Errorf("%w: %v", ErrRegionNotFound, want)
}
