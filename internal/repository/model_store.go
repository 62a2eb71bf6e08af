package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/domain/service"
	"OmniSpectrum/internal/services/embedding"
	"OmniSpectrum/internal/services/fusion"
	"OmniSpectrum/internal/services/training"
	applogger "OmniSpectrum/pkg/logger"
	"OmniSpectrum/pkg/util"
)

const ManifestFile = "manifest.json"

// ModelStore reads and writes the model directory.
type ModelStore struct {
	dir string
	l   *applogger.Logger
}

func NewModelStore(dir string, l *applogger.Logger) *ModelStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &ModelStore{dir: dir, l: l}
}

func (s *ModelStore) Dir() string { return s.dir }

// Load builds the bundle. Encoders and classifier are required; the
// expansion booster and the manifest are optional.
func (s *ModelStore) Load() (*service.ModelBundle, error) {
	enc, err := embedding.LoadEncoders(s.dir)
	if err != nil {
		return nil, err
	}
	clf, err := fusion.LoadClassifier(s.dir)
	if err != nil {
		return nil, err
	}

	b := &service.ModelBundle{
		Temporal:  enc.Temporal,
		Surface:   enc.Surface,
		Geometry:  enc.Geometry,
		Direction: clf,
	}

	if booster, err := fusion.LoadBooster(s.dir); err != nil {
		s.l.Warn("expansion model unavailable",
			applogger.String("dir", s.dir),
			applogger.Error(err),
		)
	} else {
		b.Expansion = booster
	}

	manifest, err := s.readManifest()
	switch {
	case err == nil:
		b.Manifest = manifest
	case errors.Is(err, fs.ErrNotExist):
	default:
		s.l.Warn("model manifest unreadable", applogger.String("dir", s.dir), applogger.Error(err))
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	s.l.Info("model bundle loaded",
		applogger.String("dir", s.dir),
		applogger.Bool("expansion", b.HasExpansion()),
		applogger.String("version", b.ModelVersion()),
	)
	return b, nil
}

// Save writes every artifact of a training run plus its manifest.
func (s *ModelStore) Save(res *training.Result) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := res.Encoders.Save(s.dir); err != nil {
		return fmt.Errorf("save encoders: %w", err)
	}
	if err := res.Classifier.Save(s.dir); err != nil {
		return fmt.Errorf("save classifier: %w", err)
	}
	if res.Booster != nil {
		if err := res.Booster.Save(s.dir); err != nil {
			return fmt.Errorf("save expansion model: %w", err)
		}
	}
	raw, err := json.MarshalIndent(res.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return util.WriteFileAtomic(filepath.Join(s.dir, ManifestFile), raw)
}

func (s *ModelStore) readManifest() (*models.ModelManifest, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m models.ModelManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
