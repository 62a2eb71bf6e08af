package usecase

import (
	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/domain/service"
	"OmniSpectrum/pkg/logger"
)

// BundleLoader reads a model bundle from storage.
type BundleLoader interface {
	Load() (*service.ModelBundle, error)
}

var errNoBundle = models.NewError("load models", models.ErrModelLoad, "no model bundle loaded; train and restart the process")

// LoadModelBundle reads the bundle once at process start. A missing or
// invalid artifact set is logged and yields nil so that the process can
// still train; inference then fails with ErrModelLoad until a restart picks
// up new artifacts.
func LoadModelBundle(loader BundleLoader, l *logger.Logger) *service.ModelBundle {
	if l == nil {
		l = logger.Nop()
	}
	b, err := loader.Load()
	if err == nil {
		err = b.Validate()
	}
	if err != nil {
		l.Warn("model bundle not loaded", logger.Error(err))
		return nil
	}
	return b
}
