package models

import "time"

// ModelManifest describes the training run that produced a model directory.
type ModelManifest struct {
	Version            string          `json:"version"`
	TrainedAt          time.Time       `json:"trained_at"`
	Symbol             string          `json:"symbol"`
	Seed               uint64          `json:"seed"`
	Samples            int             `json:"samples"`
	TrainSamples       int             `json:"train_samples"`
	ValidationSamples  int             `json:"validation_samples"`
	TrainAccuracy      float64         `json:"train_accuracy"`
	ValidationAccuracy float64         `json:"validation_accuracy"`
	AutoencoderLoss    float64         `json:"autoencoder_loss"`
	ExpansionModel     bool            `json:"expansion_model"`
	LabelCounts        [NumClasses]int `json:"label_counts"`
}
