package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"OmniSpectrum/internal/di"
	"OmniSpectrum/internal/usecase"
)

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Fit the encoders and classifiers and save them to the model directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := di.InitializePipeline(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			aeBar := newBar(cfg.Training.Autoencoder.Epochs, "Autoencoder")
			clsBar := newBar(cfg.Training.Epochs, "Classifier ")
			m, err := p.Training.Train(cmd.Context(), usecase.TrainProgress{
				OnAutoencoderEpoch: func(epoch int, loss float64) {
					aeBar.Describe(fmt.Sprintf("Autoencoder loss=%.5f", loss))
					_ = aeBar.Set(epoch + 1)
				},
				OnClassifierEpoch: func(epoch int, loss float64) {
					_ = aeBar.Finish()
					clsBar.Describe(fmt.Sprintf("Classifier  loss=%.5f", loss))
					_ = clsBar.Set(epoch + 1)
				},
			})
			_ = clsBar.Finish()
			fmt.Println()
			if err != nil {
				return fmt.Errorf("training: %w", err)
			}

			fmt.Printf("Saved model %s to %s\n", m.Version, cfg.Pipeline.ModelDir)
			fmt.Printf("  samples:    %d (train %d, validation %d)\n", m.Samples, m.TrainSamples, m.ValidationSamples)
			fmt.Printf("  accuracy:   train %.3f, validation %.3f\n", m.TrainAccuracy, m.ValidationAccuracy)
			fmt.Printf("  ae loss:    %.5f\n", m.AutoencoderLoss)
			fmt.Printf("  expansion:  %v\n", m.ExpansionModel)
			return nil
		},
	}
}

func newBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
