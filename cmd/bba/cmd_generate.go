package main

import (
	"github.com/spf13/cobra"

	"github.com/hhyanyan/bbagraph/sfmdata"
)

var (
	genOut      string
	genTruth    string
	genCamerasX int
	genCamerasY int
	genNoise    float64
	genSeed     uint64

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Write a simulated aerial block with perturbed initial values",
		RunE:  runGenerate,
	}
)

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genOut, "out", "dataset", "output directory")
	f.StringVar(&genTruth, "truth", "", "also write the true block into this directory")
	f.IntVar(&genCamerasX, "cameras-x", 6, "photos per strip")
	f.IntVar(&genCamerasY, "cameras-y", 5, "number of strips")
	f.Float64Var(&genNoise, "noise", 0, "image coordinate noise in mm")
	f.Uint64Var(&genSeed, "seed", 1, "noise seed")
}

func runGenerate(_ *cobra.Command, _ []string) error {
	opts := sfmdata.DefaultAerialOptions()
	opts.CamerasX, opts.CamerasY = genCamerasX, genCamerasY
	opts.ObsNoise, opts.Seed = genNoise, genSeed
	initial, truth, err := sfmdata.AerialBlock(opts)
	if err != nil {
		return err
	}
	if err := initial.Save(genOut); err != nil {
		return err
	}
	log.WithField("dir", genOut).
		WithField("cameras", len(initial.Cameras)).
		WithField("points", len(initial.Points)).
		WithField("observations", len(initial.Observations)).
		Info("block written")
	if genTruth != "" {
		if err := truth.Save(genTruth); err != nil {
			return err
		}
		log.WithField("dir", genTruth).Info("ground truth written")
	}
	return nil
}
