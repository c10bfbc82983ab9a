package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/nonlinear"
	"github.com/hhyanyan/bbagraph/sfmdata"
)

var (
	sfmCameras  int
	sfmTriangle bool

	sfmCmd = &cobra.Command{
		Use:   "sfm",
		Short: "Solve a synthetic structure-from-motion scene and print marginals",
		RunE:  runSfM,
	}
)

func init() {
	sfmCmd.Flags().IntVar(&sfmCameras, "cameras", 10, "number of cameras on the circle")
	sfmCmd.Flags().BoolVar(&sfmTriangle, "triangle", false, "three coplanar points instead of a cube")
}

func runSfM(cmd *cobra.Command, _ []string) error {
	opts := sfmdata.DefaultOptions()
	opts.NumCameras, opts.Triangle = sfmCameras, sfmTriangle
	data, truth, err := sfmdata.Generate(opts)
	if err != nil {
		return err
	}
	graph, initial, err := sfmdata.Problem(data, truth)
	if err != nil {
		return err
	}
	params := cfg.Optimizer
	params.Logger = log.WithField("scene", "sfm")
	opt, err := nonlinear.NewLevenbergMarquardtOptimizer(graph, initial, params)
	if err != nil {
		return err
	}
	if _, err := opt.Optimize(); err != nil {
		return err
	}
	marginals, err := opt.Marginals()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "final error %g after %d iterations (%s)\n", opt.Error(), opt.Iterations(), opt.State())
	for _, k := range []key.Key{key.X(0), key.P(0)} {
		cov, err := marginals.MarginalCovariance(k)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s covariance:\n%v\n", k, mat.Formatted(cov, mat.Prefix(""), mat.Squeeze()))
	}
	return nil
}
