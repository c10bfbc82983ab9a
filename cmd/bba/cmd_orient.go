package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hhyanyan/bbagraph/adjust"
	"github.com/hhyanyan/bbagraph/project"
)

var (
	tiesPath    string
	relFocal    float64
	relSigma    float64
	commonPath  string
	unknownPath string
	absSigma    float64

	relativeCmd = &cobra.Command{
		Use:   "relative",
		Short: "Relative orientation of a stereo pair from tie points",
		RunE:  runRelative,
	}
	absoluteCmd = &cobra.Command{
		Use:   "absolute",
		Short: "Seven parameter absolute orientation of a model to control",
		RunE:  runAbsolute,
	}
)

func init() {
	relativeCmd.Flags().StringVar(&tiesPath, "ties", "", "CSV of name,xl,yl,xr,yr in mm")
	relativeCmd.Flags().Float64Var(&relFocal, "focal", 0, "focal length in mm")
	relativeCmd.Flags().Float64Var(&relSigma, "sigma", 0.005, "image coordinate standard deviation in mm")
	_ = relativeCmd.MarkFlagRequired("ties")
	_ = relativeCmd.MarkFlagRequired("focal")

	absoluteCmd.Flags().StringVar(&commonPath, "common", "", "CSV of name,x,y,z,X,Y,Z")
	absoluteCmd.Flags().StringVar(&unknownPath, "unknown", "", "CSV of name,x,y,z model points to transform")
	absoluteCmd.Flags().Float64Var(&absSigma, "sigma", 0.1, "ground coordinate standard deviation")
	_ = absoluteCmd.MarkFlagRequired("common")
}

func runRelative(cmd *cobra.Command, _ []string) error {
	pts, err := project.LoadTiePoints(tiesPath)
	if err != nil {
		return err
	}
	log.WithField("tie_points", len(pts)).Info("relative orientation")

	params := cfg.Optimizer
	params.Logger = log
	res, err := adjust.RelativeOrient(relFocal, relSigma, pts, params)
	if err != nil {
		return err
	}
	sd := adjust.StdDevs(res.Covariance, 1)
	omega, phi, kappa := res.Right.OmegaPhiKappa()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Omega = %10.4f 度  ± %.4f\n", degrees(omega), degrees(sd[0]))
	fmt.Fprintf(w, "Phi   = %10.4f 度  ± %.4f\n", degrees(phi), degrees(sd[1]))
	fmt.Fprintf(w, "Kappa = %10.4f 度  ± %.4f\n", degrees(kappa), degrees(sd[2]))
	fmt.Fprintf(w, "XL    = %10.4f  (固定)\n", res.Right.T.X)
	fmt.Fprintf(w, "YL    = %10.4f  ± %.4f\n", res.Right.T.Y, sd[3])
	fmt.Fprintf(w, "ZL    = %10.4f  ± %.4f\n", res.Right.T.Z, sd[4])
	fmt.Fprintf(w, "S0    = %.6f mm (%d iterations)\n", res.Sigma0, res.Iterations)
	for i, p := range res.Points {
		r := res.Residuals[i]
		fmt.Fprintf(w, "  点 %-8s : X = %10.4f, Y = %10.4f, Z = %10.4f  残差 %7.4f %7.4f %7.4f %7.4f\n",
			pts[i].Name, p.X, p.Y, p.Z, r[0].X, r[0].Y, r[1].X, r[1].Y)
	}
	return nil
}

func runAbsolute(cmd *cobra.Command, _ []string) error {
	common, err := project.LoadCommonPoints(commonPath)
	if err != nil {
		return err
	}
	var unknown []project.ModelPoint
	if unknownPath != "" {
		if unknown, err = project.LoadModelPoints(unknownPath); err != nil {
			return err
		}
	}
	log.WithField("common_points", len(common)).WithField("unknown_points", len(unknown)).Info("absolute orientation")

	params := cfg.Optimizer
	params.Logger = log
	res, err := adjust.AbsoluteOrient(absSigma, common, params)
	if err != nil {
		return err
	}
	sd := adjust.StdDevs(res.Covariance, 1)
	sim := res.Transform
	omega, phi, kappa := sim.OmegaPhiKappa()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scale = %10.6f  ± %.6f\n", sim.S, sd[0])
	fmt.Fprintf(w, "Omega = %10.4f 度  ± %.4f\n", degrees(omega), degrees(sd[1]))
	fmt.Fprintf(w, "Phi   = %10.4f 度  ± %.4f\n", degrees(phi), degrees(sd[2]))
	fmt.Fprintf(w, "Kappa = %10.4f 度  ± %.4f\n", degrees(kappa), degrees(sd[3]))
	fmt.Fprintf(w, "TX    = %10.4f  ± %.4f\n", sim.T.X, sd[4])
	fmt.Fprintf(w, "TY    = %10.4f  ± %.4f\n", sim.T.Y, sd[5])
	fmt.Fprintf(w, "TZ    = %10.4f  ± %.4f\n", sim.T.Z, sd[6])
	fmt.Fprintf(w, "S0    = %.6f (%d iterations)\n", res.Sigma0, res.Iterations)
	for i, r := range res.Residuals {
		fmt.Fprintf(w, "  点 %-8s : vX = %7.4f, vY = %7.4f, vZ = %7.4f\n", common[i].Name, r.X, r.Y, r.Z)
	}
	for _, u := range unknown {
		p, cov := res.TransformPoint(u.Point)
		psd := adjust.StdDevs(cov, 1)
		fmt.Fprintf(w, "%s:\n", u.Name)
		fmt.Fprintf(w, "  X = %10.4f  ± %.4f\n", p.X, psd[0])
		fmt.Fprintf(w, "  Y = %10.4f  ± %.4f\n", p.Y, psd[1])
		fmt.Fprintf(w, "  Z = %10.4f  ± %.4f\n", p.Z, psd[2])
	}
	return nil
}
