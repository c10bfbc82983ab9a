package main

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hhyanyan/bbagraph/adjust"
	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/project"
)

var (
	singleProj  string
	resectCamID int
	insecPtID   int

	resectCmd = &cobra.Command{
		Use:   "resect",
		Short: "Space resection of one camera from the control points it sees",
		RunE:  runResect,
	}
	intersectCmd = &cobra.Command{
		Use:   "intersect",
		Short: "Space intersection of one point from the cameras that see it",
		RunE:  runIntersect,
	}
)

func init() {
	resectCmd.Flags().StringVar(&singleProj, "proj", "", "path to project.json")
	resectCmd.Flags().IntVar(&resectCamID, "camera", 0, "camera id")
	_ = resectCmd.MarkFlagRequired("proj")

	intersectCmd.Flags().StringVar(&singleProj, "proj", "", "path to project.json")
	intersectCmd.Flags().IntVar(&insecPtID, "point", 0, "point id")
	_ = intersectCmd.MarkFlagRequired("proj")
}

func runResect(cmd *cobra.Command, _ []string) error {
	p, err := project.Load(singleProj)
	if err != nil {
		return err
	}
	cam, ok := p.Camera(resectCamID)
	if !ok {
		return errors.Errorf("no camera %d", resectCamID)
	}
	var pts []adjust.ControlPoint
	for _, o := range p.Observations {
		if o.CamID != cam.ID {
			continue
		}
		if pt, ok := p.Point(o.PtID); ok && pt.IsFixed {
			pts = append(pts, adjust.ControlPoint{
				Name:   pt.Name,
				Image:  r2.Point{X: o.X, Y: o.Y},
				Ground: geometry.NewPoint3(pt.X, pt.Y, pt.Z),
			})
		}
	}
	log.WithField("camera", cam.ID).WithField("control_points", len(pts)).Info("resection")

	params := cfg.Optimizer
	params.Logger = log.WithField("camera", cam.ID)
	res, err := adjust.Resect(cam.F, p.Config.ObsSigma, pts, params)
	if err != nil {
		return err
	}
	sd := adjust.StdDevs(res.Covariance, 1)
	omega, phi, kappa := res.Pose.OmegaPhiKappa()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Omega = %10.4f 度  ± %.4f\n", degrees(omega), degrees(sd[0]))
	fmt.Fprintf(w, "Phi   = %10.4f 度  ± %.4f\n", degrees(phi), degrees(sd[1]))
	fmt.Fprintf(w, "Kappa = %10.4f 度  ± %.4f\n", degrees(kappa), degrees(sd[2]))
	fmt.Fprintf(w, "XL    = %10.4f  ± %.4f\n", res.Pose.T.X, sd[3])
	fmt.Fprintf(w, "YL    = %10.4f  ± %.4f\n", res.Pose.T.Y, sd[4])
	fmt.Fprintf(w, "ZL    = %10.4f  ± %.4f\n", res.Pose.T.Z, sd[5])
	fmt.Fprintf(w, "S0    = %.6f mm (%d iterations)\n", res.Sigma0, res.Iterations)
	for i, r := range res.Residuals {
		fmt.Fprintf(w, "  点 %-8s : dx = %7.4f, dy = %7.4f\n", pts[i].Name, r.X, r.Y)
	}
	return nil
}

func runIntersect(cmd *cobra.Command, _ []string) error {
	p, err := project.Load(singleProj)
	if err != nil {
		return err
	}
	pt, ok := p.Point(insecPtID)
	if !ok {
		return errors.Errorf("no point %d", insecPtID)
	}
	var rays []adjust.Ray
	for _, o := range p.Observations {
		if o.PtID != pt.ID {
			continue
		}
		cam, ok := p.Camera(o.CamID)
		if !ok {
			return errors.Errorf("observation references unknown camera %d", o.CamID)
		}
		rays = append(rays, adjust.Ray{
			Camera: geometry.PinholeCamera{Pose: cam.Pose(), K: cam.Calibration()},
			Image:  r2.Point{X: o.X, Y: o.Y},
		})
	}
	log.WithField("point", pt.Name).WithField("rays", len(rays)).Info("intersection")

	params := cfg.Optimizer
	params.Logger = log.WithField("point", pt.Name)
	res, err := adjust.Intersect(p.Config.ObsSigma, rays, params)
	if err != nil {
		return err
	}
	sd := adjust.StdDevs(res.Covariance, 1)
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s:\n", pt.Name)
	fmt.Fprintf(w, "  X = %10.4f  ± %.4f\n", res.Point.X, sd[0])
	fmt.Fprintf(w, "  Y = %10.4f  ± %.4f\n", res.Point.Y, sd[1])
	fmt.Fprintf(w, "  Z = %10.4f  ± %.4f\n", res.Point.Z, sd[2])
	fmt.Fprintf(w, "  S0 = %.6f mm (%d iterations)\n", res.Sigma0, res.Iterations)
	return nil
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
