package main

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hhyanyan/bbagraph/internal/metrics"
	"github.com/hhyanyan/bbagraph/nonlinear"
	"github.com/hhyanyan/bbagraph/project"
)

var (
	solveProj      string
	solveOut       string
	solveSave      string
	solveMetrics   string
	solvePrecision bool

	solveCmd = &cobra.Command{
		Use:   "solve",
		Short: "Adjust a block given by project.json",
		RunE:  runSolve,
	}
)

func init() {
	f := solveCmd.Flags()
	f.StringVar(&solveProj, "proj", "", "path to project.json")
	f.StringVar(&solveOut, "out", "", "report directory (default: the project directory)")
	f.StringVar(&solveSave, "save", "", "write the adjusted project into this directory")
	f.StringVar(&solveMetrics, "metrics-file", "", "write Prometheus metrics to this file")
	f.BoolVar(&solvePrecision, "precision", true, "compute standard deviations from marginal covariances")
	_ = solveCmd.MarkFlagRequired("proj")
}

func runSolve(cmd *cobra.Command, _ []string) error {
	p, err := project.Load(solveProj)
	if err != nil {
		return err
	}
	logger := log.WithField("project", p.Config.ProjectName)
	logger.WithFields(logrus.Fields{
		"cameras":      len(p.Cameras),
		"points":       len(p.Points),
		"observations": len(p.Observations),
	}).Info("project loaded")

	graph, values, err := p.Build()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(cfg.Metrics.Namespace, reg)
	if err != nil {
		return err
	}
	params := cfg.Optimizer
	params.Logger = logger
	params.Metrics = collector

	start := time.Now()
	opt, err := nonlinear.NewLevenbergMarquardtOptimizer(graph, values, params)
	if err != nil {
		return err
	}
	result, err := opt.Optimize()
	if err != nil {
		return errors.Wrap(err, "adjustment")
	}
	logger.WithFields(logrus.Fields{
		"iterations": opt.Iterations(),
		"error":      opt.Error(),
		"state":      opt.State().String(),
		"elapsed":    time.Since(start),
	}).Info("adjustment finished")

	sigma0, err := project.Sigma0(graph, result)
	if err != nil {
		return err
	}
	var marginals *nonlinear.Marginals
	precision := cfg.Solve.Precision
	if cmd.Flags().Changed("precision") {
		precision = solvePrecision
	}
	if precision {
		if marginals, err = opt.Marginals(); err != nil {
			return err
		}
	}
	if err := p.Apply(result, marginals, sigma0); err != nil {
		return err
	}

	out := solveOut
	if out == "" {
		out = cfg.Solve.OutputDir
	}
	if out == "" {
		out = p.Dir
	}
	report, points, err := p.ExportReport(out, sigma0)
	if err != nil {
		return err
	}
	if err := p.WriteReport(cmd.OutOrStdout(), sigma0); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"report": report, "points": points}).Info("report written")

	if solveSave != "" {
		if err := p.Save(solveSave); err != nil {
			return err
		}
		logger.WithField("dir", filepath.Clean(solveSave)).Info("adjusted project saved")
	}
	textfile := solveMetrics
	if textfile == "" {
		textfile = cfg.Metrics.TextfilePath
	}
	if textfile != "" {
		return metrics.WriteTextfile(textfile, reg)
	}
	return nil
}
