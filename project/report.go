package project

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const rule = "====================================================\n"

// WriteReport 输出可读的平差报告。sigma0 为 Sigma0 返回的单位权中误差。
func (p *Project) WriteReport(w io.Writer, sigma0 float64) error {
	ew := &errWriter{w: w}
	ew.printf(rule)
	ew.printf("          光束法区域网平差 精度报告\n")
	ew.printf(rule)
	ew.printf("【全局指标】\n")
	ew.printf("单位权中误差 (Sigma 0) : %.6f mm\n", sigma0*p.Config.ObsSigma)
	ew.printf("参与平差相机数 : %d\n", len(p.Cameras))
	ew.printf("参与平差地物点 : %d\n", len(p.Points))
	ew.printf("----------------------------------------------------\n\n")

	ew.printf("【相机平差结果与精度 (X,Y,Z单位:m, 姿态单位:度)】\n")
	ew.printf("%-5s %10s %10s %10s | %8s %8s %8s | %7s %7s %7s\n", "CamID", "XL", "YL", "ZL", "Omega", "Phi", "Kappa", "SD_X", "SD_Y", "SD_Z")
	for _, c := range p.Cameras {
		ew.printf("Cam%02d %10.4f %10.4f %10.4f | %8.4f %8.4f %8.4f | %7.4f %7.4f %7.4f\n",
			c.ID, c.XL, c.YL, c.ZL, degrees(c.Omega), degrees(c.Phi), degrees(c.Kappa), c.SXL, c.SYL, c.SZL)
	}

	ew.printf("\n【地面点三维坐标与精度 (单位:m)】\n")
	ew.printf("%-8s %10s %10s %10s | %7s %7s %7s\n", "PtName", "X", "Y", "Z", "SD_X", "SD_Y", "SD_Z")
	for _, pt := range p.Points {
		if pt.IsFixed {
			ew.printf("%-8s %10.4f %10.4f %10.4f | %7s %7s %7s (固定控制点)\n", pt.Name, pt.X, pt.Y, pt.Z, "-", "-", "-")
			continue
		}
		ew.printf("%-8s %10.4f %10.4f %10.4f | %7.4f %7.4f %7.4f\n", pt.Name, pt.X, pt.Y, pt.Z, pt.SX, pt.SY, pt.SZ)
	}
	return ew.err
}

// ExportReport 把 Adjustment_Report.txt 和 Adjusted_Points.csv 写入 dir，
// 并返回它们的路径。
func (p *Project) ExportReport(dir string, sigma0 float64) (reportPath, pointsPath string, err error) {
	reportPath = filepath.Join(dir, "Adjustment_Report.txt")
	f, err := os.Create(reportPath)
	if err != nil {
		return "", "", errors.Wrap(err, "create report")
	}
	defer f.Close()
	if err := p.WriteReport(f, sigma0); err != nil {
		return "", "", errors.Wrap(err, "write report")
	}

	pointsPath = filepath.Join(dir, "Adjusted_Points.csv")
	fc, err := os.Create(pointsPath)
	if err != nil {
		return "", "", errors.Wrap(err, "create point cloud")
	}
	defer fc.Close()
	w := csv.NewWriter(fc)
	records := [][]string{{"Name", "X", "Y", "Z", "SD_X", "SD_Y", "SD_Z", "IsControl"}}
	for _, pt := range p.Points {
		ctrl := "0"
		if pt.IsFixed {
			ctrl = "1"
		}
		records = append(records, []string{
			pt.Name, fmt.Sprintf("%.4f", pt.X), fmt.Sprintf("%.4f", pt.Y), fmt.Sprintf("%.4f", pt.Z),
			fmt.Sprintf("%.4f", pt.SX), fmt.Sprintf("%.4f", pt.SY), fmt.Sprintf("%.4f", pt.SZ), ctrl,
		})
	}
	if err := w.WriteAll(records); err != nil {
		return "", "", errors.Wrap(err, "write point cloud")
	}
	return reportPath, pointsPath, nil
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
