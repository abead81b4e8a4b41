// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"path/filepath"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotChannel renders column j of the run to the named image file.
func (run Run) PlotChannel(j int, name string) error {
	xys := make(plotter.XYs, len(run.Data))
	for i, row := range run.Data {
		xys[i].X = run.Time[i]
		xys[i].Y = row[j]
	}

	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("daq: could not create line plotter for channel %d: %w", run.Channels[j], err)
	}

	p := hplot.New()
	p.Title.Text = fmt.Sprintf("channel %d", run.Channels[j])
	p.X.Label.Text = "t (sec)"
	p.Y.Label.Text = "(V)"
	p.Add(line, hplot.NewGrid())

	err = p.Save(15*vg.Centimeter, 10*vg.Centimeter, name)
	if err != nil {
		return fmt.Errorf("daq: could not save plot for channel %d: %w", run.Channels[j], err)
	}
	return nil
}

// Plot renders one plot per channel into dir, named chan-NNN.png.
func (run Run) Plot(dir string) error {
	for j, ch := range run.Channels {
		err := run.PlotChannel(j, filepath.Join(dir, fmt.Sprintf("chan-%03d.png", ch)))
		if err != nil {
			return err
		}
	}
	return nil
}
