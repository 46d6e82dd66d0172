package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/ounet/graph"
	"github.com/sugarme/ounet/report"
	"github.com/sugarme/ounet/torch"
	"github.com/sugarme/ounet/unet"
)

// flag variables
var (
	ConfigPath  string
	CSVPath     string
	PlotPath    string
	PreviewPath string
	Source      bool
	Check       bool
	Cuda        bool
	Vars        bool
	BatchSize   int64
)

func init() {
	flag.StringVar(&ConfigPath, "config", "", "specify YAML architecture config. Empty uses the paper layout.")
	flag.BoolVar(&Source, "source", false, "use the reference script constants instead of the paper layout.")
	flag.StringVar(&CSVPath, "csv", "", "specify file to write the layer table as CSV.")
	flag.StringVar(&PlotPath, "plot", "", "specify image file for the per-stage parameter chart.")
	flag.BoolVar(&Check, "check", false, "run a forward pass on a random volume.")
	flag.StringVar(&PreviewPath, "preview", "", "specify image file (.png, .jpg, .tif) for a montage of the output heads. Implies -check.")
	flag.BoolVar(&Cuda, "cuda", false, "specify whether using CUDA or not.")
	flag.BoolVar(&Vars, "vars", false, "print libtorch variables sorted by name.")
	flag.Int64Var(&BatchSize, "batch", 1, "specify batch size of the forward pass.")
}

func loadConfig() unet.Config {
	switch {
	case ConfigPath != "":
		cfg, err := unet.LoadConfig(absPath(ConfigPath))
		if err != nil {
			log.Fatal(err)
		}
		return cfg
	case Source:
		return unet.SourceConfig()
	}
	return unet.DefaultConfig()
}

func main() {
	flag.Parse()

	cfg := loadConfig()
	if err := cfg.CheckSymmetry(); err != nil {
		log.Printf("WARNING: %v\n", err)
	}
	if err := cfg.CheckSkipAlignment(); err != nil {
		log.Printf("WARNING: %v\n", err)
	}

	m, err := unet.Build(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := m.Summary(os.Stdout); err != nil {
		log.Fatal(err)
	}

	if CSVPath != "" {
		writeCSV(m, absPath(CSVPath))
	}
	if PlotPath != "" {
		if err := report.PlotParams(m, absPath(PlotPath)); err != nil {
			log.Fatal(err)
		}
		log.Printf("parameter chart saved to %s\n", PlotPath)
	}
	if Check || PreviewPath != "" || Vars {
		checkModel(m)
	}
}

func writeCSV(m *graph.Model, path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	if err := report.WriteCSV(f, m); err != nil {
		log.Fatal(err)
	}
	log.Printf("layer table saved to %s\n", path)
}

func checkModel(m *graph.Model) {
	device := gotch.CPU
	if Cuda {
		device = gotch.CudaIfAvailable()
	}

	vs := nn.NewVarStore(device)
	net, err := torch.New(vs.Root(), m)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("libtorch params: %d\n", net.NumParams())
	if Vars {
		printVars(vs)
	}
	if !Check && PreviewPath == "" {
		return
	}

	in := m.Inputs[0].Shape
	image := ts.MustRand(in.WithBatch(BatchSize), gotch.Float, device)
	ts.NoGrad(func() {
		outs := net.ForwardAll(image, false)
		var slices []report.Slice
		for i, out := range outs {
			min := out.MustMin(false)
			max := out.MustMax(false)
			fmt.Printf("%s: %v min %0.4f max %0.4f\n", m.Outputs[i].Name, out.MustSize(), min.Float64Values()[0], max.Float64Values()[0])
			min.MustDrop()
			max.MustDrop()

			if PreviewPath != "" {
				values, h, w, err := torch.MidSlice(out)
				if err != nil {
					log.Fatal(err)
				}
				slices = append(slices, report.Slice{Name: m.Outputs[i].Name, Height: h, Width: w, Values: values})
			}
			out.MustDrop()
		}

		if PreviewPath != "" {
			savePreview(slices, absPath(PreviewPath))
		}
	})
	image.MustDrop()
}

func savePreview(slices []report.Slice, path string) {
	img, err := report.Montage(slices, 256)
	if err != nil {
		log.Fatal(err)
	}
	if err := report.SaveImage(path, img); err != nil {
		log.Fatal(err)
	}
	log.Printf("preview saved to %s\n", path)
}

// printVars print variables sorted by name
func printVars(vs *nn.VarStore) {
	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		v := vars[n]
		fmt.Printf("%v \t\t %v\n", n, v.MustSize())
	}
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		log.Fatal(err)
	}
	return fullpath
}
