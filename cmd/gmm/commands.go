package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/priceal/generalized-method-of-moments/adapters/excel"
	"github.com/priceal/generalized-method-of-moments/adapters/sim"
	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
	"github.com/priceal/generalized-method-of-moments/domain/estimate"
	"github.com/priceal/generalized-method-of-moments/internal"
	"github.com/priceal/generalized-method-of-moments/internal/config"
	"github.com/priceal/generalized-method-of-moments/internal/covtable"
	"github.com/priceal/generalized-method-of-moments/internal/errors"
	"github.com/priceal/generalized-method-of-moments/internal/experiment"
	"github.com/priceal/generalized-method-of-moments/internal/gmm"
	"github.com/priceal/generalized-method-of-moments/ports"
)

func newEstimateCmd(cfg func() *config.Config) *cobra.Command {
	var (
		input, column, sheet string
		starts               []string
		order                int
		orders               string
		diagonal             bool
		weighting            string
		tablePath            string
		twoPass              bool
		seed                 uint64
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate decay times from a file of dwell times",
		Long: `Estimate the decay times of an n-step chain from observed dwell times.

The number of steps is the length of each --start guess. With several --start
values a global search keeps the lowest-cost local minimum.

Example: gmm estimate --input times.xlsx --column dwell --start 1,10 --start 10,100 --order 3 --weighting jack`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if !cmd.Flags().Changed("order") {
				order = c.Estimation.Order
			}
			if !cmd.Flags().Changed("diag") {
				diagonal = c.Estimation.Diagonal
			}
			if weighting == "" {
				weighting = c.Estimation.Weighting
			}
			if tablePath == "" {
				tablePath = c.Table.Path
			}
			if !cmd.Flags().Changed("seed") {
				seed = c.Runtime.Seed
			}

			sample, err := excel.NewDataReader(input).WithSheet(sheet).ReadSample(column)
			if err != nil {
				return errors.Wrap(err, "failed to read sample")
			}
			guesses, err := parseStarts(starts)
			if err != nil {
				return err
			}
			selection, err := parseOrders(order, orders)
			if err != nil {
				return err
			}

			var table ports.CovarianceLookup
			if tablePath != "" {
				t, err := covtable.Load(tablePath)
				if err != nil {
					return errors.Wrap(err, "failed to load covariance table")
				}
				internal.DefaultLogger.Info("%s", t.Describe())
				table = t
			}

			est := newEstimator(c)
			if twoPass {
				if table == nil {
					return errors.InvalidInput("--two-pass needs a covariance table (--table or GMM_TABLE_PATH)")
				}
				tpc := gmm.DefaultTwoPassConfig(table)
				tpc.BiasCorrect = c.Estimation.BiasCorrect
				res, err := est.TwoPass(cmd.Context(), sample, guesses, tpc)
				printTwoPass(res, tpc)
				return err
			}

			w, err := gmm.ParseWeighting(weighting, c.Estimation.MCTrials, sim.NewChain(seed), table)
			if err != nil {
				return err
			}
			opts := gmm.Options{
				Orders:      selection,
				Diagonal:    diagonal,
				Weighting:   w,
				BiasCorrect: c.Estimation.BiasCorrect,
			}
			res, err := est.GlobalSearchResult(cmd.Context(), sample, guesses, opts)
			if res.Taus != nil {
				printResult(len(sample), w.Name(), diagonal, res)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Excel (.xlsx) or CSV file of dwell times")
	cmd.Flags().StringVar(&column, "column", "", "Header of the dwell-time column (default: first column)")
	cmd.Flags().StringVar(&sheet, "sheet", "Sheet1", "Worksheet of an Excel input")
	cmd.Flags().StringArrayVar(&starts, "start", nil, "Initial guess, comma-separated decay times (repeatable)")
	cmd.Flags().IntVar(&order, "order", 0, "Use cumulant orders 1..N (raised to the number of steps)")
	cmd.Flags().StringVar(&orders, "orders", "", "Explicit cumulant orders, e.g. 2,3")
	cmd.Flags().BoolVar(&diagonal, "diag", false, "Weight with the diagonal of the covariance only")
	cmd.Flags().StringVar(&weighting, "weighting", "", "Weighting scheme: iden|jack|mc|int")
	cmd.Flags().StringVar(&tablePath, "table", "", "Covariance table for interpolated weighting")
	cmd.Flags().BoolVar(&twoPass, "two-pass", false, "Order-2 diagonal jackknife search, then interpolated refinements at orders 3 and 4")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Seed for Monte-Carlo weighting")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("start")

	return cmd
}

func newEstimator(c *config.Config) *gmm.Estimator {
	return gmm.NewEstimator(gmm.Config{
		GradientTol:   c.Estimation.GradientTol,
		MaxIterations: c.Estimation.MaxIterations,
		MaxRuntime:    c.Estimation.MaxRuntime,
		Workers:       c.Runtime.Workers,
	}, internal.DefaultLogger)
}

func printResult(n int, scheme string, diagonal bool, res estimate.Result) {
	mode := "full"
	if diagonal {
		mode = "diagonal"
	}
	fmt.Printf("N=%d  orders=%s  weighting=%s (%s)\n", n, res.Orders, scheme, mode)
	for i, tau := range res.Taus {
		fmt.Printf("  tau[%d] = %.6g\n", i+1, tau)
	}
	fmt.Printf("  cost   = %.6g\n", res.Cost)
	if !res.Converged() {
		fmt.Printf("  ⚠️  not converged: %s\n", res.Reason)
	}
}

func printTwoPass(res gmm.TwoPassResult, cfg gmm.TwoPassConfig) {
	if res.First.Taus == nil {
		return
	}
	fmt.Printf("pass 1 (order %d, diagonal jackknife): %v cost=%.6g\n", cfg.FirstOrder, []float64(res.First.Taus), res.First.Cost)
	for i, r := range res.Refined {
		flag := ""
		if !r.Converged() {
			flag = " (not converged)"
		}
		fmt.Printf("pass 2 (order %d, interpolated):       %v cost=%.6g%s\n", cfg.RefineOrders[i], []float64(r.Taus), r.Cost, flag)
	}
}

func newSimulateCmd(cfg func() *config.Config) *cobra.Command {
	var (
		taus string
		n    int
		seed uint64
		out  string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Draw dwell times from an irreversible chain of exponential steps",
		Long: `Draw N dwell times from a chain with the given mean step times.

Output is CSV on stdout unless --out names a .csv or .xlsx file.

Example: gmm simulate --tau 10,20 --n 200 --seed 7 --out times.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("seed") {
				seed = cfg().Runtime.Seed
			}
			steps, err := parseFloats(taus)
			if err != nil {
				return errors.Wrap(err, "invalid --tau")
			}
			sample, err := sim.NewChain(seed).SampleN(steps, n)
			if err != nil {
				return err
			}
			if strings.EqualFold(filepath.Ext(out), ".xlsx") {
				return excel.WriteSample(out, "dwell", sample)
			}

			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			cw := csv.NewWriter(w)
			_ = cw.Write([]string{"dwell"})
			for _, t := range sample {
				_ = cw.Write([]string{strconv.FormatFloat(t, 'g', -1, 64)})
			}
			cw.Flush()
			return cw.Error()
		},
	}

	cmd.Flags().StringVar(&taus, "tau", "10", "Mean step times, comma-separated")
	cmd.Flags().IntVar(&n, "n", 200, "Number of dwell times")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&out, "out", "", "Output file (.csv or .xlsx)")
	return cmd
}

func newBuildTableCmd(cfg func() *config.Config) *cobra.Command {
	var (
		sizes    string
		maxRatio int
		trials   int
		orders   int
		out      string
		seed     uint64
	)

	cmd := &cobra.Command{
		Use:   "build-table",
		Short: "Simulate the two-step covariance table used by interpolated weighting",
		Long: `Simulate cumulant covariance matrices at decay times [1, s] for s = 1..max-ratio
and every sample size, and write them as a JSON table.

Example: gmm build-table --sizes 5,10,20,50,100,200,500,1000 --max-ratio 100 --trials 2000 --out table.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if !cmd.Flags().Changed("seed") {
				seed = c.Runtime.Seed
			}
			ns, err := parseInts(sizes)
			if err != nil {
				return errors.Wrap(err, "invalid --sizes")
			}
			t, err := covtable.Build(cmd.Context(), covtable.BuildConfig{
				SampleSizes: ns,
				Ratios:      covtable.UnitRatios(maxRatio),
				Orders:      orders,
				Trials:      trials,
				BiasCorrect: c.Estimation.BiasCorrect,
				Seed:        seed,
				Workers:     c.Runtime.Workers,
			}, sim.Factory())
			if err != nil {
				return errors.Wrap(err, "failed to build covariance table")
			}
			if err := t.Save(out); err != nil {
				return errors.Wrap(err, "failed to write covariance table")
			}
			fmt.Printf("✅ wrote %s\n%s\n", out, t.Describe())
			return nil
		},
	}

	cmd.Flags().StringVar(&sizes, "sizes", "50,100,200,500,1000", "Sample sizes, comma-separated ascending")
	cmd.Flags().IntVar(&maxRatio, "max-ratio", 10, "Largest decay-time ratio on the grid")
	cmd.Flags().IntVar(&trials, "trials", 500, "Monte-Carlo trials per grid cell")
	cmd.Flags().IntVar(&orders, "orders", 4, "Cumulant orders per matrix")
	cmd.Flags().StringVar(&out, "out", "covtable.json", "Output path")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Base random seed")
	return cmd
}

func newDescribeTableCmd() *cobra.Command {
	var sizeIndex, ratioIndex int

	cmd := &cobra.Command{
		Use:   "describe-table [path]",
		Short: "Print the grid of a covariance table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := covtable.Load(args[0])
			if err != nil {
				return errors.Wrap(err, "failed to load covariance table")
			}
			fmt.Println(t.Describe())
			if fp, err := t.Fingerprint(); err == nil {
				fmt.Printf("fingerprint: %s\n", fp.Short())
			}
			if sizeIndex < 0 || ratioIndex < 0 {
				return nil
			}
			if sizeIndex >= len(t.SampleSizes()) || ratioIndex >= len(t.Ratios()) {
				return errors.InvalidInput(fmt.Sprintf("entry (%d,%d) outside the grid", sizeIndex, ratioIndex))
			}
			fmt.Printf("covariance at N=%d, ratio=%g:\n", t.SampleSizes()[sizeIndex], t.Ratios()[ratioIndex])
			m := t.Entry(sizeIndex, ratioIndex)
			for i := 0; i < t.Orders(); i++ {
				for j := 0; j < t.Orders(); j++ {
					fmt.Printf("%14.6g", m.At(i, j))
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&sizeIndex, "size-index", -1, "Print the matrix at this sample-size index")
	cmd.Flags().IntVar(&ratioIndex, "ratio-index", -1, "Print the matrix at this ratio index")
	return cmd
}

func newSweepCmd(cfg func() *config.Config) *cobra.Command {
	var (
		file     string
		asJSON   bool
		tablePth string
		runID    string
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a simulation sweep and summarize the estimates",
		Long: `Simulate data sets over a grid of decay times, sample sizes and orders,
estimate each with every configured method and report mean, mean deviation,
standard deviation and standard error per step.

Example: gmm sweep --file sweep.yaml --table table.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			sweep, err := config.LoadSweep(file)
			if err != nil {
				return err
			}
			if runID != "" {
				sweep.RunID = runID
			}
			if tablePth == "" {
				tablePth = c.Table.Path
			}
			var table ports.CovarianceLookup
			if tablePth != "" {
				t, err := covtable.Load(tablePth)
				if err != nil {
					return errors.Wrap(err, "failed to load covariance table")
				}
				table = t
			}

			runner := experiment.NewRunner(newEstimator(c), sim.Factory(), table, c.Runtime.Workers, internal.DefaultLogger)
			report, err := runner.Run(cmd.Context(), sweep)
			if err != nil {
				return errors.Wrap(err, "sweep failed")
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(report)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Sweep definition (YAML or JSON)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&tablePth, "table", "", "Covariance table for interpolated and two-pass methods")
	cmd.Flags().StringVar(&runID, "run-id", "", "Report id to use instead of a generated one")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printReport(r *experiment.Report) {
	fmt.Printf("📊 sweep %s (%s)\n", r.ID, r.Elapsed)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "taus\tN\torder\tmethod\tstep\tmean\tmeandev\tstd\tstderr\tfailed\tunconverged")
	for _, c := range r.Cells {
		method := c.Method
		if c.Stage != "" {
			method += "/" + c.Stage
		}
		for s, sum := range c.Steps {
			fmt.Fprintf(tw, "%v\t%d\t%d\t%s\t%d\t%.4g\t%.4g\t%.4g\t%.4g\t%d\t%d\n",
				c.Taus, c.SampleSize, c.Order, method, s+1, sum.Mean, sum.MeanDev, sum.StdDev, sum.StdErr, c.Failures, c.NotConverged)
		}
		if len(c.Steps) == 0 {
			fmt.Fprintf(tw, "%v\t%d\t%d\t%s\t-\t-\t-\t-\t-\t%d\t%d\n", c.Taus, c.SampleSize, c.Order, method, c.Failures, c.NotConverged)
		}
	}
	tw.Flush()
}

func parseStarts(values []string) ([]estimate.Taus, error) {
	if len(values) == 0 {
		return nil, errors.InvalidInput("at least one --start is required")
	}
	starts := make([]estimate.Taus, len(values))
	for i, v := range values {
		taus, err := parseFloats(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid --start %q", v)
		}
		starts[i] = taus
	}
	return starts, nil
}

func parseOrders(order int, orders string) (estimate.OrderSelection, error) {
	if orders == "" {
		if order <= 0 {
			order = 1
		}
		return estimate.Order(order), nil
	}
	ks, err := parseInts(orders)
	if err != nil {
		return estimate.OrderSelection{}, errors.Wrap(err, "invalid --orders")
	}
	mask, err := cumulant.MaskOf(ks...)
	if err != nil {
		return estimate.OrderSelection{}, err
	}
	return estimate.Mask(mask), nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", core.ErrInvalidInput, f)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", core.ErrInvalidInput, f)
		}
		out = append(out, v)
	}
	return out, nil
}
