//go:build linux

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ja7ad/refit/pkg/budget"
	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/ja7ad/refit/pkg/selector"
)

func newTableCmd() *cobra.Command {
	var (
		variant string
		lf      uint64
	)
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print the effective rate table and the budget targets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("variant") {
				cfg.Variant = variant
				cfg.Rates = nil
			}
			if cmd.Flags().Changed("location-factor") {
				cfg.LocationFactor = lf
			}
			s, err := cfg.Resolve()
			if err != nil {
				return err
			}
			printRateTable(s.Table, s.LocationFactor)
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "rate table variant: case1..case4")
	cmd.Flags().Uint64Var(&lf, "location-factor", 0, "threshold derating in percent")
	return cmd
}

func printRateTable(t *ratetable.Table, lf selector.LocationFactor) {
	target := budget.TargetRates(t)
	fmt.Printf("variant %s, location factor %d%%\n", t.Variant, lf)
	fmt.Printf("target rates: core %d/us, mem %d/us\n\n", target.Core, target.Mem)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STATE\tCATEGORY\tCORE FIT\tMEM FIT\tPOWER\t")
	for _, r := range t.Rows(uint64(lf)) {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t\n", r.State, r.Category, r.CoreFIT, r.MemFIT, r.Power)
	}
	tw.Flush()

	fmt.Println()
	fmt.Println("performance cap by core rate (threshold = scaled active core FIT):")
	for p := ratetable.PState(0); p < ratetable.NumPStates; p++ {
		fmt.Printf("  %s needs core rate >= %d\n", p, lf.Scale(t.State(p).CoreFIT))
	}
}
