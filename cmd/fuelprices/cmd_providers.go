package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuelprices/internal/api/registry"
)

func providersCmd() *cobra.Command {
	var country string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List the available providers",
		Long:  "Lists every compiled-in provider with the countries it serves and whether it needs configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.Default()

			entries := reg.All()
			if country != "" {
				names := reg.ForCountry(country)
				if names == nil {
					return fmt.Errorf("no provider serves country %q", country)
				}
				entries = entries[:0:0]
				for _, name := range names {
					if e, ok := reg.Lookup(name); ok {
						entries = append(entries, e)
					}
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCOUNTRIES\tENABLED\tAUTO-MAPPED\tCONFIG")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n",
					e.Name, strings.Join(e.Countries, ","), e.Enabled, e.AutoMapped, e.ConfigType)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "Only list providers serving this ISO country code")

	return cmd
}
