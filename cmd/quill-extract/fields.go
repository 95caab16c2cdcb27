package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var fieldsShowPhrasings bool

func init() {
	rootCmd.AddCommand(fieldsCmd)
	fieldsCmd.Flags().BoolVar(&fieldsShowPhrasings, "phrasings", false, "Also list the question phrasings of each field")
}

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List the fields in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tNAME\tPATTERNS\tFALLBACK")
		for _, def := range cat.Definitions() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", def.Key, def.DisplayName, len(def.Patterns), len(def.Fallback))
			if fieldsShowPhrasings {
				for _, p := range def.Phrasings {
					fmt.Fprintf(w, "\t  %q\t\t\n", p)
				}
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nassistant speakers: %s\n", strings.Join(cat.Speakers().Assistant, ", "))
		return nil
	},
}
