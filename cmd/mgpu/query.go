package main

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:     "query",
	Aliases: []string{"q"},
	Short:   "select one usable device per worker and print the device ids",
	Run: func(cmd *cobra.Command, args []string) {
		rt := newRuntime()
		cat := enumerate(rt)
		ids := make([]string, 0, cat.Count())
		for _, id := range cat.IDs() {
			ids = append(ids, fmt.Sprintf("%d", id))
		}
		fmt.Printf("devices: %d\nids: %s\n", cat.Count(), strings.Join(ids, " "))
		if err := rt.Reset(); err != nil {
			log.Errorf("failed to release device runtime, err: %s", err)
		}
	},
}
