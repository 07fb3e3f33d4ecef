package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atomicgo/cursor"
	"github.com/dustin/go-humanize"
	"github.com/fedepedron/QUICK/pkg/accel"
	"github.com/fedepedron/QUICK/pkg/catalog"
	"github.com/fedepedron/QUICK/pkg/coord"
	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const flagRemote = "remote"

var infoParams = []param{
	{name: flagWatch, shorthand: flagWatchS, value: false, usage: "watch for the changes"},
	{name: flagRemote, shorthand: "", value: false, usage: "query the lead coordination server instead of the local devices"},
}

var infoCmd = &cobra.Command{
	Use:     "info",
	Aliases: []string{"i"},
	Short:   "print the device assigned to every worker",
	Run: func(cmd *cobra.Command, args []string) {
		fetch := localInfos
		if viper.GetBool(flagRemote) {
			fetch = remoteInfos
		}
		to := &TableOutput{}
		to.header = table.Row{"Rank", "Device", "Name", "Memory", "SMs", "Clock", "Compute"}
		render := func() {
			infos, err := fetch()
			if err != nil {
				log.Fatalf("device info query failed, err: %s", err)
			}
			to.body, to.footer = buildDeviceInfoTableBody(infos)
			to.buildTable()
			to.print()
		}
		render()
		if !viper.GetBool(flagWatch) {
			return
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-sigCh:
				cursor.ClearLine()
				log.Info("shutting down")
				return
			case <-ticker.C:
				render()
			}
		}
	},
}

func localInfos() ([]catalog.DeviceInfo, error) {
	rt := newRuntime()
	defer func(rt accel.Runtime) {
		if err := rt.Reset(); err != nil {
			log.Errorf("failed to release device runtime, err: %s", err)
		}
	}(rt)
	cat, err := catalog.Enumerate(rt, viper.GetInt(flagWorldSize), catalogPolicy())
	if err != nil {
		return nil, err
	}
	return cat.Infos(), nil
}

func remoteInfos() ([]catalog.DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(viper.GetInt(flagCoordTimeout))*time.Second)
	defer cancel()
	c, err := coord.Dial(ctx, viper.GetString(flagLeadAddr))
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if secret := viper.GetString(flagCoordSecret); secret != "" {
		token, err := coord.WorkerToken(secret, -1)
		if err != nil {
			return nil, err
		}
		c.SetToken(token)
	}
	worldSize, _, err := c.Ping(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]catalog.DeviceInfo, 0, worldSize)
	for rank := 0; rank < worldSize; rank++ {
		info, err := c.FetchDeviceInfo(ctx, rank)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func buildDeviceInfoTableBody(infos []catalog.DeviceInfo) (body []table.Row, footer table.Row) {
	totalMem := 0
	devices := make(map[int]bool)
	for rank, info := range infos {
		body = append(body, table.Row{
			rank,
			info.DeviceID,
			info.Name,
			fmt.Sprintf("%dMB", info.MemoryMB),
			info.Multiprocessors,
			fmt.Sprintf("%.2fGHz", info.ClockGHz),
			fmt.Sprintf("%d.%d", info.Major, info.Minor),
		})
		if !devices[info.DeviceID] {
			devices[info.DeviceID] = true
			totalMem += info.MemoryMB
		}
	}
	footer = table.Row{len(infos), fmt.Sprintf("%d devices", len(devices)), "", humanize.IBytes(uint64(totalMem) * accel.MB), "", "", ""}
	return body, footer
}
