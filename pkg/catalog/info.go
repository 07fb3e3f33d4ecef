package catalog

import "github.com/fedepedron/QUICK/pkg/accel"

// DeviceInfo is the fixed-layout record handed to the driver for display.
type DeviceInfo struct {
	DeviceID        int
	MemoryMB        int
	Multiprocessors int
	ClockGHz        float64
	Name            string
	NameLen         int
	Major           int
	Minor           int
}

// Info returns the display record of the device assigned to rank.
func (c *Catalog) Info(rank int) (DeviceInfo, error) {
	d, err := c.Descriptor(rank)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		DeviceID:        d.ID,
		MemoryMB:        int(d.TotalMemory / accel.MB),
		Multiprocessors: d.MultiprocessorCount,
		ClockGHz:        float64(d.ClockRate) * 1e-9,
		Name:            d.Name,
		NameLen:         len(d.Name),
		Major:           d.ComputeMajor,
		Minor:           d.ComputeMinor,
	}, nil
}

// Infos returns the display record of every rank, in rank order.
func (c *Catalog) Infos() []DeviceInfo {
	infos := make([]DeviceInfo, 0, c.Count())
	for rank := 0; rank < c.Count(); rank++ {
		info, _ := c.Info(rank)
		infos = append(infos, info)
	}
	return infos
}
