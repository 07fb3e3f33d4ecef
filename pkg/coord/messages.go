package coord

import (
	"fmt"
	"strconv"

	"github.com/fedepedron/QUICK/pkg/catalog"
	"google.golang.org/protobuf/types/known/structpb"
)

func formatDigest(d uint64) string {
	return strconv.FormatUint(d, 16)
}

func parseDigest(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

func rankRequest(rank int, digest uint64) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"rank":   rank,
		"digest": formatDigest(digest),
	})
}

func requestRank(in *structpb.Struct) (int, error) {
	v, ok := in.GetFields()["rank"]
	if !ok {
		return 0, fmt.Errorf("rank is required")
	}
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return 0, fmt.Errorf("rank must be a number")
	}
	return int(v.GetNumberValue()), nil
}

func requestDigest(in *structpb.Struct) (uint64, error) {
	return parseDigest(in.GetFields()["digest"].GetStringValue())
}

func descriptorValue(d catalog.Descriptor) map[string]interface{} {
	return map[string]interface{}{
		"id":                  d.ID,
		"name":                d.Name,
		"computeMajor":        d.ComputeMajor,
		"computeMinor":        d.ComputeMinor,
		"totalMemory":         float64(d.TotalMemory),
		"multiprocessorCount": d.MultiprocessorCount,
		"clockRate":           float64(d.ClockRate),
	}
}

func descriptorFromStruct(s *structpb.Struct) catalog.Descriptor {
	f := s.GetFields()
	return catalog.Descriptor{
		ID:                  int(f["id"].GetNumberValue()),
		Name:                f["name"].GetStringValue(),
		ComputeMajor:        int(f["computeMajor"].GetNumberValue()),
		ComputeMinor:        int(f["computeMinor"].GetNumberValue()),
		TotalMemory:         uint64(f["totalMemory"].GetNumberValue()),
		MultiprocessorCount: int(f["multiprocessorCount"].GetNumberValue()),
		ClockRate:           int64(f["clockRate"].GetNumberValue()),
	}
}

func devicesResponse(cat *catalog.Catalog, digest uint64) (*structpb.Struct, error) {
	devices := make([]interface{}, 0, cat.Count())
	for _, d := range cat.Descriptors() {
		devices = append(devices, descriptorValue(d))
	}
	return structpb.NewStruct(map[string]interface{}{
		"worldSize": cat.Count(),
		"digest":    formatDigest(digest),
		"shared":    cat.Shared(),
		"devices":   devices,
	})
}

func catalogFromResponse(out *structpb.Struct) (*catalog.Catalog, error) {
	f := out.GetFields()
	list := f["devices"].GetListValue().GetValues()
	if worldSize := int(f["worldSize"].GetNumberValue()); worldSize != len(list) {
		return nil, fmt.Errorf("device list holds %d devices for world size %d", len(list), worldSize)
	}
	ds := make([]catalog.Descriptor, 0, len(list))
	for i, v := range list {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("device %d is malformed", i)
		}
		ds = append(ds, descriptorFromStruct(s))
	}
	return catalog.FromDescriptors(ds, f["shared"].GetBoolValue()), nil
}

func infoResponse(info catalog.DeviceInfo) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"deviceId":        info.DeviceID,
		"memoryMB":        info.MemoryMB,
		"multiprocessors": info.Multiprocessors,
		"clockGHz":        info.ClockGHz,
		"name":            info.Name,
		"nameLen":         info.NameLen,
		"major":           info.Major,
		"minor":           info.Minor,
	})
}

func infoFromResponse(out *structpb.Struct) catalog.DeviceInfo {
	f := out.GetFields()
	return catalog.DeviceInfo{
		DeviceID:        int(f["deviceId"].GetNumberValue()),
		MemoryMB:        int(f["memoryMB"].GetNumberValue()),
		Multiprocessors: int(f["multiprocessors"].GetNumberValue()),
		ClockGHz:        f["clockGHz"].GetNumberValue(),
		Name:            f["name"].GetStringValue(),
		NameLen:         int(f["nameLen"].GetNumberValue()),
		Major:           int(f["major"].GetNumberValue()),
		Minor:           int(f["minor"].GetNumberValue()),
	}
}
