package main

import (
	"github.com/fedepedron/QUICK/pkg/accel"
	"github.com/fedepedron/QUICK/pkg/catalog"
	"github.com/fedepedron/QUICK/pkg/inputs"
	"github.com/fedepedron/QUICK/pkg/workerctx"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	runtimeNvml      = "nvml"
	runtimeSimulated = "simulated"
)

func newRuntime() accel.Runtime {
	switch rt := viper.GetString(flagRuntime); rt {
	case runtimeNvml:
		r, err := accel.NewNvmlRuntime()
		if err != nil {
			log.Fatalf("failed to initialize device runtime, err: %s", err)
		}
		return r
	case runtimeSimulated:
		var devices []accel.SimulatedDevice
		if err := viper.UnmarshalKey("simulated.devices", &devices); err != nil {
			log.Fatalf("wrong simulated devices configuration, err: %s", err)
		}
		log.Infof("using simulated runtime with %d devices", len(devices))
		return accel.NewSimulatedRuntime(devices)
	default:
		log.Fatalf("unknown runtime: %s, expected one of: %s|%s", rt, runtimeNvml, runtimeSimulated)
	}
	return nil
}

func catalogPolicy() catalog.Policy {
	if viper.GetBool("catalog.acceptAll") {
		return catalog.AcceptAll
	}
	cfg := catalog.DefaultPolicyConfig()
	if err := viper.UnmarshalKey("catalog", &cfg); err != nil {
		log.Fatalf("wrong catalog configuration, err: %s", err)
	}
	return catalog.DefaultPolicy(cfg)
}

func workerOptions() workerctx.Options {
	var opts workerctx.Options
	if err := viper.UnmarshalKey("worker", &opts); err != nil {
		log.Fatalf("wrong worker configuration, err: %s", err)
	}
	return opts
}

func loadProblem() *inputs.Problem {
	p, err := inputs.Load(viper.GetString(flagInput))
	if err != nil {
		log.Fatal(err)
	}
	return p
}

func enumerate(rt accel.Runtime) *catalog.Catalog {
	cat, err := catalog.Enumerate(rt, viper.GetInt(flagWorldSize), catalogPolicy())
	if err != nil {
		log.Fatalf("device selection failed, err: %s", err)
	}
	return cat
}
