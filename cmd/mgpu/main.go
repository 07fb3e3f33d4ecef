package main

import (
	"errors"
	"fmt"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type param struct {
	name      string
	shorthand string
	value     interface{}
	usage     string
	required  bool
}

const (
	// flagConfig path to the configuration directory.
	flagConfig = "config"
	// flagJSONLog enables log json.
	flagJSONLog = "json-log"
	// flagVerbose enables verbose logging.
	flagVerbose = "verbose"
	// flagRuntime selects the device runtime, one of: nvml|simulated.
	flagRuntime = "runtime"
	// flagWorldSize number of workers in the job.
	flagWorldSize = "world-size"
	// flagWorldSizeS short form of flagWorldSize.
	flagWorldSizeS = "n"
	// flagRank rank of this worker, 0 is the lead.
	flagRank = "rank"
	// flagRankS short form of flagRank.
	flagRankS = "r"
	// flagInput path to the problem input.
	flagInput = "input"
	// flagInputS short form of flagInput.
	flagInputS = "i"
	// flagLeadAddr address of the lead coordination server.
	flagLeadAddr = "lead-addr"
	// flagCoordAddr listen address of the coordination server on the lead.
	flagCoordAddr = "coord-addr"
	// flagCoordSecret signs the worker tokens, empty disables authentication.
	flagCoordSecret = "coord-secret"
	// flagCoordTimeout seconds to wait for the other ranks.
	flagCoordTimeout = "coord-timeout"
	// flagMetricsAddr listen address of the metrics endpoint, empty disables it.
	flagMetricsAddr = "metrics-addr"
	// flagXCStrategy quadrature bin partitioner, one of: naive|greedy.
	flagXCStrategy = "xc-strategy"
	// flagWatch refreshes the output every second.
	flagWatch = "watch"
	// flagWatchS short form of flagWatch.
	flagWatchS = "w"
)

var (
	Version    string
	Build      string
	rootParams = []param{
		{name: flagConfig, shorthand: "c", value: ".", usage: "path to configuration file"},
		{name: flagJSONLog, shorthand: "", value: false, usage: "output logs in json format"},
		{name: flagVerbose, shorthand: "", value: false, usage: "enable verbose logs"},
		{name: flagRuntime, shorthand: "", value: runtimeNvml, usage: "device runtime, one of: nvml|simulated"},
		{name: flagWorldSize, shorthand: flagWorldSizeS, value: 1, usage: "number of workers, one per device"},
		{name: flagInput, shorthand: flagInputS, value: "input.yaml", usage: "path to the problem input"},
		{name: flagLeadAddr, shorthand: "", value: "localhost:50061", usage: "address of the lead coordination server"},
		{name: flagCoordSecret, shorthand: "", value: "", usage: "secret signing worker tokens, empty disables authentication"},
		{name: flagCoordTimeout, shorthand: "", value: 60, usage: "seconds to wait for the other ranks"},
	}
)

var mgpuVersion = &cobra.Command{
	Use:   "version",
	Short: "Print mgpu version and build sha",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("🐾 version: %s build: %s \n", Version, Build)
	},
}

var rootCmd = &cobra.Command{
	Use:   "mgpu",
	Short: "mgpu - multi device selection and work partitioning for quantum chemistry workers",
}

func init() {
	cobra.OnInitialize(initConfig)
	setParams(rootParams, rootCmd)
	setParams(infoParams, infoCmd)
	setParams(workerParams, workerCmd)
	rootCmd.AddCommand(mgpuVersion)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(partitionCmd)
	rootCmd.AddCommand(workerCmd)
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(viper.GetString(flagConfig))
	viper.SetEnvPrefix("MGPU")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	setupLogging()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("failed to read config file, err: %s", err)
		}
		log.Debug("config file not found, using flags and environment only")
		return
	}
	log.Debugf("using config file: %s", viper.ConfigFileUsed())
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("config file changed: %s, changes apply to the next run, partitions are never renegotiated", e.Name)
	})
}

func setParams(params []param, command *cobra.Command) {
	for _, param := range params {
		switch v := param.value.(type) {
		case int:
			command.PersistentFlags().IntP(param.name, param.shorthand, v, param.usage)
		case string:
			command.PersistentFlags().StringP(param.name, param.shorthand, v, param.usage)
		case bool:
			command.PersistentFlags().BoolP(param.name, param.shorthand, v, param.usage)
		}
		if param.required {
			if err := command.MarkPersistentFlagRequired(param.name); err != nil {
				panic(err)
			}
		}
		if err := viper.BindPFlag(param.name, command.PersistentFlags().Lookup(param.name)); err != nil {
			panic(err)
		}
	}
}

func setupLogging() {

	// Set log verbosity
	if viper.GetBool(flagVerbose) {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
			CallerPrettyfier: func(frame *runtime.Frame) (function string, file string) {
				fileName := fmt.Sprintf(" [%s]", path.Base(frame.Function)+":"+strconv.Itoa(frame.Line))
				return "", fileName
			},
		})
	} else {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	// Set log format
	if viper.GetBool(flagJSONLog) {
		log.SetFormatter(&log.JSONFormatter{})
	}

	// Logs are always goes to STDOUT
	log.SetOutput(os.Stdout)
}

func main() {

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

}
