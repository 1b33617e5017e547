// The feeddev command streams sample data from standard input into the
// transmit buffer of an acquisition device, selected by name or ID on the
// command line. Diagnostics and benchmark statistics go to standard error.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/usnistgov/feeddev"
	"github.com/usnistgov/feeddev/device"
	"github.com/usnistgov/feeddev/internal/runlog"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

const defaultTriggerRateHz = 100

type options struct {
	trigger     string
	bufferSize  int
	samples     uint64
	cyclic      bool
	benchmark   bool
	verbose     bool
	publishPort int
	capture     string
	version     bool
	cpuprofile  string
	memprofile  string
}

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <dir>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}

	// Create an empty file dir/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("BufferSize", 256)
	viper.SetDefault("PublishPort", 0)

	HOME, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotFeeddev := filepath.Join(HOME, ".feeddev")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotFeeddev, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/feeddev"))
	viper.AddConfigPath(dotFeeddev)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig() // Find and read the config file
	if err != nil {            // Handle errors reading the config file
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probLogger := log.New(os.Stderr, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

func parseOptions() (*options, []string) {
	// Config-file values serve as flag defaults, so the command line
	// always wins.
	if err := setupViper(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	opt := new(options)
	flag.StringVar(&opt.trigger, "trigger", "", "use the specified trigger")
	flag.IntVar(&opt.bufferSize, "buffer-size", viper.GetInt("BufferSize"), "size of the transmit buffer in samples (min 1)")
	flag.Uint64Var(&opt.samples, "samples", 0, "number of samples to write, 0 = infinite")
	flag.BoolVar(&opt.cyclic, "cyclic", false, "use cyclic buffer mode")
	flag.BoolVar(&opt.benchmark, "benchmark", false, "benchmark throughput; statistics are printed on standard error")
	flag.BoolVar(&opt.verbose, "verbose", viper.GetBool("Verbose"), "dump the configured session before streaming")
	flag.IntVar(&opt.publishPort, "publish", viper.GetInt("PublishPort"), "publish session status on this TCP port, 0 = off")
	flag.StringVar(&opt.capture, "capture", "", "write pushed samples to this NumPy file (simulated device only)")
	flag.BoolVar(&opt.version, "version", false, "print version and quit")
	flag.StringVar(&opt.cpuprofile, "cpuprofile", "", "write CPU profile to given file")
	flag.StringVar(&opt.memprofile, "memprofile", "", "write memory profile to given file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: feeddev [options] <device> [<channel> ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opt, flag.Args()
}

// newContext opens the device context. Only the simulated backend is built
// in; a hardware-backed implementation of device.Context mounts here.
func newContext(capture string) device.Context {
	dac := device.NewSimDevice("dac0", "sim-dac")
	dac.AddOutputChannel("voltage0", "V0", 2)
	dac.AddOutputChannel("voltage1", "V1", 2)
	dac.CapturePath = capture
	trig := device.NewSimTrigger("trigger0", "sim-trigger")
	return device.NewSimContext(dac, trig)
}

// configureTrigger looks the named trigger up and attaches it to dev with a
// fixed default rate. A rate that can't be set is reported but not fatal.
func configureTrigger(devctx device.Context, dev device.Device, name string) error {
	trigger := devctx.FindDevice(name)
	if trigger == nil {
		return fmt.Errorf("trigger %s not found", name)
	}
	if !trigger.IsTrigger() {
		return fmt.Errorf("specified device is not a trigger")
	}
	// Fixed rate for now. Try the usual attribute first, fail gracefully
	// to the older name.
	if err := trigger.WriteAttrInt64("sampling_frequency", defaultTriggerRateHz); err != nil {
		if err := trigger.WriteAttrInt64("frequency", defaultTriggerRateHz); err != nil {
			fmt.Fprintf(os.Stderr, "sample rate not set: %v\n", err)
		}
	}
	if err := dev.SetTrigger(trigger); err != nil {
		fmt.Fprintf(os.Stderr, "set trigger failed: %v\n", err)
	}
	return nil
}

// enableChannels enables the requested output channels (all of them when
// names is empty) and returns how many are now active.
func enableChannels(dev device.Device, names []string) int {
	active := 0
	for _, ch := range dev.Channels() {
		if !ch.IsOutput() {
			continue
		}
		if len(names) == 0 {
			ch.Enable()
			active++
			continue
		}
		for _, want := range names {
			if ch.ID() == want || ch.Name() == want {
				ch.Enable()
				active++
				break
			}
		}
	}
	return active
}

func main() {
	// All the work happens in run so that deferred cleanups execute
	// before the process exit status is set.
	os.Exit(run())
}

func run() int {
	feeddev.Build.Githash = githash
	feeddev.Build.Date = buildDate

	opt, args := parseOptions()

	if opt.version {
		fmt.Printf("This is feeddev version %s\n", feeddev.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		return 0
	}
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "incorrect number of arguments\n\n")
		flag.Usage()
		return 1
	}

	if opt.cpuprofile != "" {
		f, err := os.Create(opt.cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Log problems to a rotated file in addition to stderr diagnostics.
	HOME, err := os.UserHomeDir()
	if err == nil {
		logdir := filepath.Join(HOME, ".feeddev", "logs")
		if problemname, err := makeFileExist(logdir, "problems.log"); err == nil {
			feeddev.ProblemLogger = startLogger(problemname)
		}
	}

	cfg := feeddev.Config{
		BufferSize: opt.bufferSize,
		Samples:    opt.samples,
		Cyclic:     opt.cyclic,
		Benchmark:  opt.benchmark,
		Verbose:    opt.verbose,
	}
	// Reject bad combinations before any device resource exists.
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}

	devctx := newContext(opt.capture)
	dev := devctx.FindDevice(args[0])
	if dev == nil {
		fmt.Fprintf(os.Stderr, "device %s not found\n", args[0])
		devctx.Destroy()
		return 1
	}

	if opt.trigger != "" {
		if err := configureTrigger(devctx, dev, opt.trigger); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			devctx.Destroy()
			return 1
		}
	}

	active := enableChannels(dev, args[1:])
	if active == 0 {
		fmt.Fprintf(os.Stderr, "no output channels found\n")
		devctx.Destroy()
		return 1
	}

	sess, err := feeddev.NewSession(devctx, dev, os.Stdin, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		devctx.Destroy()
		return 1
	}

	sampleSize, _ := dev.SampleSize()
	feeddev.WarnSmallPipe(opt.bufferSize*sampleSize, feeddev.ProblemLogger)

	if opt.publishPort > 0 {
		if pub, err := feeddev.NewPublisher(opt.publishPort); err != nil {
			// Status is advisory; a port conflict must not kill the run.
			fmt.Fprintf(os.Stderr, "could not publish status: %v\n", err)
		} else {
			sess.SetPublisher(pub)
			defer pub.Close()
		}
	}

	stopMonitor := feeddev.StartSignalMonitor(sess.Cancel())
	defer stopMonitor()

	db := runlog.Connect()
	defer db.Close()
	start := time.Now()

	code := sess.Run()

	msg := &runlog.TransferMessage{
		ID:        sess.ID,
		Version:   feeddev.Build.Version,
		Device:    dev.ID(),
		Nchannels: active,
		Cyclic:    opt.cyclic,
		Benchmark: opt.benchmark,
		Pushes:    sess.Pushes(),
		Bytes:     sess.BytesPushed(),
		ExitCode:  code,
		Start:     start,
		End:       time.Now(),
	}
	runlog.FillHostInfo(msg)
	db.RecordTransfer(msg)

	writeMemoryProfile(opt.memprofile)
	return code
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If memprofile is the empty string, do not write.
func writeMemoryProfile(memprofile string) {
	if memprofile == "" {
		return
	}
	f, err := os.Create(memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
