// cloakgov — host-resident resource governor for long-running compute
// workloads on a Linux node. Samples per-process CPU/RAM/GPU/disk/
// network/thermal/power, throttles ("cloaks") workloads to keep node
// telemetry under configured ceilings, and restores original limits
// when safe.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"github.com/cloakgov/cloakgov/internal/adapter"
	"github.com/cloakgov/cloakgov/internal/config"
	"github.com/cloakgov/cloakgov/internal/logging"
	"github.com/cloakgov/cloakgov/internal/supervisor"
)

var version = "0.1.0"

const defaultPidfile = "/var/run/cloakgov.pid"

func main() {
	rootCmd := &cobra.Command{
		Use:     "cloakgov",
		Short:   "Host-resident resource governor for long-running compute workloads",
		Version: version,
	}

	var (
		configPath string
		debug      bool
		pidfile    string
	)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the governor in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath, debug, pidfile)
		},
	}
	startCmd.Flags().StringVar(&configPath, "config", os.Getenv("CLOAKGOV_CONFIG"), "path to the JSON configuration document")
	startCmd.Flags().BoolVar(&debug, "debug", false, "enable development-mode console logging")
	startCmd.Flags().StringVar(&pidfile, "pidfile", defaultPidfile, "path to write the running instance's pid")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running instance to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(pidfile)
		},
	}
	stopCmd.Flags().StringVar(&pidfile, "pidfile", defaultPidfile, "path to the running instance's pidfile")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a governor instance is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(pidfile)
		},
	}
	statusCmd.Flags().StringVar(&pidfile, "pidfile", defaultPidfile, "path to the running instance's pidfile")

	capabilitiesCmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Show available throttling backends on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapabilities()
		},
	}

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, capabilitiesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(configPath string, debug bool, pidfile string) error {
	log, err := logging.New(debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("configuration invalid", zap.Error(err))
		os.Exit(1)
	}

	if err := writePidfile(pidfile); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	defer os.Remove(pidfile)

	sup, err := supervisor.New(cfg, log)
	if err != nil {
		log.Error("supervisor initialization failed", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup.Start(ctx)
	<-ctx.Done()

	residual, err := sup.Shutdown(context.Background())
	if err != nil {
		log.Error("shutdown encountered an error", zap.Error(err))
	}
	if residual > 0 {
		log.Warn("shutdown completed with unrestored processes", zap.Int("residual_restore_failures", residual))
		os.Exit(2)
	}
	return nil
}

func runStop(pidfile string) error {
	pid, err := readPidfile(pidfile)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	fmt.Printf("sent SIGTERM to pid %d\n", pid)
	return nil
}

func runStatus(pidfile string) error {
	pid, err := readPidfile(pidfile)
	if err != nil {
		fmt.Println("not running")
		return nil
	}
	if err := syscall.Kill(pid, 0); err != nil {
		fmt.Println("not running (stale pidfile)")
		return nil
	}
	fmt.Printf("running (pid %d)\n", pid)
	return nil
}

// runCapabilities reports which throttling backends this host actually
// supports, adapted from the teacher's `ebpf capabilities` report.
func runCapabilities() error {
	cgroup := adapter.NewCgroup("/sys/fs/cgroup")
	fmt.Printf("cgroup v2:  %v\n", cgroup.Available())

	gpuCtx := adapter.NewGPUContext()
	fmt.Printf("nvml (gpu): %v\n", gpuCtx.Ready())
	gpuCtx.Shutdown()

	_, linkErr := netlink.LinkList()
	fmt.Printf("netlink:    %v\n", linkErr == nil)

	return nil
}

func writePidfile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPidfile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}
