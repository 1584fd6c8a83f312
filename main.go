package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bendahl/uinput"
	"golang.org/x/sys/unix"

	"github.com/andresousadotpt/hidwatch/internal/dispatcher"
	"github.com/andresousadotpt/hidwatch/internal/hid"
	"github.com/andresousadotpt/hidwatch/internal/manager"
)

var version = "0.3.0"

func configDir() string {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, "hidwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "hidwatch")
}

// checkAccess fails unless the process can open input devices: root, or a
// member of the input group.
func checkAccess() error {
	if unix.Getuid() == 0 {
		return nil
	}
	if g, err := user.LookupGroup("input"); err == nil {
		gid, _ := strconv.Atoi(g.Gid)
		groups, _ := os.Getgroups()
		if slices.Contains(groups, gid) {
			return nil
		}
	}
	return fmt.Errorf("hidwatch requires root or the 'input' group:\n  sudo usermod -aG input $USER\nThen log out and back in")
}

func run() error {
	if err := checkAccess(); err != nil {
		return err
	}

	dir := configDir()
	cfg, err := LoadAppConfig(dir)
	if err != nil {
		return fmt.Errorf("load app config: %w", err)
	}

	var level slog.LevelVar
	logger, logFile, err := newLogger(cfg.Log, &level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	logger.Info("hidwatch starting", "version", version)
	if cfg.ConfigVersion < latestConfigVersion {
		logger.Warn("config is outdated, run 'hidwatch migrate'", "config_version", cfg.ConfigVersion)
	}

	lock, err := lockSingleInstance(filepath.Join(pidDirectory(), "hidwatch.pid"))
	if err != nil {
		if errors.Is(err, errAlreadyRunning) {
			logger.Info("exit since another process is running")
		}
		return err
	}
	defer lock.Release()

	table, err := ParseRemap(cfg.Remap)
	if err != nil {
		return fmt.Errorf("remap: %w", err)
	}

	var sink KeySink
	if cfg.Devices.Grab {
		vkbd, err := uinput.CreateKeyboard("/dev/uinput", []byte("hidwatch"))
		if err != nil {
			return fmt.Errorf("create virtual keyboard: %w", err)
		}
		defer vkbd.Close()
		sink = vkbd
	}
	remapper := NewRemapper(table, sink, logger)

	grab := cfg.Devices.Grab
	mgr := manager.New(dispatcher.HardwareTimeSource{}, manager.Options{
		NewBackend: func(path string) hid.Backend {
			return hid.NewEvdevBackend(path, grab)
		},
		Pipeline:      remapper,
		RetryInterval: time.Duration(cfg.RetryInterval),
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	signal.Ignore(syscall.SIGUSR1, syscall.SIGUSR2)

	discovery := NewDiscovery(cfg.Devices, mgr, logger)
	n, err := discovery.Scan()
	if err != nil {
		mgr.Close()
		return fmt.Errorf("find devices: %w", err)
	}
	logger.Info("monitoring input devices", "matched", n, "grab", grab, "remapped_keys", len(table))

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := discovery.Run(ctx); err != nil {
			errCh <- fmt.Errorf("device discovery: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		err := watchConfig(ctx, dir, logger, func(next *AppConfig) {
			if err := setLevel(&level, next.Log.Level); err != nil {
				logger.Warn("log level not changed", "error", err)
			}
			t, err := ParseRemap(next.Remap)
			if err != nil {
				logger.Warn("remap not changed", "error", err)
				return
			}
			remapper.SetTable(t)
			if next.RetryInterval != cfg.RetryInterval || !slices.Equal(next.Devices.Ignore, cfg.Devices.Ignore) ||
				next.Devices.Match != cfg.Devices.Match || next.Devices.Grab != cfg.Devices.Grab {
				logger.Info("device settings change on restart")
			}
		})
		if err != nil {
			// Hot reload is optional; a missing config dir is not fatal.
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("stopping", "error", err)
		stop()
	}

	logger.Info("shutting down")
	mgr.Close()
	wg.Wait()
	logger.Info("hidwatch is terminated")
	return err
}

// listDevices prints every input device with an event node and whether
// the current config would observe it.
func listDevices() error {
	cfg, err := LoadAppConfig(configDir())
	if err != nil {
		return fmt.Errorf("load app config: %w", err)
	}

	f, err := os.Open(procInputDevices)
	if err != nil {
		return err
	}
	defer f.Close()

	devices, err := ParseInputDevices(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", procInputDevices, err)
	}

	d := NewDiscovery(cfg.Devices, nil, nil)
	for _, dev := range devices {
		kind := "other"
		if dev.IsKeyboard() {
			kind = "keyboard"
		}
		mark := " "
		if d.Matches(dev) {
			mark = "*"
		}
		fmt.Printf("%s %-22s %-8s %s\n", mark, filepath.Join(devInputDir, dev.Event()), kind, dev.Name)
	}
	return nil
}

func main() {
	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "run":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "hidwatch: %v\n", err)
			os.Exit(1)
		}
	case "init":
		dir := configDir()
		fmt.Printf("hidwatch: initializing config in %s\n", dir)
		if err := initConfig(dir); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("hidwatch: config initialized")
	case "migrate":
		if err := migrateConfig(configDir()); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "devices":
		if err := listDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("hidwatch %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "usage: hidwatch [run|init|migrate|devices|version]\n")
		os.Exit(1)
	}
}
