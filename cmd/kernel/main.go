// Command kernel is the hart 0 entry point: it loads the boot
// configuration, brings up physical memory and the scheduler, execs
// the init binary (all through boot.HartEntry for hart 0), and calls
// boot.HartEntry for every other hart. No hart enters boot.RunHart's
// dispatch loop from here. On real
// hardware this file's role is played by the assembly entry stub that
// calls into Go once per hart; here it is an ordinary Go main so the
// bring-up sequence can be exercised on a host.
package main

import (
	"flag"
	"os"

	"boot"
	"config"
	"klog"
)

func main() {
	cfgPath := flag.String("config", "", "path to a boot config YAML file")
	initPath := flag.String("init", "", "path to the init binary (ELF)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			klog.Init(cfg.LogLevel).Sugar().Fatalf("loading boot config: %v", err)
		}
		cfg = loaded
	}
	if *initPath != "" {
		cfg.InitPath = *initPath
	}

	initImage, err := os.ReadFile(cfg.InitPath)
	if err != nil {
		klog.Init(cfg.LogLevel).Sugar().Fatalf("reading init binary %s: %v", cfg.InitPath, err)
	}

	params := boot.Params{
		NumHarts:  cfg.NumHarts,
		MemBase:   0x80000000,
		MemPages:  cfg.MemMB * 1024 * 1024 / 4096,
		InitPath:  cfg.InitPath,
		InitImage: initImage,
	}

	log := boot.HartEntry(0, params)
	defer log.Sync()

	done := make(chan struct{})
	for h := 1; h < cfg.NumHarts; h++ {
		go boot.HartEntry(h, params)
	}
	<-done
}
