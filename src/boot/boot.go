// Package boot brings up every hart. Hart 0 runs the full cold-boot
// sequence (physical memory, the page allocator, the scheduler, the
// init task); every other hart spins on a BOOTED flag (written once
// cold boot finishes) and then returns without any per-hart setup.
// This replaces the teacher's x86 INIT/SIPI-and-IPI application
// processor startup (LAPIC-addressed, irrelevant once LAPIC is gone)
// with the riscv64/OpenSBI convention tinyrange-cc's boot plan
// documents: every hart enters Go code with a0 = hart id, already
// running, no explicit "start this other core" signal required --
// SBI (or a hypervisor) started them all, and the kernel's only job
// is making every hart but the first wait its turn.
package boot

import (
	"sync/atomic"

	"go.uber.org/zap"

	"blkdev"
	"config"
	"fsapi"
	"klog"
	"mem"
	"proc"
	"sched"
	"sig"
	"trap"
	"vm"
)

var booted int32

/// Params bundles the boot-time configuration a real port would read
/// from the device tree blob SBI hands off in a1; config.Load parses
/// the equivalent out of a YAML boot config for this stand-in.
type Params struct {
	NumHarts  int
	MemBase   mem.Pa_t
	MemPages  int
	InitPath  string
	InitImage []byte
}

/// HartEntry is what every hart's Go entry point calls; hartid 0 runs
/// cold boot and every other hart blocks until cold boot publishes
/// BOOTED, then returns the shared logger; it does not enter RunHart's
/// dispatch loop (Processor slots are created by sched.Init during cold
/// boot). No cross-hart IPI is sent or awaited, since SBI already placed every hart in Go
/// code before boot.HartEntry was ever called.
func HartEntry(hartid int, p Params) *zap.Logger {
	if hartid == 0 {
		log := coldBoot(p)
		atomic.StoreInt32(&booted, 1)
		return log
	}
	for atomic.LoadInt32(&booted) == 0 {
		// spin; a real port would WFI here instead of busy-waiting.
	}
	return klog.L()
}

func coldBoot(p Params) *zap.Logger {
	cfg := config.Default()
	log := klog.Init(cfg.LogLevel)

	mem.PhysInit(p.MemBase, p.MemPages, log)
	sched.Init(p.NumHarts)
	sig.Init()

	vm.RemoteFence = sbiRemoteFence

	disk := blkdev.MkRamdisk(4096)
	if p.InitImage != nil {
		disk.LoadImage(p.InitImage)
	}

	init := proc.SpawnInit("init", nil)

	ino := fsapi.NewMemInode(p.InitImage)
	entry, sp, err := proc.Exec(init, proc.ExecArgs{
		Path: p.InitPath,
		Argv: []string{p.InitPath},
		Envp: nil,
		Ino:  ino,
	})
	if err != 0 {
		log.Fatal("failed to exec init", zap.Int("err", int(err)))
	}
	log.Info("booted", zap.Int("harts", p.NumHarts),
		zap.Uintptr("entry", uintptr(entry)), zap.Uintptr("sp", uintptr(sp)))

	sched.Enqueue(init)
	_ = disk
	return log
}

// sbiRemoteFence is installed as vm.RemoteFence: on real hardware this
// issues the SBI RFENCE extension's sbi_remote_sfence_vma call to every
// hart in hartmask, the riscv64 equivalent of the x86 LAPIC-addressed
// TLB-shootdown IPI the teacher's Tlbshoot used to send. There is no
// SBI call surface in this Go process, so it is a documented no-op
// stand-in rather than a fabricated syscall.
func sbiRemoteFence(root mem.Pa_t, startva uintptr, pgcount int) {
	_ = root
	_ = startva
	_ = pgcount
}

/// RunHart starts hart hartid's scheduling loop: pick a runnable task,
/// install it as Current, run trap.Handle on whatever trap it next
/// takes, rearm the timer if (and only if) that trap was itself a
/// timer interrupt, let sig.Deliver redirect into a pending handler if
/// one is due, and repeat. The actual resume-in-user-mode step (writing
/// sepc/satp and executing sret) is assembly a Go process cannot
/// perform and is therefore left to the caller's trapframe plumbing;
/// this loop only owns the scheduling decision and the rearm/delivery
/// discipline around it. trap.Handle reports wasTimer freshly on every
/// call rather than this loop consulting shared state, so
/// concurrently-trapping harts never race over whose timer cause gets
/// rearmed.
func RunHart(hartid int, dispatch func(*proc.Task_t) *trap.Frame) {
	hart := sched.Hart(hartid)
	for {
		t := sched.Pick()
		hart.SetCurrent(t)
		f := dispatch(t)
		if f != nil {
			cont, wasTimer := trap.Handle(hartid, t, f)
			if trap.Rearm(wasTimer) {
				rearmTimer(hartid)
			}
			if cont {
				sig.Deliver(t, f)
			}
		}
		hart.SetCurrent(nil)
		if t.State() == proc.Running {
			sched.Enqueue(t)
		}
	}
}

// rearmTimer bumps this hart's stimecmp to the next tick deadline; on
// real hardware this is a single CSR write (or an SBI set-timer call),
// left a documented no-op here the same way sbiRemoteFence is, since
// there is no stimecmp register in a hosted Go process.
func rearmTimer(hartid int) {
	_ = hartid
}
