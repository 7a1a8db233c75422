package remote

import (
	"math"
	"testing"

	"nodesentinel/internal/faults"
)

const topMiB = `top - 10:15:01 up 12 days,  3:04,  2 users,  load average: 0.52, 0.61, 0.70
Tasks: 201 total,   1 running, 200 sleeping,   0 stopped,   0 zombie
%Cpu(s):  3.1 us,  1.0 sy,  0.0 ni, 95.4 id,  0.3 wa,  0.0 hi,  0.2 si,  0.0 st
MiB Mem :   8000.0 total,    345.6 free,   2000.0 used,   5654.4 buff/cache
MiB Swap:   2048.0 total,   2048.0 free,      0.0 used.   5800.0 avail Mem`

const topKiB = `top - 10:15:01 up 1 day,  3:04,  1 user,  load average: 1.00, 1.00, 1.00
%Cpu(s): 90.0 us,  5.0 sy,  0.0 ni,  5.0 id,  0.0 wa,  0.0 hi,  0.0 si,  0.0 st
KiB Mem : 16000000 total,  1000000 free, 12000000 used,  3000000 buff/cache`

func TestParseTopMiB(t *testing.T) {
	res, problems := ParseTop(topMiB)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems %v", problems)
	}
	if !res.HasCPU || math.Abs(res.CPUPct-4.6) > 1e-9 {
		t.Fatalf("cpu = %v", res.CPUPct)
	}
	if !res.HasRAM || res.RAMTotal != 8000<<20 || res.RAMPct() != 25 {
		t.Fatalf("ram = %+v (%.2f%%)", res, res.RAMPct())
	}
}

func TestParseTopKiB(t *testing.T) {
	res, problems := ParseTop(topKiB)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems %v", problems)
	}
	if res.CPUPct != 95 {
		t.Fatalf("cpu = %v", res.CPUPct)
	}
	if res.RAMTotal != 16000000*1024 || res.RAMPct() != 75 {
		t.Fatalf("ram = %+v", res)
	}
}

func TestParseTopMissingLinesDegrades(t *testing.T) {
	res, problems := ParseTop("garbage")
	if res.HasCPU || res.HasRAM {
		t.Fatalf("nothing should be parsed: %+v", res)
	}
	if len(problems) != 2 {
		t.Fatalf("want 2 problems, got %v", problems)
	}
	for _, p := range problems {
		if faults.KindOf(p) != faults.KindParse {
			t.Fatalf("problem %v is not a parse failure", p)
		}
	}
}

func TestParseUptime(t *testing.T) {
	cases := []struct {
		in     string
		load1  float64
		uptime string
	}{
		{" 10:15:01 up 12 days,  3:04,  2 users,  load average: 0.52, 0.61, 0.70", 0.52, "12 d, 3:04"},
		{" 10:15:01 up 5 min,  1 user,  load average: 2.10, 1.00, 0.50", 2.10, "5 min"},
		{" 10:15:01 up 1 day,  load average: 0,40, 0,30, 0,20", 0.40, "1 d"},
	}
	for _, tc := range cases {
		got, err := ParseUptime(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got.Load1 != tc.load1 || got.Uptime != tc.uptime {
			t.Fatalf("%q: got %+v", tc.in, got)
		}
	}

	if _, err := ParseUptime("no numbers here"); faults.KindOf(err) != faults.KindParse {
		t.Fatalf("want parse failure, got %v", err)
	}
}

func TestParseNproc(t *testing.T) {
	if n, err := ParseNproc("4\n", 2); err != nil || n != 4 {
		t.Fatalf("got %d, %v", n, err)
	}
	if n, err := ParseNproc("", 2); err == nil || n != 2 {
		t.Fatalf("empty output must default to 2, got %d, %v", n, err)
	}
}

func TestParseDF(t *testing.T) {
	out := `Filesystem     1024-blocks      Used Available Capacity Mounted on
/dev/mmcblk0p2    30000000  27000000   3000000      90% /
/dev/sda1        976000000 488000000 488000000      50% /mnt/hdd
broken line`
	disks, err := ParseDF(out)
	if err != nil {
		t.Fatalf("parse df: %v", err)
	}
	if len(disks) != 2 {
		t.Fatalf("want 2 disks, got %d", len(disks))
	}
	if disks[0].Mount != "/" || disks[0].UsedPct != 90 || disks[0].UsedBytes != 27000000*1024 {
		t.Fatalf("unexpected root disk %+v", disks[0])
	}
	if disks[1].Mount != "/mnt/hdd" {
		t.Fatalf("unexpected mount %q", disks[1].Mount)
	}

	if _, err := ParseDF("Filesystem 1024-blocks Used Available Capacity Mounted on"); err == nil {
		t.Fatal("header only must fail")
	}
}

func TestParseServiceStatuses(t *testing.T) {
	got := ParseServiceStatuses("active\nfailed\n", []string{"lnd", "bitcoin", "tor"})
	if got["lnd"] != StatusActive || got["bitcoin"] != StatusFailed || got["tor"] != StatusUnknown {
		t.Fatalf("unexpected statuses %v", got)
	}
	if !got["bitcoin"].Down() || got["lnd"].Down() {
		t.Fatal("Down misclassifies")
	}
}

func TestTimeoutFor(t *testing.T) {
	cases := map[string]float64{
		"top -bn1":                   SnapshotTimeout.Seconds(),
		"df -P -k /":                 SnapshotTimeout.Seconds(),
		"uptime":                     ProbeTimeout.Seconds(),
		"systemctl is-active lnd":    ProbeTimeout.Seconds(),
		"sudo systemctl restart lnd": RestartTimeout.Seconds(),
		"systemctl status lnd":       DefaultTimeout.Seconds(),
	}
	for cmd, want := range cases {
		if got := TimeoutFor(cmd, 0).Seconds(); got != want {
			t.Fatalf("%s: want %vs, got %vs", cmd, want, got)
		}
	}
}

func TestHumanBytes(t *testing.T) {
	if got := HumanBytes(3 << 30); got != "3GB" {
		t.Fatalf("got %s", got)
	}
	if got := HumanBytes(512); got != "512B" {
		t.Fatalf("got %s", got)
	}
}
