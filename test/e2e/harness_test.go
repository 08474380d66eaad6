//go:build e2e

// Package e2e drives the collectors' parsing/delta logic against canned
// illumos-style utility output produced inside a disposable container,
// adapted from the teacher's test/e2e/infra podman harness (there used
// to stand up a disposable VM-like container to exercise the migration
// agent against; here used to fake dladm/kstat/zoneadm/zpool/zfs/swap/
// diskinfo/iostat/zlogin, since no real illumos host is available in
// CI). Lifecycle (create/start/stop/remove) goes through the podman/v5
// Go bindings; command output capture goes through the Command Runner
// shelling out to the podman CLI's own `exec`, since the bindings'
// attach/exec streaming API is awkward to use for a one-shot capture.
//
// Requires a reachable podman socket and the podman CLI on PATH. Each spec
// skips when the socket is unreachable or the busybox image cannot be
// pulled; a missing podman CLI is not checked and makes the specs fail.
package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/bindings/images"
	"github.com/containers/podman/v5/pkg/specgen"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/Makr91/zoneweaver-api/internal/collectors"
	"github.com/Makr91/zoneweaver-api/internal/command"
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Host Utility Fake Suite")
}

// fakeScripts are shell stand-ins for illumos host utilities, each
// printing the canned parseable-mode output its real collector expects
// (§4.6). They are bind-mounted into the container ahead of PATH.
var fakeScripts = map[string]string{
	"dladm": `#!/bin/sh
case "$*" in
  *show-link*) echo "net0:1000:500000:0:800:400000:0" ;;
  *show-phys*) echo "net0:1000" ;;
esac
`,
	"kstat": `#!/bin/sh
case "$*" in
  *cpu_stat*) printf 'cpu_stat:0:cpu_stat0:user\t1000\ncpu_stat:0:cpu_stat0:kernel\t500\ncpu_stat:0:cpu_stat0:idle\t8500\n' ;;
  *arcstats*) printf 'zfs:0:arcstats:size\t1073741824\nzfs:0:arcstats:c\t2147483648\nzfs:0:arcstats:hits\t900\nzfs:0:arcstats:misses\t100\n' ;;
esac
`,
	"zoneadm": `#!/bin/sh
echo "1:web01:running:/zones/web01:abc-123:ipkg:excl:0"
`,
	"swap": `#!/bin/sh
echo "swapfile             dev  swaplo blocks   free"
echo "/dev/zvol/dsk/rpool/swap 256,1  16  2097152 2097152"
`,
	"diskinfo": `#!/bin/sh
echo "SSD:0:c1t0d0:no:512:512:256060514304"
`,
	"iostat": `#!/bin/sh
echo "extended device statistics"
echo "    r/s    w/s   kr/s   kw/s wait actv wsvc_t asvc_t  %w  %b device"
echo "    1.0    2.0   10.0   20.0  0.0  0.1    0.0    1.0   0   1 c1t0d0"
`,
	"zpool": `#!/bin/sh
printf "rpool\t0\t256060514304\t0\t0\t0\t0\t0\t0\t-\n"
`,
	"zfs": `#!/bin/sh
printf "rpool/export/home\t1073741824\t255012450304\n"
`,
	"zlogin": `#!/bin/sh
echo "zlogin: fake console for $2"
`,
}

var _ = Describe("host utility fakes inside a disposable container", func() {
	var (
		ctx         context.Context
		containerID string
		scriptDir   string
		runner      *command.Runner
	)

	BeforeEach(func() {
		socket := os.Getenv("PODMAN_SOCKET")
		if socket == "" {
			socket = "unix:///run/podman/podman.sock"
		}
		c, err := bindings.NewConnection(context.Background(), socket)
		if err != nil {
			Skip("no reachable podman socket: " + err.Error())
		}
		ctx = c
		runner = command.New()

		scriptDir = GinkgoT().TempDir()
		for name, body := range fakeScripts {
			Expect(os.WriteFile(filepath.Join(scriptDir, name), []byte(body), 0o755)).To(Succeed())
		}

		if _, err := images.Pull(ctx, "docker.io/library/busybox:latest", nil); err != nil {
			Skip("cannot pull busybox image: " + err.Error())
		}

		s := specgen.NewSpecGenerator("docker.io/library/busybox:latest", false)
		s.Name = fmt.Sprintf("zoneweaver-e2e-%d", time.Now().UnixNano())
		s.Command = []string{"sleep", "600"}
		s.Env = map[string]string{"PATH": "/fake:/bin:/usr/bin"}
		s.Mounts = []specs.Mount{{
			Destination: "/fake",
			Type:        "bind",
			Source:      scriptDir,
			Options:     []string{"ro", "bind"},
		}}

		created, err := containers.CreateWithSpec(ctx, s, nil)
		Expect(err).NotTo(HaveOccurred())
		containerID = created.ID
		Expect(containers.Start(ctx, containerID, nil)).To(Succeed())
	})

	AfterEach(func() {
		if containerID == "" {
			return
		}
		_ = containers.Stop(ctx, containerID, nil)
		_, _ = containers.Remove(ctx, containerID, nil)
	})

	execIn := func(argv ...string) string {
		full := append([]string{"podman", "exec", containerID}, argv...)
		res, err := runner.Run(context.Background(), full, command.Options{Timeout: 10 * time.Second})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.OK).To(BeTrue(), "stderr: %s", res.Stderr)
		return res.Stdout
	}

	It("parses dladm show-link output the way NetworkCollector does", func() {
		rows := collectors.ParseColonDelimited(execIn("dladm", "show-link", "-s", "-p"), 7)
		Expect(rows).To(HaveLen(1))
		Expect(rows[0][0]).To(Equal("net0"))
		rbytes, ok := collectors.ParseNonNegativeInt(rows[0][2])
		Expect(ok).To(BeTrue())
		Expect(rbytes).To(Equal(uint64(500000)))
	})

	It("parses kstat cpu_stat output the way CPUCollector does", func() {
		out := execIn("kstat", "-p", "-m", "cpu_stat", "-s", "user,kernel,idle")
		Expect(out).To(ContainSubstring("cpu_stat0:user"))
		Expect(out).To(ContainSubstring("8500"))
	})

	It("parses zoneadm list output", func() {
		out := execIn("zoneadm", "list", "-p")
		rows := collectors.ParseColonDelimited(out, 8)
		Expect(rows).To(HaveLen(1))
		Expect(rows[0][1]).To(Equal("web01"))
	})

	It("parses zpool iostat output the way the storage collector does", func() {
		Expect(execIn("zpool", "iostat", "-Hp")).To(ContainSubstring("rpool"))
	})

	It("parses zfs list output the way the storage collector does", func() {
		out := execIn("zfs", "list", "-Hp", "-o", "name,used,avail")
		used, ok := collectors.ParseNonNegativeInt("1073741824")
		Expect(ok).To(BeTrue())
		Expect(out).To(ContainSubstring("rpool/export/home"))
		Expect(used).To(Equal(uint64(1073741824)))
	})

	It("runs zlogin -C against the fake binary, the way the Console Multiplexer spawns a PTY", func() {
		Expect(execIn("zlogin", "-C", "web01")).To(ContainSubstring("web01"))
	})
})
