// Package bustest runs a private dbus-daemon for tests.
package bustest

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const configTemplate = `<!DOCTYPE busconfig PUBLIC "-//freedesktop//DTD D-Bus Bus Configuration 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/busconfig.dtd">
<busconfig>
  <type>session</type>
  <listen>unix:tmpdir=%s</listen>
  <policy context="default">
    <allow send_destination="*" eavesdrop="true"/>
    <allow eavesdrop="true"/>
    <allow own="*"/>
  </policy>
</busconfig>
`

// Daemon is a running private bus.
type Daemon struct {
	Address string

	cmd      *exec.Cmd
	stopOnce sync.Once
}

// Start launches dbus-daemon and returns once it accepts connections.
// The test is skipped when dbus-daemon is not installed. The daemon is
// stopped when the test ends.
func Start(t *testing.T) *Daemon {
	t.Helper()

	bin, err := exec.LookPath("dbus-daemon")
	if err != nil {
		t.Skip("dbus-daemon not installed")
	}

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bus.conf")
	if err := os.WriteFile(cfgPath, []byte(fmt.Sprintf(configTemplate, dir)), 0o644); err != nil {
		t.Fatalf("failed to write bus config: %v", err)
	}

	cmd := exec.Command(bin, "--config-file="+cfgPath, "--nofork", "--print-address")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("failed to open dbus-daemon stdout: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Skipf("failed to start dbus-daemon: %v", err)
	}

	d := &Daemon{cmd: cmd}
	t.Cleanup(d.Stop)

	addr := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(stdout).ReadString('\n')
		addr <- strings.TrimSpace(line)
	}()

	select {
	case a := <-addr:
		if a == "" {
			t.Skip("dbus-daemon exited without printing an address")
		}
		d.Address = a
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for dbus-daemon address")
	}
	return d
}

// Stop kills the daemon, dropping every connection to it.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		if d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
			_ = d.cmd.Wait()
		}
	})
}
