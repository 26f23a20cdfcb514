package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/devsessions/devsessions/internal/gateway"
)

var gatewayPort int

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Manage the loopback Gateway Server relay for sandboxed callers",
}

var gatewayInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Start the Gateway Server detached, persisting its pid to $HOME/.dev-sessions",
	// OS-specific daemon installers (launchd/systemd unit templates) are
	// out of scope; this reuses the same spawn-detached-and-record-a-pid
	// approach as the RPC Daemon Manager rather than generating service
	// unit files.
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		homeDir := filepath.Join(home, ".dev-sessions")
		if err := os.MkdirAll(homeDir, 0o755); err != nil {
			return err
		}

		if pid, ok := readGatewayPID(homeDir); ok && processAlive(pid) {
			fmt.Printf("gateway already running (pid %d)\n", pid)
			return nil
		}

		logFile, err := os.OpenFile(filepath.Join(homeDir, "gateway.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open gateway log: %w", err)
		}
		defer logFile.Close()

		exe, err := os.Executable()
		if err != nil {
			return err
		}
		port := gatewayPort
		if port == 0 {
			port = gateway.Port()
		}

		proc := exec.Command(exe, "gateway", "run", "--port", fmt.Sprint(port))
		proc.Stdout = logFile
		proc.Stderr = logFile
		setDetached(proc)
		if err := proc.Start(); err != nil {
			return fmt.Errorf("spawn gateway: %w", err)
		}
		if err := writeGatewayPID(homeDir, proc.Process.Pid); err != nil {
			return err
		}
		go proc.Wait()
		fmt.Printf("gateway started (pid %d, port %d)\n", proc.Process.Pid, port)
		return nil
	},
}

var gatewayUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop a gateway previously started by install",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		homeDir := filepath.Join(home, ".dev-sessions")
		pid, ok := readGatewayPID(homeDir)
		if !ok {
			fmt.Println("gateway not running")
			return nil
		}
		if err := killProcess(pid); err != nil {
			return fmt.Errorf("stop gateway pid %d: %w", pid, err)
		}
		_ = os.Remove(gatewayPIDPath(homeDir))
		fmt.Printf("gateway stopped (pid %d)\n", pid)
		return nil
	},
}

var gatewayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the Gateway Server is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := gateway.TargetURL()
		if !gateway.InSandbox() {
			target = fmt.Sprintf("http://127.0.0.1:%d", gateway.Port())
		}
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(target + "/health")
		if err != nil {
			fmt.Printf("unreachable: %v\n", err)
			return nil
		}
		defer resp.Body.Close()
		var body map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		fmt.Printf("%s: %v\n", target, body["status"])
		return nil
	},
}

var gatewayRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the Gateway Server in the foreground (used internally by install)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newLocalDriver()
		if err != nil {
			return err
		}
		port := gatewayPort
		if port == 0 {
			port = gateway.Port()
		}
		srv := gateway.New(d.manager, port)
		fmt.Printf("gateway listening on 127.0.0.1:%d\n", port)
		return srv.Serve(rootCtx)
	},
}

func gatewayPIDPath(homeDir string) string { return filepath.Join(homeDir, "gateway.pid") }

func readGatewayPID(homeDir string) (int, bool) {
	data, err := os.ReadFile(gatewayPIDPath(homeDir)) // #nosec G304 - fixed path under homeDir
	if err != nil {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, false
	}
	return pid, true
}

func writeGatewayPID(homeDir string, pid int) error {
	return os.WriteFile(gatewayPIDPath(homeDir), []byte(fmt.Sprintf("%d", pid)), 0o600)
}

func processAlive(pid int) bool {
	return killProcess0(pid)
}

func init() {
	gatewayCmd.PersistentFlags().IntVar(&gatewayPort, "port", 0, "gateway bind/target port (default from DEV_SESSIONS_GATEWAY_PORT or 6767)")
	gatewayCmd.AddCommand(gatewayInstallCmd, gatewayUninstallCmd, gatewayStatusCmd, gatewayRunCmd)
	rootCmd.AddCommand(gatewayCmd)
}
