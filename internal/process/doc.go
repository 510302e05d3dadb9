// Package process runs one-shot helper executables under a deadline.
//
// vspid uses it at boot to run the board ASIC-init tool. The command is
// started in its own process group so that a timeout can stop the tool and
// anything it spawned.
//
// Features:
//   - Deadline with SIGTERM then SIGKILL escalation to the whole group
//   - Line-based capture of stdout/stderr into debug logs
//   - A bounded output tail and exit code in the Result
//
// Example usage:
//
//	res, err := process.Run(ctx, process.Config{
//	    Name:    "asic-init",
//	    Binary:  "/usr/sbin/asic-init",
//	    Args:    []string{"--all"},
//	    Timeout: 20 * time.Second,
//	}, logger)
//	if err != nil {
//	    log.Warn("asic init failed", "exit_code", res.ExitCode, "error", err)
//	}
package process
