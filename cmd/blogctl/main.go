// Command blogctl is a minimal internal client for exercising blogd's
// control socket during development and testing -- not the full external
// CLI surface, just enough to drive each command by hand.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"blogd/internal/control"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "blogctl",
	Short: "send a single control command to blogd",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/blogd.sock", "control socket path")

	rootCmd.AddCommand(
		simpleCmd("ping", control.MagicPing),
		simpleCmd("quit", control.MagicQuit),
		simpleCmd("final", control.MagicFinal),
		simpleCmd("close", control.MagicClose),
		simpleCmd("sysinit", control.MagicSysInit),
		simpleCmd("deactivate", control.MagicDeactivate),
		simpleCmd("reactivate", control.MagicReactivate),
		chrootCmd,
		askPwdCmd,
		cachedPwdCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "blogctl:", err)
		os.Exit(1)
	}
}

// simpleCmd builds a no-argument command that sends magic and prints the
// ACK/NAK reply byte.
func simpleCmd(use string, magic control.Magic) *cobra.Command {
	return &cobra.Command{
		Use: use,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := control.WriteFrame(conn, control.Frame{Magic: magic}); err != nil {
				return err
			}
			return printReply(conn)
		},
	}
}

var chrootCmd = &cobra.Command{
	Use:   "chroot <path>",
	Short: "ask blogd to chroot into path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		f := control.Frame{Magic: control.MagicChroot, Arg: []byte(args[0])}
		if err := control.WriteFrame(conn, f); err != nil {
			return err
		}
		return printReply(conn)
	},
}

var askPwdCmd = &cobra.Command{
	Use:   "ask-pwd <prompt>",
	Short: "ask blogd to prompt every console for a password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		f := control.Frame{Magic: control.MagicAskPwd, Arg: []byte(args[0])}
		if err := control.WriteFrame(conn, f); err != nil {
			return err
		}
		return printPasswordReply(conn)
	},
}

var cachedPwdCmd = &cobra.Command{
	Use:   "cached-pwd",
	Short: "fetch the last password blogd collected, without prompting again",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := control.WriteFrame(conn, control.Frame{Magic: control.MagicCachedPwd}); err != nil {
			return err
		}
		return printPasswordReply(conn)
	},
}

func dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	return conn, nil
}

// printReply reads one reply byte (ACK/NAK/ENQ) and reports it.
func printReply(conn net.Conn) error {
	var b [1]byte
	if _, err := conn.Read(b[:]); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	switch b[0] {
	case control.ReplyACK:
		fmt.Println("ACK")
	case control.ReplyNAK:
		fmt.Println("NAK")
		os.Exit(1)
	default:
		fmt.Printf("unexpected reply byte 0x%02x\n", b[0])
		os.Exit(1)
	}
	return nil
}

// printPasswordReply reads either a single ENQ byte (no password available)
// or a full MLT frame and prints the password.
func printPasswordReply(conn net.Conn) error {
	var b [1]byte
	if _, err := conn.Read(b[:]); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if b[0] == control.ReplyENQ {
		fmt.Println("(no password available)")
		return nil
	}
	rest := io.MultiReader(bytes.NewReader(b[:]), conn)
	pw, err := control.ReadMLT(rest)
	if err != nil {
		return fmt.Errorf("read password reply: %w", err)
	}
	fmt.Println(string(pw))
	return nil
}
