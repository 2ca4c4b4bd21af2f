// kvcli is the command-line client for a kvmesh node.
//
// Usage:
//
//	kvcli put mykey "hello world"   --node localhost:8080
//	kvcli get mykey                 --node localhost:8080
//	kvcli delete mykey               --node localhost:8080
//	kvcli list                       --node localhost:8080
//	kvcli repl                       --node localhost:8080
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/kvmesh/kvmesh/internal/client"
)

var (
	nodeAddr string
	timeout  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "Command-line client for a kvmesh node",
	}

	root.PersistentFlags().StringVarP(&nodeAddr, "node", "n", "localhost:8080", "node address (host:port)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), listCmd(), joinCmd(), leaveCmd(), replCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			if err := c.Put(args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			val, err := c.Get(args[0])
			if err == client.ErrNotFound {
				fmt.Println("not found")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(val)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"del"},
		Short:   "Delete a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			if err := c.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keys held by the contacted node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			keys, err := c.ListKeys()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <ip> <port>",
		Short: "Tell the contacted node about a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[1], err)
			}
			c := client.New(nodeAddr, timeout)
			if err := c.Join(args[0], port); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func leaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <ip> <port>",
		Short: "Tell the contacted node to mark a peer inactive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[1], err)
			}
			c := client.New(nodeAddr, timeout)
			if err := c.Leave(args[0], port); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session against the contacted node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(client.New(nodeAddr, timeout))
		},
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kvcli_history")
}

func runREPL(c *client.Client) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("kvcli REPL — connected to %s. Type 'help' for commands.\n", nodeAddr)

	for {
		input, err := line.Prompt("kvcli> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nbye")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		cmd := strings.ToUpper(fields[0])
		args := fields[1:]

		switch cmd {
		case "QUIT", "EXIT", "Q":
			fmt.Println("bye")
			saveHistory(line)
			return nil

		case "HELP", "?":
			printREPLHelp()

		case "PUT":
			if len(args) < 2 {
				fmt.Println("usage: PUT <key> <value>")
				continue
			}
			if err := c.Put(args[0], strings.Join(args[1:], " ")); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("OK")

		case "GET":
			if len(args) != 1 {
				fmt.Println("usage: GET <key>")
				continue
			}
			val, err := c.Get(args[0])
			if err == client.ErrNotFound {
				fmt.Println("not found")
				continue
			}
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(val)

		case "DELETE", "DEL":
			if len(args) != 1 {
				fmt.Println("usage: DELETE <key>")
				continue
			}
			if err := c.Delete(args[0]); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("OK")

		case "LIST":
			keys, err := c.ListKeys()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, k := range keys {
				fmt.Println(k)
			}

		case "JOIN":
			if len(args) != 2 {
				fmt.Println("usage: JOIN <ip> <port>")
				continue
			}
			port, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Println("invalid port:", args[1])
				continue
			}
			if err := c.Join(args[0], port); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("OK")

		case "LEAVE":
			if len(args) != 2 {
				fmt.Println("usage: LEAVE <ip> <port>")
				continue
			}
			port, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Println("invalid port:", args[1])
				continue
			}
			if err := c.Leave(args[0], port); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("OK")

		default:
			fmt.Printf("unknown command: %s (type 'help' for commands)\n", fields[0])
		}
	}

	saveHistory(line)
	return nil
}

func saveHistory(line *liner.State) {
	path := historyFile()
	if path == "" {
		return
	}
	if f, err := os.Create(path); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}

func printREPLHelp() {
	fmt.Println(`commands:
  PUT <key> <value>
  GET <key>
  DELETE <key>
  LIST
  JOIN <ip> <port>
  LEAVE <ip> <port>
  HELP
  QUIT`)
}
