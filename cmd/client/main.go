package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/voxlink/voxlink/internal/client"
	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/log"
)

func main() {
	var (
		configPath string
		serverAddr string
		name       string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "voxlink",
		Short: "Terminal client for the voxlink broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(logLevel)

			cfg, _, err := config.LoadClient(logger, configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.ServerAddr = serverAddr
			}

			c := client.New(cfg, silenceDevice{}, terminalSink{}, logger)
			if err := c.Connect(); err != nil {
				return err
			}

			if err := join(c, name); err != nil {
				return err
			}
			color.Green.Printf("connected to %s as %s\n", cfg.ServerAddr, c.Name())

			go repl(c)
			return c.Run()
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.Flags().StringVar(&serverAddr, "server", config.DefaultClient().ServerAddr, "broker address")
	root.Flags().StringVarP(&name, "name", "n", "", "username (prompted when empty)")
	root.Flags().StringVar(&logLevel, "log-level", config.DefaultClient().LogLevel, "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// join negotiates a username, prompting again while the name is taken.
func join(c *client.Client, name string) error {
	stdin := bufio.NewScanner(os.Stdin)
	for {
		if name == "" {
			fmt.Print("username: ")
			if !stdin.Scan() {
				return errors.New("no username provided")
			}
			name = strings.TrimSpace(stdin.Text())
			if name == "" {
				continue
			}
		}
		err := c.Join(name)
		if err == nil {
			return nil
		}
		if errors.Is(err, client.ErrUsernameTaken) {
			color.Red.Printf("username %s is taken, try another\n", name)
			name = ""
			continue
		}
		return err
	}
}

// repl reads commands from stdin until EOF or /quit.
func repl(c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			report(c.SendChat(line))
			continue
		}

		cmd, rest, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "w", "whisper":
			to, msg, ok := strings.Cut(rest, " ")
			if !ok {
				color.Red.Println("usage: /w <user> <message>")
				continue
			}
			report(c.SendWhisper(to, msg))
		case "call":
			report(c.Call(strings.TrimSpace(rest)))
		case "accept":
			report(c.Accept())
		case "decline":
			report(c.Decline())
		case "end":
			report(c.EndCall())
		case "conference":
			report(c.JoinConference())
		case "leave":
			report(c.LeaveConference())
		case "note":
			path, to, ok := strings.Cut(rest, " ")
			if !ok {
				color.Red.Println("usage: /note <file> <user>")
				continue
			}
			report(c.SendVoiceNote(path, strings.TrimSpace(to)))
		case "users":
			renderRoster(c.Roster())
		case "quit":
			report(c.Disconnect())
			return
		default:
			color.Red.Printf("unknown command /%s\n", cmd)
		}
	}
	_ = c.Disconnect()
}

func report(err error) {
	if err != nil {
		color.Red.Println(err)
	}
}
