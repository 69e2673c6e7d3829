package main

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// terminalSink renders engine events for the terminal frontend.
type terminalSink struct{}

func (terminalSink) Message(text string) {
	fmt.Println(text)
}

func (terminalSink) RosterChanged(users []string) {
	if len(users) == 0 {
		color.Cyan.Println("nobody else is online")
		return
	}
	renderRoster(users)
}

func (terminalSink) WhisperReceived(from, msg string) {
	color.Magenta.Printf("[whisper] %s: %s\n", from, msg)
}

func (terminalSink) WhisperSent(to, msg string) {
	color.Magenta.Printf("[whisper to %s] %s\n", to, msg)
}

func (terminalSink) CallPrompt(from string) {
	color.Yellow.Printf("incoming call from %s: /accept or /decline\n", from)
}

func (terminalSink) CallDeclined(peer string) {
	color.Cyan.Printf("%s declined your call\n", peer)
}

func (terminalSink) PeerUnavailable(peer string) {
	color.Cyan.Printf("%s is not available\n", peer)
}

func (terminalSink) CallEnded(peer string) {
	color.Cyan.Printf("call ended with %s\n", peer)
}

func (terminalSink) VoiceNoteReceived(path string) {
	color.Green.Printf("voice note saved to %s\n", path)
}

func (terminalSink) Error(msg string) {
	color.Red.Println(msg)
}

func renderRoster(users []string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"online users"})
	for _, user := range users {
		table.Append([]string{user})
	}
	table.Render()
}
