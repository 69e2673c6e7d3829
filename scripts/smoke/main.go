package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/voxlink/voxlink/internal/proto"
	"github.com/voxlink/voxlink/internal/transport"
)

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:7000", "server address")
	user := flag.String("user", "smoke", "username to join with")
	text := flag.String("text", "hello from smoke test", "chat message to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	sess, err := transport.Dial(*addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer sess.Close()

	if err := sess.Send(*user); err != nil {
		return fmt.Errorf("send username: %w", err)
	}
	reply, err := sess.Receive()
	if err != nil {
		return fmt.Errorf("read negotiation reply: %w", err)
	}
	frame, err := proto.Parse(reply)
	if err != nil {
		return fmt.Errorf("parse negotiation reply: %w", err)
	}
	switch frame.Kind {
	case proto.KindUsernameOK:
		fmt.Printf("joined as %s\n", *user)
	case proto.KindUsernameTaken:
		return fmt.Errorf("username %q is taken", *user)
	default:
		return fmt.Errorf("unexpected negotiation reply %q", reply)
	}

	if err := sess.Send(proto.Chat(*text).Encode()); err != nil {
		return fmt.Errorf("send chat: %w", err)
	}

	deadline := time.After(*timeout)
	echo := make(chan error, 1)
	go func() {
		for {
			line, err := sess.Receive()
			if err != nil {
				echo <- fmt.Errorf("read: %w", err)
				return
			}
			f, err := proto.Parse(line)
			if err != nil {
				fmt.Printf("raw line: %q\n", line)
				continue
			}
			switch f.Kind {
			case proto.KindChat:
				fmt.Printf("chat: %s\n", f.Text)
				echo <- nil
				return
			case proto.KindOnlineUser:
				fmt.Printf("online: %s\n", f.Name)
			case proto.KindClientJoin:
				fmt.Printf("joined: %s\n", f.Name)
			case proto.KindClientLeft:
				fmt.Printf("left: %s\n", f.Name)
			default:
				fmt.Printf("frame: kind=%d\n", f.Kind)
			}
		}
	}()

	select {
	case err := <-echo:
		if err != nil {
			return err
		}
	case <-deadline:
		return fmt.Errorf("no chat echo within %s", *timeout)
	}

	if err := sess.Send(proto.Disconnect().Encode()); err != nil {
		return fmt.Errorf("send disconnect: %w", err)
	}
	fmt.Println("smoke test passed")
	return nil
}
