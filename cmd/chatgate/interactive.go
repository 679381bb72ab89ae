package main

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"

	"git.sr.ht/~jakintosh/chatgate/internal/config"
	"git.sr.ht/~jakintosh/chatgate/pkg/gateway"
)

// interactive reads messages from stdin until EOF or /quit. Lines starting
// with a slash are commands: /history, /whoami, /quit.
func (a *app) interactive(args []string) error {
	var changed atomic.Bool
	stop, err := config.Watch(a.opts.ConfigPath, func() { changed.Store(true) })
	if err != nil {
		log.Printf("not watching %s: %v\n", a.opts.ConfigPath, err)
	} else {
		defer stop()
	}

	sessionID := ""
	if len(args) > 0 {
		sessionID = args[0]
	} else {
		ctx, cancel := a.context()
		sessionID, err = a.chat.CreateSession(ctx, a.cfg.UserID)
		cancel()
		if err != nil {
			return err
		}
		a.printf("system: session created: %s\n", sessionID)
	}

	scanner := bufio.NewScanner(a.stdin)
	for {
		a.printf("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if changed.Swap(false) {
			if err := a.connect(); err != nil {
				a.printf("system: profile reload failed: %v\n", err)
			} else {
				a.printf("system: profile reloaded (%s)\n", a.cfg.Gateway)
			}
		}

		if line == "/quit" {
			return nil
		}
		if err := a.handleLine(sessionID, line); err != nil {
			a.printf("system: error: %v\n", describe(err))
		}
	}
	return scanner.Err()
}

func (a *app) handleLine(sessionID string, line string) error {
	ctx, cancel := a.context()
	defer cancel()

	switch line {
	case "/history":
		history, err := a.chat.History(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, m := range history {
			a.printf("%s: %s\n", m.Role, m.Content)
		}
		return nil

	case "/whoami":
		identity, err := a.chat.Identity()
		if err != nil {
			return err
		}
		a.printf("system: %s\n", identity)
		return nil
	}

	reply, err := a.chat.SendMessage(ctx, sessionID, line)
	if err != nil {
		return err
	}
	a.printf("assistant: %s\n", reply.Text())
	return nil
}

// describe adds a hint to errors a user can act on.
func describe(err error) string {
	var respErr *gateway.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusUnauthorized {
		return fmt.Sprintf("%v (session expired, run 'chatgate login')", err)
	}
	return err.Error()
}
