package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"git.sr.ht/~jakintosh/chatgate/internal/config"
)

type command struct {
	requiresLogin bool
	run           func(a *app, args []string) error
}

var commands = map[string]command{
	"login":   {run: (*app).login},
	"logout":  {run: (*app).logout},
	"health":  {run: (*app).health},
	"whoami":  {requiresLogin: true, run: (*app).whoami},
	"session": {requiresLogin: true, run: (*app).session},
	"send":    {requiresLogin: true, run: (*app).send},
	"history": {requiresLogin: true, run: (*app).history},
	"chat":    {requiresLogin: true, run: (*app).interactive},
}

func (a *app) login(args []string) error {
	password, err := a.password()
	if err != nil {
		return err
	}

	ctx, cancel := a.context()
	defer cancel()

	if err := a.gw.Login(ctx, a.cfg.Username, password); err != nil {
		return err
	}
	identity, err := a.chat.Identity()
	if err != nil {
		return err
	}
	a.printf("logged in (%s)\n", identity)
	return nil
}

// password picks the login password: stdin when asked, then the flag, then
// the environment, then the default.
func (a *app) password() (string, error) {
	if a.opts.PasswordIn {
		line, err := bufio.NewReader(a.stdin).ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err != nil {
				return "", fmt.Errorf("read password from stdin: %w", err)
			}
			return "", errors.New("empty password on stdin")
		}
		return line, nil
	}
	if a.opts.Password != "" {
		return a.opts.Password, nil
	}
	if v, ok := os.LookupEnv(config.EnvPassword); ok && v != "" {
		return v, nil
	}
	return config.DefaultPassword, nil
}

func (a *app) logout(args []string) error {
	ctx, cancel := a.context()
	defer cancel()

	if err := a.gw.Logout(ctx); err != nil {
		return err
	}
	a.printf("logged out\n")
	return nil
}

func (a *app) health(args []string) error {
	ctx, cancel := a.context()
	defer cancel()

	text, err := a.chat.Health(ctx)
	if err != nil {
		return err
	}
	a.printf("%s\n", strings.TrimSpace(text))
	return nil
}

func (a *app) whoami(args []string) error {
	identity, err := a.chat.Identity()
	if err != nil {
		return err
	}
	a.printf("%s\n", identity)

	ctx, cancel := a.context()
	defer cancel()

	me, err := a.chat.Me(ctx)
	if err != nil {
		return err
	}
	a.printf("gateway: %s [%s]\n", me.Name, strings.Join(me.Authorities, ", "))
	return nil
}

func (a *app) session(args []string) error {
	ctx, cancel := a.context()
	defer cancel()

	id, err := a.chat.CreateSession(ctx, a.cfg.UserID)
	if err != nil {
		return err
	}
	a.printf("%s\n", id)
	return nil
}

func (a *app) send(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: chatgate send <session> <message>")
	}

	ctx, cancel := a.context()
	defer cancel()

	reply, err := a.chat.SendMessage(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	a.printf("%s\n", reply.Text())
	return nil
}

func (a *app) history(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: chatgate history <session>")
	}

	ctx, cancel := a.context()
	defer cancel()

	history, err := a.chat.History(ctx, args[0])
	if err != nil {
		return err
	}
	for _, m := range history {
		a.printf("%s: %s\n", m.Role, m.Content)
	}
	return nil
}
