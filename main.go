package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"molva/internal/config"
	"molva/internal/logger"
	"molva/internal/session"
)

func run(ctx context.Context) error {
	email := flag.String("email", "", "Account email (prompted when empty)")
	password := flag.String("password", "", "Account password (prompted when empty)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	sess, err := session.New(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer sess.Close()

	in := bufio.NewScanner(os.Stdin)
	if *email == "" {
		*email = prompt(in, "email: ")
	}
	if *password == "" {
		*password = prompt(in, "password: ")
	}

	if err := sess.Login(ctx, *email, *password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer sess.Logout(context.Background())

	user := sess.Store().CurrentUser()
	fmt.Printf("signed in as %s\n", user.DisplayLabel())
	printHelp()

	for {
		fmt.Print("> ")
		if !in.Scan() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")

		switch cmd {
		case "chats":
			listChats(sess)
		case "open":
			if err := sess.OpenChat(ctx, arg); err != nil {
				fmt.Println("error:", err)
				continue
			}
			printMessages(sess)
		case "send":
			if err := sess.Send(ctx, arg); err != nil {
				fmt.Println("error:", err)
			}
		case "users":
			listUsers(ctx, sess)
		case "new":
			chat, err := sess.CreateChat(ctx, arg)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("chat %s with %s\n", chat.ID, chat.DisplayName())
		case "help":
			printHelp()
		case "quit", "exit":
			return nil
		default:
			fmt.Println("unknown command, try: help")
		}
	}
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func printHelp() {
	fmt.Println("commands: chats | open <chat-id> | send <text> | users | new <user-id> | quit")
}

func listChats(sess *session.Session) {
	for _, chat := range sess.Store().Chats() {
		marker := " "
		if chat.Interlocutor != nil && chat.Interlocutor.IsOnline {
			marker = "*"
		}
		fmt.Printf("%s %s  %-20s unread=%d  %s\n",
			marker, chat.ID, chat.DisplayName(), chat.UnreadCount, chat.LastMessageText)
	}
}

func printMessages(sess *session.Session) {
	chat := sess.Store().ActiveChat()
	if chat == nil {
		return
	}
	for _, m := range sess.Store().Messages(chat.ID) {
		status := ""
		switch {
		case m.IsPending():
			status = " (sending)"
		case m.IsFailed():
			status = " (failed)"
		}
		fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format("15:04:05"), m.UserID, m.Text, status)
	}
}

func listUsers(ctx context.Context, sess *session.Session) {
	users, err := sess.Users().List(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	me := sess.Store().CurrentUser()
	for _, u := range users {
		if me != nil && u.ID == me.ID {
			continue
		}
		fmt.Printf("%s  %s\n", u.ID, u.DisplayLabel())
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
