package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterh/liner"

	"github.com/kartikbazzad/docdb/cmd/docdbsh/parser"
	"github.com/kartikbazzad/docdb/cmd/docdbsh/shell"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:27117", "TCP address of the docdb server")
	flag.Parse()

	fmt.Printf("docdb shell\n")
	fmt.Printf("connecting to %s...\n", *addr)

	sh, err := shell.NewShell(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize shell: %v\n", err)
		os.Exit(1)
	}
	defer sh.Close()

	if err := sh.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("connected. type '.help' for commands.\n\n")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		sh.Close()
		os.Exit(0)
	}()

	for {
		input, err := line.Prompt(sh.Prompt())
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				fmt.Println()
				return
			}
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			continue
		}
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		sh.AddToHistory(input)

		cmd, err := parser.Parse(input)
		if err != nil {
			fmt.Fprintln(os.Stdout, "ERROR")
			fmt.Fprintln(os.Stdout, err.Error())
			fmt.Println()
			continue
		}

		result := sh.Execute(cmd)
		if result.IsExit() {
			return
		}
		result.Print(os.Stdout)
		fmt.Println()
	}
}
