package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/mrshabel/chronodb/internal/query"
	"github.com/mrshabel/chronodb/internal/wire"
)

func main() {
	port := flag.Int("p", 0, "server port on 127.0.0.1")
	debug := flag.Bool("d", false, "parser debug mode: echo the parsed AST, don't connect")
	flag.Parse()

	if *debug {
		runDebugRepl()
		return
	}

	if *port == 0 {
		fmt.Fprintln(os.Stderr, "raftcli: -p <port> is required")
		os.Exit(1)
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(*port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "raftcli: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	runRemoteRepl(conn)
}

func runRemoteRepl(conn net.Conn) {
	in := bufio.NewScanner(os.Stdin)
	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	fmt.Print("> ")
	for in.Scan() {
		line := in.Text()
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if err := wire.WriteRequest(w, line); err != nil {
			fmt.Fprintf(os.Stderr, "raftcli: %v\n", err)
			return
		}
		if err := w.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "raftcli: %v\n", err)
			return
		}
		resp, err := wire.ReadResponse(r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "raftcli: %v\n", err)
			return
		}
		printResponse(resp)
		fmt.Print("> ")
	}
}

func printResponse(resp wire.Response) {
	switch resp.Kind {
	case wire.KindString:
		fmt.Println(resp.Text)
	case wire.KindError:
		fmt.Fprintln(os.Stderr, "error:", resp.Text)
	case wire.KindRecords:
		for _, rec := range resp.Records {
			fmt.Printf("%d\t%g\n", rec.TimestampNS, rec.Value)
		}
	}
}

// runDebugRepl parses each line as a query and prints the resulting AST
// instead of sending it anywhere, per -d.
func runDebugRepl() {
	in := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for in.Scan() {
		line := in.Text()
		if line == "" {
			fmt.Print("> ")
			continue
		}
		stmt, err := query.Parse(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "parse error:", err)
		} else {
			fmt.Printf("%#v\n", stmt)
		}
		fmt.Print("> ")
	}
}
