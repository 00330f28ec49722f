package main

import (
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"github.com/dexxdean/lvc/internal/ipc"
)

const usage = `Usage: lvc-ctl [flags] <command> [arg]

Commands:
  trigger              force command capture without a wake phrase
  stop                 end the capture loop
  wake-add <phrase>    add a wake phrase
  wake-remove <phrase> remove a wake phrase
  threshold <value>    set the wake detection threshold
  history              print the command history
  history-clear        clear the command history
  status               print the daemon state
`

func main() {
	socket := cli.StringP("socket", "s", "", "Control socket path")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) < 1 {
		cli.Usage()
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: args[0]}
	if len(args) > 1 {
		msg.Arg = args[1]
	}

	resp, err := ipc.Send(*socket, msg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lvc daemon not running:", err)
		os.Exit(1)
	}

	if !resp.OK {
		fmt.Fprintln(os.Stderr, "error:", resp.Error)
		os.Exit(1)
	}

	if len(resp.Data) > 0 {
		var pretty any
		if err := json.Unmarshal(resp.Data, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return
		}
		fmt.Println(string(resp.Data))
	}
}
