package broker

import (
	"strconv"
	"strings"
)

// Command names understood by the broker.
const (
	CmdSubmit  = "SUBMIT"
	CmdRequest = "REQUEST"
	CmdAck     = "ACK"
	CmdFail    = "FAIL"
	CmdQuit    = "QUIT"
)

// ReplyEmpty is sent for REQUEST when no job is ready.
const ReplyEmpty = "EMPTY"

// Command is one parsed protocol line.
type Command struct {
	Name string
	Arg  string
	Line string
}

// ParseCommand splits line at the first space into a command name and its argument.
// line comes from bufio.ScanLines, which has already dropped one "\r" before the newline;
// any other carriage return belongs to the argument.
func ParseCommand(line string) Command {
	name, arg, _ := strings.Cut(line, " ")
	return Command{Name: name, Arg: arg, Line: line}
}

// JobID parses the argument of ACK and FAIL.
func (c Command) JobID() (uint64, error) {
	id, err := strconv.ParseUint(c.Arg, 10, 64)
	if err != nil {
		return 0, &ProtocolError{Line: c.Line, Reason: "invalid " + c.Name + " id"}
	}
	return id, nil
}

// FormatJob renders the REQUEST reply for a leased job, newline included.
func FormatJob(id uint64, payload string) string {
	return strconv.FormatUint(id, 10) + " " + payload + "\n"
}
