package domain

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	CommandPing        = "ping"
	CommandPong        = "pong"
	CommandAuth        = "auth"
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"

	FieldToken      = "data.token"
	FieldSessionID  = "data.sessionId"
	FieldRoutingKey = "routing_key"
)

// Frame is one inbound JSON command. The payload stays raw and fields are
// resolved lazily by dotted path.
type Frame struct {
	Cmd  string
	root gjson.Result
}

// Reply is the outbound shape of protocol responses such as pong.
type Reply struct {
	Cmd string `json:"cmd"`
}

// ParseFrame requires a JSON object carrying a string cmd field.
func ParseFrame(raw []byte) (Frame, error) {
	if !gjson.ValidBytes(raw) {
		return Frame{}, fmt.Errorf("%w: invalid json", ErrMalformedFrame)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Frame{}, fmt.Errorf("%w: expected object", ErrMalformedFrame)
	}
	cmd := member(root, "cmd")
	if cmd.Type != gjson.String {
		return Frame{}, fmt.Errorf("%w: missing cmd", ErrMalformedFrame)
	}
	return Frame{Cmd: cmd.String(), root: root}, nil
}

// String resolves a dotted path to a string field. Every intermediate segment must be an object.
func (f Frame) String(path string) (string, error) {
	segments := strings.Split(path, ".")
	cur := f.root
	for i, segment := range segments {
		if !cur.IsObject() {
			return "", invalidArgument(strings.Join(segments[:i], "."))
		}
		cur = member(cur, segment)
		if !cur.Exists() {
			return "", missingArgument(strings.Join(segments[:i+1], "."))
		}
	}
	if cur.Type != gjson.String {
		return "", invalidArgument(path)
	}
	return cur.String(), nil
}

// member returns the value of key in obj. When a key repeats, the last one wins,
// as with the JSON decoders clients are written against.
func member(obj gjson.Result, key string) gjson.Result {
	var found gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found = v
		}
		return true
	})
	return found
}
