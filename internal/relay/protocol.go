// Package relay carries the remote.Store contract over a websocket so that
// sessions in several processes can share one store.
//
// Every frame is a JSON text message. Clients send subscribe, unsubscribe and
// write; the server answers with snapshot, result and error. Subscriptions are
// correlated by the client-chosen sub id, writes by the req id.
package relay

import (
	"errors"
	"fmt"

	"mybrain/internal/remote"
)

type MsgType string

const (
	MsgSubscribe   MsgType = "subscribe"
	MsgUnsubscribe MsgType = "unsubscribe"
	MsgWrite       MsgType = "write"
	MsgSnapshot    MsgType = "snapshot"
	MsgResult      MsgType = "result"
	MsgError       MsgType = "error"
)

type Message struct {
	Type MsgType `json:"type"`
	Sub  string  `json:"sub,omitempty"`
	Req  string  `json:"req,omitempty"`

	Scope *remote.Scope `json:"scope,omitempty"`
	Query *remote.Query `json:"query,omitempty"`
	Write *remote.Write `json:"write,omitempty"`

	Collection remote.Collection `json:"collection,omitempty"`
	Docs       []remote.Doc      `json:"docs,omitempty"`
	Result     *remote.Result    `json:"result,omitempty"`

	Error string `json:"error,omitempty"`
	Code  Code   `json:"code,omitempty"`
}

// Code classifies an error frame so clients can restore sentinel errors.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeInvalidScope Code = "invalid_scope"
	CodeInvalidWrite Code = "invalid_write"
	CodeClosed       Code = "closed"
	CodeBadRequest   Code = "bad_request"
	CodeInternal     Code = "internal"
)

var codeSentinels = map[Code]error{
	CodeNotFound:     remote.ErrNotFound,
	CodeInvalidScope: remote.ErrInvalidScope,
	CodeInvalidWrite: remote.ErrInvalidWrite,
	CodeClosed:       remote.ErrClosed,
}

func codeFor(err error) Code {
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// RemoteError is an error reported by the relay server.
type RemoteError struct {
	Code    Code
	Message string
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("relay: %s (%s)", e.Message, e.Code)
}

// Unwrap maps known codes back to the remote package sentinels.
func (e RemoteError) Unwrap() error {
	return codeSentinels[e.Code]
}

func errorFrame(err error) Message {
	return Message{Type: MsgError, Error: err.Error(), Code: codeFor(err)}
}

func (m Message) err() error {
	code := m.Code
	if code == "" {
		code = CodeInternal
	}
	return RemoteError{Code: code, Message: m.Error}
}
