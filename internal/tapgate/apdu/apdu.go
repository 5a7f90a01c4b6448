// Package apdu translates between raw contactless frames and the fixed
// command vocabulary the reader and credential exchange. Everything here
// is pure byte work; malformed input decodes to Unknown, never an error.
package apdu

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// Kind identifies one command in the closed vocabulary.
type Kind int

const (
	KindUnknown Kind = iota
	KindSelect
	KindGetData
	KindGrant
	KindDeny
)

// Command is a decoded frame. AID is set for KindSelect; Message for
// KindGrant and KindDeny.
type Command struct {
	Kind    Kind
	AID     []byte
	Message string
}

// Status trailers and response markers. Single source of truth for the
// wire constants.
var (
	trailerSuccess  = []byte{0x90, 0x00}
	trailerFailure  = []byte{0x6A, 0x82}
	responseUnknown = []byte{0x00, 0x00}
)

var headerSelect = []byte{0x00, 0xA4, 0x04, 0x00}
var headerGetData = []byte{0x00, 0xCA, 0x00, 0x00, 0x00}

// AIDLength is the fixed length of the application identifier.
const AIDLength = 7

// ErrIncompleteIdentity marks an identity payload missing either the
// CRED or USER field.
var ErrIncompleteIdentity = errors.New("incomplete identity payload")

// Decode classifies a raw frame. Buffers shorter than 4 bytes, and any
// byte sequence outside the vocabulary, decode to KindUnknown.
func Decode(buf []byte) Command {
	if len(buf) < 4 {
		return Command{Kind: KindUnknown}
	}

	if bytes.HasPrefix(buf, headerSelect) {
		// 00 A4 04 00 <len> <aid...>; tolerate a truncated AID by
		// returning whatever bytes are present — the endpoint compares
		// against its configured AID and will reject a short one.
		if len(buf) < 5 {
			return Command{Kind: KindSelect}
		}
		n := int(buf[4])
		aid := buf[5:]
		if n <= len(aid) {
			aid = aid[:n]
		}
		return Command{Kind: KindSelect, AID: aid}
	}

	if len(buf) >= 5 && bytes.Equal(buf[:5], headerGetData) {
		return Command{Kind: KindGetData}
	}

	if buf[0] == 0x00 && buf[1] == 0xAC && buf[3] == 0x00 {
		switch buf[2] {
		case 0x01:
			return Command{Kind: KindGrant, Message: string(buf[4:])}
		case 0x00:
			return Command{Kind: KindDeny, Message: string(buf[4:])}
		}
	}

	return Command{Kind: KindUnknown}
}

// EncodeSelect builds the select-application command for the given AID.
func EncodeSelect(aid []byte) []byte {
	out := make([]byte, 0, 5+len(aid))
	out = append(out, headerSelect...)
	out = append(out, byte(len(aid)))
	return append(out, aid...)
}

// EncodeGetData builds the get-data command.
func EncodeGetData() []byte {
	out := make([]byte, len(headerGetData))
	copy(out, headerGetData)
	return out
}

// EncodeResult builds the grant or deny command carrying a UTF-8 message
// for the credential holder.
func EncodeResult(granted bool, message string) []byte {
	p2 := byte(0x00)
	if granted {
		p2 = 0x01
	}
	out := make([]byte, 0, 4+len(message))
	out = append(out, 0x00, 0xAC, p2, 0x00)
	return append(out, message...)
}

// EncodeIdentity serializes an identity as the delimited text payload
// CRED:<id>|USER:<id> with the success trailer appended. Text framing is
// deliberate: a partial read fails parsing loudly instead of yielding a
// plausible-looking identity.
func EncodeIdentity(id types.Identity) []byte {
	payload := fmt.Sprintf("CRED:%d|USER:%d", id.CredentialID, id.HolderID)
	out := make([]byte, 0, len(payload)+2)
	out = append(out, payload...)
	return append(out, trailerSuccess...)
}

// ParseIdentity parses the text identity payload (trailer already
// stripped). Unknown keys are skipped; a payload missing CRED or USER
// returns ErrIncompleteIdentity.
func ParseIdentity(payload []byte) (types.Identity, error) {
	var (
		id      types.Identity
		gotCred bool
		gotUser bool
	)

	for _, field := range strings.Split(string(payload), "|") {
		key, val, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "CRED":
			id.CredentialID = n
			gotCred = true
		case "USER":
			id.HolderID = n
			gotUser = true
		}
	}

	if !gotCred || !gotUser {
		return types.Identity{}, ErrIncompleteIdentity
	}
	return id, nil
}

// EncodeStatus returns the two-byte success or failure trailer.
func EncodeStatus(ok bool) []byte {
	src := trailerFailure
	if ok {
		src = trailerSuccess
	}
	out := make([]byte, 2)
	copy(out, src)
	return out
}

// EncodeUnknown returns the response to an unrecognized command.
func EncodeUnknown() []byte {
	out := make([]byte, 2)
	copy(out, responseUnknown)
	return out
}

// HasSuccessTrailer reports whether resp ends with the success trailer.
func HasSuccessTrailer(resp []byte) bool {
	return len(resp) >= 2 && bytes.Equal(resp[len(resp)-2:], trailerSuccess)
}

// TrimTrailer strips the success trailer, returning the payload and
// whether the trailer was present.
func TrimTrailer(resp []byte) ([]byte, bool) {
	if !HasSuccessTrailer(resp) {
		return nil, false
	}
	return resp[:len(resp)-2], true
}
