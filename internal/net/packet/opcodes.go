package packet

import "fmt"

// Peer to server.
const (
	C_OPCODE_HELLO           byte = 1
	C_OPCODE_STREAM_REGISTER byte = 2
	C_OPCODE_STREAM_DELETE   byte = 3
	C_OPCODE_STREAM_DATA     byte = 4
	C_OPCODE_USER_ATTRIBUTES byte = 5
	C_OPCODE_QUIT            byte = 6
)

// Server to peer.
const (
	S_OPCODE_WELCOME         byte = 64
	S_OPCODE_REJECT          byte = 65
	S_OPCODE_STREAM_REGISTER byte = 66
	S_OPCODE_STREAM_DELETE   byte = 67
	S_OPCODE_STREAM_DATA     byte = 68
)

// ProtocolVersion is checked during the hello exchange.
const ProtocolVersion int32 = 3

var opcodeNames = map[byte]string{
	C_OPCODE_HELLO:           "C_HELLO",
	C_OPCODE_STREAM_REGISTER: "C_STREAM_REGISTER",
	C_OPCODE_STREAM_DELETE:   "C_STREAM_DELETE",
	C_OPCODE_STREAM_DATA:     "C_STREAM_DATA",
	C_OPCODE_USER_ATTRIBUTES: "C_USER_ATTRIBUTES",
	C_OPCODE_QUIT:            "C_QUIT",
	S_OPCODE_WELCOME:         "S_WELCOME",
	S_OPCODE_REJECT:          "S_REJECT",
	S_OPCODE_STREAM_REGISTER: "S_STREAM_REGISTER",
	S_OPCODE_STREAM_DELETE:   "S_STREAM_DELETE",
	S_OPCODE_STREAM_DATA:     "S_STREAM_DATA",
}

// OpcodeName returns the log name of an opcode.
func OpcodeName(op byte) string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("OP_%d", op)
}
