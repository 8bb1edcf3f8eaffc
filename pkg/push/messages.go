// Package push delivers finished LED frames to a strip driver or simulator.
//
// Frames travel over a client-streaming gRPC method, /glow.Ledstrip/Stream,
// encoded as CBOR. The server acknowledges the number of frames it received
// when the client closes the stream.
package push

// Service identifiers.
const (
	ServiceName  = "glow.Ledstrip"
	StreamMethod = "/" + ServiceName + "/Stream"

	// SessionHeader carries the client's session id in stream metadata.
	SessionHeader = "x-glow-session"
)

// FrameMessage is one pushed frame.
type FrameMessage struct {
	Session     string `cbor:"1,keyasint"`
	Seq         uint64 `cbor:"2,keyasint"`
	Coefficient uint16 `cbor:"3,keyasint"` // brightness coefficient
	Leds        []byte `cbor:"4,keyasint"` // 4 bytes per LED: red, green, blue, bright
}

// Ack closes a stream.
type Ack struct {
	Frames uint64 `cbor:"1,keyasint"`
}
