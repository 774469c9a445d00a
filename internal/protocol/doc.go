// Package protocol defines the client/daemon message taxonomy and the
// length-prefixed MessagePack frame codec used on the control socket.
//
// Every frame is a 4-byte little-endian payload length followed by one
// MessagePack value. Messages are externally tagged: variants without a
// payload encode as a bare tag string, variants with a payload encode as a
// single-entry map of tag to payload. Both directions of the protocol are
// closed sets, so dispatch over them is an exhaustive type switch.
//
// Keep wire types here free of daemon internals; the dictation package
// converts between registry models and these DTOs.
package protocol
