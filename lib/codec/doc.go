// Package codec provides value serialization for the sKV stores. It defines a
// common interface and a JSON implementation for converting raw byte payloads
// to and from the canonical textual form that is written to the backing engine.
//
// The package focuses on:
//   - A deterministic, reversible encoding: a byte buffer round-trips exactly
//   - A documented textual envelope so persisted rows stay inspectable
//   - Strict decoding: any malformed stored payload is reported as an error
//     so the stores can treat the row as corrupt
//
// Key Components:
//
//   - IValueCodec: Core interface that all codec implementations must satisfy.
//
//   - jsonCodecImpl: JSON envelope implementation. Binary data is tagged and
//     base64-encoded ({"type":"bytes","data":"..."}), which keeps arbitrary
//     payloads safe inside a TEXT column while remaining human-inspectable.
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
package codec
