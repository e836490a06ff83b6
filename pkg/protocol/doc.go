// Package protocol implements the two NT4 wire encodings.
//
// NT4 multiplexes two message kinds over one WebSocket connection, classified
// by the transport message type and never by content sniffing:
//
//   - Control messages travel in text frames as a JSON array of
//     {method, params} records. The client sends publish, unpublish,
//     subscribe, and unsubscribe; the server sends announce, unannounce, and
//     properties. One frame may batch any number of records, and a malformed
//     record is skipped without aborting the rest of the batch.
//
//   - Value updates travel in binary frames as a MessagePack stream of
//     4-element arrays:
//
//     [topicId: int, timestampUs: int64, typeCode: int, value]
//
// # Type codes
//
//   - boolean=0, double=1, int=2, string=3, json=4
//   - raw=5 (also rpc, msgpack, protobuf — all opaque binary)
//   - boolean[]=16, double[]=17, int[]=18, float[]=19, string[]=20
//
// Declared type names the codec does not recognize fall back to raw.
//
// Values are represented by the closed Value variant: one field per type
// code, one decode path per code, no reflection over arbitrary payloads.
//
// Topic id -1 is reserved for clock-sync timestamp exchange in both
// directions; see the nt4 package.
package protocol
