// Package transport exposes the engine over HTTP and WebSocket.
//
// Fetch-once calls use POST /api/query/{name} and POST
// /api/mutation/{name} with the JSON arguments as the request body.
// Live queries use GET /api/ws, which speaks a small JSON frame protocol:
//
//	-> {"id":"1","type":"subscribe","name":"messages:list","args":{...}}
//	<- {"id":"1","type":"result","observerId":"...","result":[...],"snapshot":12}
//	<- {"type":"update","observerId":"...","query":"messages:list","result":[...],"snapshot":14}
//	-> {"id":"2","type":"unsubscribe","observerId":"..."}
//
// "query" and "mutation" frames are answered with a single "result" or
// "error" frame carrying the same id.
//
// Identity comes from an HS256 bearer token (Authorization header, or the
// token query parameter for WebSocket handshakes). It is resolved to a
// user once per HTTP request and once per WebSocket connection.
package transport
